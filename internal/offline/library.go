/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package offline manages downloaded copies of tracks under the media root.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/tandem/internal/models"
	"github.com/friendsincode/tandem/internal/telemetry"
)

// Bundled is returned by Download for sources that are already on the device
// (bundled assets, local files, loopback URLs) and need no copy.
const Bundled = "bundled"

// ErrDownloadFailed indicates the source could not be fetched.
var ErrDownloadFailed = errors.New("download failed")

// Resolver finds a verified local copy of a track.
type Resolver interface {
	// VerifyLocalFile returns a file:// URL for the downloaded copy of id,
	// or false when there is none.
	VerifyLocalFile(ctx context.Context, id string) (string, bool)
}

// ObjectFetcher reads s3:// objects.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Library stores downloads as <root>/<id>.mp3.
type Library struct {
	root    string
	client  *http.Client
	objects ObjectFetcher
	logger  zerolog.Logger
}

// NewLibrary creates a library rooted at root. objects may be nil.
func NewLibrary(root string, objects ObjectFetcher, logger zerolog.Logger) *Library {
	return &Library{
		root:    root,
		client:  &http.Client{Timeout: 10 * time.Minute},
		objects: objects,
		logger:  logger.With().Str("component", "offline").Logger(),
	}
}

// LocalPath returns where the download for id lives.
func (l *Library) LocalPath(id string) string {
	return filepath.Join(l.root, id+".mp3")
}

// Exists reports whether a download for id is on disk.
func (l *Library) Exists(id string) bool {
	info, err := os.Stat(l.LocalPath(id))
	return err == nil && info.Mode().IsRegular()
}

// VerifyLocalFile implements Resolver.
func (l *Library) VerifyLocalFile(_ context.Context, id string) (string, bool) {
	if !l.Exists(id) {
		return "", false
	}
	abs, err := filepath.Abs(l.LocalPath(id))
	if err != nil {
		l.logger.Debug().Err(err).Str("track_id", id).Msg("resolve local path")
		return "", false
	}
	return "file://" + filepath.ToSlash(abs), true
}

// Download copies the source for id to the library. It returns the local path,
// or Bundled when the source is already local.
func (l *Library) Download(ctx context.Context, id, source string) (string, error) {
	local := l.LocalPath(id)
	if l.Exists(id) {
		l.logger.Debug().Str("track_id", id).Msg("already downloaded")
		telemetry.DownloadsTotal.WithLabelValues("existing").Inc()
		return local, nil
	}

	var (
		body io.ReadCloser
		err  error
	)
	switch {
	case strings.HasPrefix(source, "s3://"):
		body, err = l.fetchObject(ctx, source)
	case IsRemoteURL(source):
		body, err = l.fetchHTTP(ctx, source)
	default:
		l.logger.Debug().Str("track_id", id).Msg("bundled source, nothing to download")
		telemetry.DownloadsTotal.WithLabelValues("bundled").Inc()
		return Bundled, nil
	}
	if err != nil {
		telemetry.DownloadsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: %s: %w", ErrDownloadFailed, id, err)
	}
	defer body.Close()

	if err := l.writeAtomic(local, body); err != nil {
		telemetry.DownloadsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: %s: %w", ErrDownloadFailed, id, err)
	}

	telemetry.DownloadsTotal.WithLabelValues("downloaded").Inc()
	l.logger.Info().Str("track_id", id).Str("path", local).Msg("download complete")
	return local, nil
}

// DownloadTarget downloads a track, or every block of a session. The result
// maps each id to its local path or Bundled.
func (l *Library) DownloadTarget(ctx context.Context, target models.Track) (_ map[string]string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "offline.download", attribute.String("target_id", target.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	parts := []models.Track{target}
	if target.IsComposite() {
		parts = target.Blocks
	}

	results := make(map[string]string, len(parts))
	for _, t := range parts {
		p, err := l.Download(ctx, t.ID, t.Source)
		if err != nil {
			return results, err
		}
		results[t.ID] = p
	}
	return results, nil
}

// Delete removes the download for id. It reports whether a file was removed.
func (l *Library) Delete(id string) (bool, error) {
	err := os.Remove(l.LocalPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	l.logger.Info().Str("track_id", id).Msg("deleted local file")
	return true, nil
}

// DeleteTarget removes the downloads for a track or every block of a session.
func (l *Library) DeleteTarget(target models.Track) error {
	parts := []models.Track{target}
	if target.IsComposite() {
		parts = target.Blocks
	}
	for _, t := range parts {
		if _, err := l.Delete(t.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Library) fetchHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (l *Library) fetchObject(ctx context.Context, source string) (io.ReadCloser, error) {
	if l.objects == nil {
		return nil, errors.New("s3 sources are not configured")
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, err
	}
	return l.objects.Fetch(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
}

// writeAtomic writes into a temp file next to dst and renames it into place,
// so a partial download never looks complete.
func (l *Library) writeAtomic(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(dst), ".partial-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// IsRemoteURL reports whether source is an http(s) URL off this machine.
// Loopback hosts serve bundled assets and do not count as remote.
func IsRemoteURL(source string) bool {
	lower := strings.ToLower(source)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(lower)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return false
	}
	return true
}
