/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio decodes track sources and plays them through beep: the queue
// engine that carries the primary output and the pannable secondary streams.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// ErrUnsupportedSource indicates a source scheme or format the loader cannot read.
var ErrUnsupportedSource = errors.New("unsupported audio source")

// ObjectFetcher reads s3:// objects.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Loader resolves a source reference to a seekable decoder. Sources may be
// local paths, file:// URLs, http(s) URLs, asset:// references relative to
// AssetRoot, or s3://bucket/key objects.
type Loader struct {
	AssetRoot string
	Client    *http.Client
	Objects   ObjectFetcher // nil disables s3:// sources
}

// NewLoader creates a loader with a default HTTP client.
func NewLoader(assetRoot string, objects ObjectFetcher) *Loader {
	return &Loader{
		AssetRoot: assetRoot,
		Client:    &http.Client{Timeout: 60 * time.Second},
		Objects:   objects,
	}
}

// Decode opens and decodes source. The caller owns the returned decoder.
func (l *Loader) Decode(ctx context.Context, source string) (beep.StreamSeekCloser, beep.Format, error) {
	rc, name, err := l.open(ctx, source)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".wav":
		s, format, err = wav.Decode(rc)
	case ".mp3", "":
		s, format, err = mp3.Decode(rc)
	default:
		_ = rc.Close()
		return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedSource, name)
	}
	if err != nil {
		_ = rc.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", source, err)
	}
	return s, format, nil
}

func (l *Loader) open(ctx context.Context, source string) (io.ReadCloser, string, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // bare path or Windows drive letter
		f, err := os.Open(source)
		return f, source, err
	}

	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		return f, u.Path, err
	case "asset":
		rel := filepath.FromSlash(strings.TrimPrefix(u.Host+u.Path, "/"))
		full := filepath.Join(l.AssetRoot, rel)
		f, err := os.Open(full)
		return f, full, err
	case "http", "https":
		data, err := l.fetchHTTP(ctx, source)
		if err != nil {
			return nil, "", err
		}
		return newMemoryFile(data), u.Path, nil
	case "s3":
		if l.Objects == nil {
			return nil, "", fmt.Errorf("%w: s3 sources are not configured", ErrUnsupportedSource)
		}
		rc, err := l.Objects.Fetch(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", fmt.Errorf("read s3 object: %w", err)
		}
		return newMemoryFile(data), u.Path, nil
	default:
		return nil, "", fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, u.Scheme)
	}
}

func (l *Loader) fetchHTTP(ctx context.Context, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", source, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return data, nil
}

// memoryFile keeps fetched audio seekable for the decoders.
type memoryFile struct {
	*bytes.Reader
}

func newMemoryFile(data []byte) *memoryFile {
	return &memoryFile{Reader: bytes.NewReader(data)}
}

func (memoryFile) Close() error { return nil }
