package logbuffer

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestWriterCapturesZerologEntries(t *testing.T) {
	buf := New(10)
	logger := zerolog.New(NewWriter(buf)).With().Timestamp().Logger()

	logger.Info().Str("component", "secondary").Str("track_id", "block-2").Msg("secondary stream ready")
	logger.Warn().Str("component", "syncloop").Msg("drift reseek")
	logger.Debug().Str("component", "player").Str("target_id", "blocks-session").Msg("select")

	if buf.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", buf.Len())
	}

	got := buf.Query(QueryParams{Component: "secondary"})
	if len(got) != 1 || got[0].Message != "secondary stream ready" {
		t.Fatalf("component filter = %+v", got)
	}

	got = buf.Query(QueryParams{TrackID: "blocks-session"})
	if len(got) != 1 || got[0].Component != "player" {
		t.Fatalf("track filter = %+v", got)
	}

	got = buf.Query(QueryParams{Limit: 2})
	if len(got) != 2 || got[0].Message != "select" {
		t.Fatalf("expected newest first, got %+v", got)
	}
}

func TestBufferWrapsAtCapacity(t *testing.T) {
	buf := New(2)
	for _, msg := range []string{"one", "two", "three"} {
		buf.Add(LogEntry{Message: msg})
	}

	got := buf.Query(QueryParams{})
	if len(got) != 2 || got[0].Message != "three" || got[1].Message != "two" {
		t.Fatalf("unexpected entries after wrap: %+v", got)
	}
}
