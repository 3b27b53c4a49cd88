package catalog

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/tandem/internal/models"
)

func blocksSession() models.Track {
	durations := []int{150, 120, 150, 120, 90}
	ids := []string{"block-2", "block-3", "block-6", "block-9", "block-10"}
	session := models.Track{
		ID:        "blocks-session",
		Title:     "Blocks Meditation",
		Duration:  999, // stated duration is ignored
		Composite: true,
	}
	for i, d := range durations {
		session.Blocks = append(session.Blocks, models.Track{
			ID:       ids[i],
			Title:    ids[i],
			Duration: d,
			Source:   "asset://audio/" + ids[i] + ".mp3",
			Type:     models.TrackTypeMP3,
		})
	}
	return session
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New([]models.Track{
		blocksSession(),
		{ID: "1", Title: "Morning Calm", Duration: 420, Source: "https://example.com/1.mp3"},
		{ID: "2", Title: "Deep Breathing", Duration: 480, Source: "https://example.com/2.mp3", Type: models.TrackTypeRealtime},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestResolve_BlockResolvesToSession(t *testing.T) {
	c := testCatalog(t)

	for _, session := range c.Tracks() {
		for _, b := range session.Blocks {
			got, err := c.Resolve(b.ID)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", b.ID, err)
			}
			if got.ID != session.ID {
				t.Errorf("Resolve(%q) = %q, want owning session %q", b.ID, got.ID, session.ID)
			}
			if !got.IsComposite() {
				t.Errorf("Resolve(%q) returned a non-composite target", b.ID)
			}
		}
	}
}

func TestResolve_PlainTrackAndMissing(t *testing.T) {
	c := testCatalog(t)

	got, err := c.Resolve("2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != "2" || got.Type != models.TrackTypeRealtime {
		t.Fatalf("got %+v, want track 2 with its type tag", got)
	}

	if _, err := c.Resolve("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveTarget_FallsBackToRawTrack(t *testing.T) {
	c := testCatalog(t)

	raw := models.Track{ID: "unlisted", Duration: 30}
	if got := c.ResolveTarget(raw); got.ID != "unlisted" {
		t.Fatalf("expected raw track fallback, got %q", got.ID)
	}

	block, ok := c.Lookup("block-6")
	if !ok {
		t.Fatal("expected block-6 lookup to succeed")
	}
	if got := c.ResolveTarget(block); got.ID != "blocks-session" {
		t.Fatalf("expected block to resolve to session, got %q", got.ID)
	}
}

func TestNew_SessionDurationIsDerived(t *testing.T) {
	c := testCatalog(t)
	session, err := c.Resolve("blocks-session")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if session.Duration != 630 {
		t.Fatalf("session duration = %d, want 630", session.Duration)
	}
	if got := TotalDuration(session); got != 630 {
		t.Fatalf("TotalDuration = %d, want 630", got)
	}
	for i, b := range session.Blocks {
		if b.SessionID == nil || *b.SessionID != session.ID {
			t.Errorf("block %d missing session id", i)
		}
		if b.Position != i {
			t.Errorf("block %d position = %d", i, b.Position)
		}
	}
}

func TestNew_RejectsInvalidCatalogs(t *testing.T) {
	session := blocksSession()

	collidingBlock := blocksSession()
	collidingBlock.Blocks[1].ID = "1"

	nested := blocksSession()
	nested.Blocks[0].Composite = true
	nested.Blocks[0].Blocks = []models.Track{{ID: "deep", Duration: 1}}

	tests := []struct {
		name   string
		tracks []models.Track
		want   error
	}{
		{"duplicate top-level", []models.Track{{ID: "a"}, {ID: "a"}}, ErrDuplicateID},
		{"block collides with track", []models.Track{{ID: "1"}, collidingBlock}, ErrDuplicateID},
		{"block reused across sessions", []models.Track{session, {ID: "other", Composite: true, Blocks: []models.Track{{ID: "block-2"}}}}, ErrDuplicateID},
		{"empty session", []models.Track{{ID: "s", Composite: true}}, ErrEmptySession},
		{"nested session", []models.Track{nested}, ErrNestedSession},
		{"negative duration", []models.Track{{ID: "x", Duration: -1}}, ErrInvalidTrack},
		{"empty id", []models.Track{{ID: ""}}, ErrInvalidTrack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tracks)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIsActive(t *testing.T) {
	c := testCatalog(t)
	session, _ := c.Resolve("blocks-session")
	plain, _ := c.Resolve("1")

	tests := []struct {
		name    string
		target  models.Track
		current string
		want    bool
	}{
		{"same plain track", plain, "1", true},
		{"different plain track", plain, "2", false},
		{"session by block id", session, "block-9", true},
		{"session by own id", session, "blocks-session", true},
		{"session with foreign id", session, "1", false},
		{"nothing playing", session, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsActive(tt.target, tt.current); got != tt.want {
				t.Errorf("IsActive(%q, %q) = %v, want %v", tt.target.ID, tt.current, got, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	c, err := LoadFile("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 top-level tracks, got %d", c.Len())
	}
	session, err := c.Resolve("block-10")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if TotalDuration(session) != 630 {
		t.Fatalf("TotalDuration = %d, want 630", TotalDuration(session))
	}

	data, err := Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if again.Len() != c.Len() {
		t.Fatalf("re-parsed catalog has %d tracks, want %d", again.Len(), c.Len())
	}
}

func TestRepository_ReplaceAndLoad(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Track{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	repo := NewRepository(db)
	ctx := context.Background()
	if err := repo.Replace(ctx, testCatalog(t)); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	loaded, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("loaded %d tracks, want 3", loaded.Len())
	}
	session, err := loaded.Resolve("block-3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(session.Blocks) != 5 || session.Blocks[0].ID != "block-2" || session.Blocks[4].ID != "block-10" {
		t.Fatalf("blocks not loaded in order: %+v", session.Blocks)
	}
}
