package history

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.ListeningState{}, &models.LibraryEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, nil, nil, "", zerolog.Nop()), db
}

func TestSetTrackHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh selection pushes last to previous", func(t *testing.T) {
		svc, _ := newTestService(t)
		mustSet(t, svc, "a", false)
		mustPosition(t, svc, "a", 42)
		mustSet(t, svc, "b", false)

		snap := mustGet(t, svc)
		if snap.LastTrackID != "b" || snap.LastPosition != 0 {
			t.Fatalf("last = %s@%v, want b@0", snap.LastTrackID, snap.LastPosition)
		}
		if snap.PreviousTrackID != "a" || snap.PreviousPosition != 42 {
			t.Fatalf("previous = %s@%v, want a@42", snap.PreviousTrackID, snap.PreviousPosition)
		}
		if snap.ContinuingCurrent {
			t.Fatal("fresh selection should not be continuing")
		}
	})

	t.Run("continuing previous swaps back", func(t *testing.T) {
		svc, _ := newTestService(t)
		mustSet(t, svc, "a", false)
		mustPosition(t, svc, "a", 42)
		mustSet(t, svc, "b", false)
		mustPosition(t, svc, "b", 7)
		mustSet(t, svc, "a", true)

		snap := mustGet(t, svc)
		if snap.LastTrackID != "a" || snap.LastPosition != 42 {
			t.Fatalf("last = %s@%v, want a@42", snap.LastTrackID, snap.LastPosition)
		}
		if snap.PreviousTrackID != "b" || snap.PreviousPosition != 7 {
			t.Fatalf("previous = %s@%v, want b@7", snap.PreviousTrackID, snap.PreviousPosition)
		}
		if !snap.ContinuingCurrent {
			t.Fatal("expected continuing flag")
		}
	})

	t.Run("same track only marks continuing", func(t *testing.T) {
		svc, _ := newTestService(t)
		mustSet(t, svc, "a", false)
		mustPosition(t, svc, "a", 30)
		mustSet(t, svc, "a", true)

		snap := mustGet(t, svc)
		if snap.LastTrackID != "a" || snap.LastPosition != 30 || snap.PreviousTrackID != "" {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
		if !snap.ContinuingCurrent {
			t.Fatal("expected continuing flag")
		}
	})

	t.Run("fresh selection resets pan", func(t *testing.T) {
		svc, _ := newTestService(t)
		mustSet(t, svc, "a", false)
		if err := svc.SetPan(ctx, 0.8); err != nil {
			t.Fatalf("SetPan: %v", err)
		}
		mustSet(t, svc, "b", true)
		if snap := mustGet(t, svc); snap.PanValue != 0.8 {
			t.Fatalf("continuing selection changed pan to %v", snap.PanValue)
		}
		mustSet(t, svc, "c", false)
		if snap := mustGet(t, svc); snap.PanValue != 0 {
			t.Fatalf("fresh selection kept pan %v", snap.PanValue)
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		if err := svc.SetTrackHistory(ctx, "", false); err == nil {
			t.Fatal("expected error for empty id")
		}
	})
}

func TestUpdatePositionIgnoresOtherTracks(t *testing.T) {
	svc, _ := newTestService(t)
	mustSet(t, svc, "a", false)
	mustPosition(t, svc, "a", 12)
	mustPosition(t, svc, "zzz", 99)

	if snap := mustGet(t, svc); snap.LastPosition != 12 {
		t.Fatalf("last position = %v, want 12", snap.LastPosition)
	}
}

func TestUpdatePositionWritesThroughWithoutCache(t *testing.T) {
	svc, db := newTestService(t)
	mustSet(t, svc, "a", false)
	svc.SetFlushInterval(time.Hour)
	mustPosition(t, svc, "a", 5)

	var st models.ListeningState
	if err := db.First(&st, "profile_id = ?", models.DefaultProfileID).Error; err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.LastPosition != 5 {
		t.Fatalf("stored position = %v, want 5", st.LastPosition)
	}
	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush with nothing pending: %v", err)
	}
}

func TestClearHistory(t *testing.T) {
	svc, _ := newTestService(t)
	mustSet(t, svc, "a", false)
	mustSet(t, svc, "b", false)
	if err := svc.ClearHistory(context.Background()); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	snap := mustGet(t, svc)
	if snap.LastTrackID != "" || snap.PreviousTrackID != "" || snap.LastPosition != 0 {
		t.Fatalf("history not cleared: %+v", snap)
	}
}

func TestLibraryToggles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		on, err := svc.ToggleSaved(ctx, id)
		if err != nil || !on {
			t.Fatalf("ToggleSaved(%s) = %v, %v", id, on, err)
		}
	}
	on, err := svc.ToggleSaved(ctx, "2")
	if err != nil || on {
		t.Fatalf("second ToggleSaved(2) = %v, %v; want false", on, err)
	}

	if err := svc.SetOffline(ctx, "3", true); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}
	if err := svc.SetOffline(ctx, "3", true); err != nil {
		t.Fatalf("SetOffline again: %v", err)
	}
	if on, err := svc.ToggleOffline(ctx, "4"); err != nil || !on {
		t.Fatalf("ToggleOffline(4) = %v, %v", on, err)
	}

	snap := mustGet(t, svc)
	if got := sorted(snap.Saved); !equal(got, []string{"1", "3"}) {
		t.Fatalf("saved = %v", got)
	}
	if got := sorted(snap.Offline); !equal(got, []string{"3", "4"}) {
		t.Fatalf("offline = %v", got)
	}

	if err := svc.SetOffline(ctx, "3", false); err != nil {
		t.Fatalf("SetOffline false: %v", err)
	}
	if got := mustGet(t, svc).Offline; !equal(got, []string{"4"}) {
		t.Fatalf("offline after removal = %v", got)
	}
}

func TestRepeatAndPan(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	on, err := svc.ToggleRepeat(ctx)
	if err != nil || !on {
		t.Fatalf("ToggleRepeat = %v, %v", on, err)
	}
	if err := svc.SetPan(ctx, 3); err != nil {
		t.Fatalf("SetPan: %v", err)
	}
	snap := mustGet(t, svc)
	if !snap.RepeatOne || snap.PanValue != 1 {
		t.Fatalf("repeat=%v pan=%v, want true and clamped 1", snap.RepeatOne, snap.PanValue)
	}
	if on, _ := svc.ToggleRepeat(ctx); on {
		t.Fatal("second toggle should turn repeat off")
	}
}

func TestResumePosition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	session := models.Track{ID: "s", Composite: true, Blocks: []models.Track{
		{ID: "s1", Duration: 60}, {ID: "s2", Duration: 60},
	}}

	mustSet(t, svc, "s", false)
	mustPosition(t, svc, "s", 500)

	got, ok, err := svc.ResumePosition(ctx, session)
	if err != nil || !ok {
		t.Fatalf("ResumePosition = %v, %v, %v", got, ok, err)
	}
	if got != 120 {
		t.Fatalf("resume = %v, want clamped 120", got)
	}
	if _, ok, _ := svc.ResumePosition(ctx, models.Track{ID: "other", Duration: 10}); ok {
		t.Fatal("expected no resume position for unknown target")
	}
}

func TestChangesArePublished(t *testing.T) {
	svc, _ := newTestService(t)
	bus := events.NewBus()
	svc.bus = bus
	sub := bus.Subscribe(events.EventHistoryUpdated)
	defer bus.Unsubscribe(events.EventHistoryUpdated, sub)

	mustSet(t, svc, "a", false)

	select {
	case payload := <-sub:
		if payload["profile_id"] != models.DefaultProfileID {
			t.Fatalf("payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no history event published")
	}
}

func mustSet(t *testing.T, svc *Service, id string, continuing bool) {
	t.Helper()
	if err := svc.SetTrackHistory(context.Background(), id, continuing); err != nil {
		t.Fatalf("SetTrackHistory(%s): %v", id, err)
	}
}

func mustPosition(t *testing.T, svc *Service, id string, pos float64) {
	t.Helper()
	if err := svc.UpdatePosition(context.Background(), id, pos); err != nil {
		t.Fatalf("UpdatePosition(%s): %v", id, err)
	}
}

func mustGet(t *testing.T, svc *Service) Snapshot {
	t.Helper()
	snap, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return snap
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
