package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/webthing-core/internal/infrastructure/database"
	"github.com/nerrad567/webthing-core/internal/thing"
	"github.com/nerrad567/webthing-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func record(id string, status thing.ActionStatus, requested time.Time) thing.ActionRecord {
	rec := thing.ActionRecord{
		ID:            id,
		ThingID:       "lamp",
		Name:          "fade",
		Input:         map[string]any{"brightness": float64(50), "duration": float64(10)},
		Status:        status,
		Href:          "/things/lamp/actions/fade/" + id,
		TimeRequested: requested,
	}
	if status.Terminal() {
		done := requested.Add(time.Second)
		rec.TimeCompleted = &done
	}
	return rec
}

func TestRecordLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	requested := time.Date(2026, 3, 1, 10, 4, 5, 123456789, time.UTC)

	for _, status := range []thing.ActionStatus{thing.StatusCreated, thing.StatusPending, thing.StatusCompleted} {
		if err := repo.Record(ctx, record("a1", status, requested)); err != nil {
			t.Fatalf("Record(%s) error = %v", status, err)
		}
	}

	got, err := repo.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if !got.TimeRequested.Equal(requested) {
		t.Errorf("TimeRequested = %v, want %v", got.TimeRequested, requested)
	}
	if got.TimeCompleted == nil || !got.TimeCompleted.Equal(requested.Add(time.Second)) {
		t.Errorf("TimeCompleted = %v", got.TimeCompleted)
	}
	if got.Input["brightness"] != float64(50) {
		t.Errorf("Input = %v", got.Input)
	}
}

func TestRecordTerminalIsFinal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	failed := record("a1", thing.StatusError, now)
	failed.Error = "thing: cancelled"
	_ = repo.Record(ctx, failed)
	_ = repo.Record(ctx, record("a1", thing.StatusPending, now))

	got, err := repo.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != "error" || got.Error != "thing: cancelled" {
		t.Errorf("entry = %+v, want error status kept", got)
	}
}

func TestGetNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		status := thing.StatusCompleted
		if i%2 == 1 {
			status = thing.StatusError
		}
		rec := record(fmt.Sprintf("a%d", i), status, base.Add(time.Duration(i)*time.Millisecond))
		if err := repo.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	other := record("b0", thing.StatusPending, base)
	other.ThingID = "sensor"
	_ = repo.Record(ctx, other)

	tests := []struct {
		name    string
		filter  Filter
		total   int
		firstID string
		count   int
	}{
		{"all for lamp", Filter{ThingID: "lamp"}, 5, "a4", 5},
		{"errors only", Filter{ThingID: "lamp", Status: "error"}, 2, "a3", 2},
		{"paged", Filter{ThingID: "lamp", Limit: 2, Offset: 2}, 5, "a2", 2},
		{"other thing", Filter{ThingID: "sensor"}, 1, "b0", 1},
		{"unknown action", Filter{Name: "toggle"}, 0, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total || len(res.Entries) != tt.count {
				t.Fatalf("total=%d len=%d, want %d and %d", res.Total, len(res.Entries), tt.total, tt.count)
			}
			if tt.count > 0 && res.Entries[0].ID != tt.firstID {
				t.Errorf("first = %s, want %s", res.Entries[0].ID, tt.firstID)
			}
		})
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := newTestRepo(t)
	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("limit=%d offset=%d, want %d and 0", res.Limit, res.Offset, MaxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries is nil, want empty slice")
	}
}

func TestSinkRecordsActions(t *testing.T) {
	repo := newTestRepo(t)
	sink := NewSink(repo)

	th := thing.New("lamp", "Lamp", nil, "")
	defer th.Close()
	_ = th.AddAvailableAction("toggle", nil, func(context.Context, *thing.Action) error { return nil })
	th.AddSubscriber(thing.SubscriberFunc(func(n thing.Notification) {
		if err := sink.Handle(context.Background(), n); err != nil {
			t.Errorf("Handle() error = %v", err)
		}
	}))

	a, err := th.PerformAction("toggle", nil)
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("action did not finish")
	}

	got, err := repo.Get(context.Background(), a.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != "completed" || got.ThingID != "lamp" {
		t.Errorf("entry = %+v", got)
	}

	if err := sink.Handle(context.Background(), thing.Notification{Kind: thing.KindEvent, Payload: 1}); err != nil {
		t.Errorf("Handle(event) error = %v", err)
	}
}
