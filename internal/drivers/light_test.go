package drivers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/webthing-core/internal/thing"
)

type mockHardware struct {
	mu         sync.Mutex
	on         []bool
	levels     []int
	rejectNext error
}

func (m *mockHardware) SetOn(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = append(m.on, on)
	return nil
}

func (m *mockHardware) SetBrightness(level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rejectNext; err != nil {
		m.rejectNext = nil
		return err
	}
	m.levels = append(m.levels, level)
	return nil
}

func newTestLight(t *testing.T, hw LightHardware) *DimmableLight {
	t.Helper()
	l, err := NewDimmableLight(LightConfig{ID: "lamp", Hardware: hw})
	if err != nil {
		t.Fatalf("NewDimmableLight() error = %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func TestDimmableLightDefaults(t *testing.T) {
	l := newTestLight(t, nil)

	if !l.On() || l.Brightness() != 50 {
		t.Errorf("initial state on=%v brightness=%d, want true/50", l.On(), l.Brightness())
	}
	if got := l.Types(); len(got) != 2 || got[0] != "OnOffSwitch" || got[1] != "Light" {
		t.Errorf("Types() = %v", got)
	}
	if !l.HasAvailableEvent("overheated") {
		t.Error("overheated event not declared")
	}
}

func TestDimmableLightFade(t *testing.T) {
	l := newTestLight(t, nil)

	a, err := l.PerformAction("fade", map[string]any{"brightness": 75, "duration": 50})
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}
	if a.Status() != thing.StatusPending {
		t.Errorf("Status() = %s, want pending", a.Status())
	}

	start := time.Now()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("fade did not finish")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("fade took %s", elapsed)
	}

	if a.Status() != thing.StatusCompleted {
		t.Fatalf("Status() = %s, err = %v; want completed", a.Status(), a.Err())
	}
	got, _ := l.GetProperty("brightness")
	if got != 75 {
		t.Errorf("brightness = %v, want 75", got)
	}

	events := l.Events("overheated")
	if len(events) != 1 {
		t.Fatalf("overheated events = %d, want 1", len(events))
	}
	if events[0].Data() != OverheatedCelsius {
		t.Errorf("event payload = %v, want %d", events[0].Data(), OverheatedCelsius)
	}
}

func TestDimmableLightFadeWaitsForDuration(t *testing.T) {
	l := newTestLight(t, nil)

	start := time.Now()
	a, err := l.PerformAction("fade", map[string]any{"brightness": 10, "duration": 50})
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}
	<-a.Done()

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("fade finished after %s, want >= 50ms", elapsed)
	}
}

func TestDimmableLightFadeInvalidInput(t *testing.T) {
	l := newTestLight(t, nil)

	tests := []struct {
		name  string
		input map[string]any
	}{
		{"missing duration", map[string]any{"brightness": 10}},
		{"brightness too high", map[string]any{"brightness": 150, "duration": 10}},
		{"zero duration", map[string]any{"brightness": 10, "duration": 0}},
		{"duration beyond a day", map[string]any{"brightness": 7, "duration": MaxFadeMillis + 1}},
		{"duration overflowing nanoseconds", map[string]any{"brightness": 7, "duration": int64(10_000_000_000_000)}},
		{"string brightness", map[string]any{"brightness": "max", "duration": 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.PerformAction("fade", tt.input); !errors.Is(err, thing.ErrActionInputInvalid) {
				t.Errorf("PerformAction() error = %v, want ErrActionInputInvalid", err)
			}
		})
	}
}

func TestDimmableLightFadeCancelled(t *testing.T) {
	hw := &mockHardware{}
	l := newTestLight(t, hw)

	a, err := l.PerformAction("fade", map[string]any{"brightness": 90, "duration": 30})
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}
	if err := a.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	<-a.Done()

	if a.Status() != thing.StatusError || !errors.Is(a.Err(), thing.ErrCancelled) {
		t.Errorf("status = %s err = %v, want error/ErrCancelled", a.Status(), a.Err())
	}
	if l.Brightness() != 50 {
		t.Errorf("brightness = %d, want unchanged 50", l.Brightness())
	}
	if n := len(l.Events("overheated")); n != 0 {
		t.Errorf("overheated events = %d, want 0", n)
	}
}

func TestDimmableLightForwardsWrites(t *testing.T) {
	hw := &mockHardware{}
	l := newTestLight(t, hw)

	if err := l.SetProperty("on", false); err != nil {
		t.Fatalf("SetProperty(on) error = %v", err)
	}
	if err := l.SetProperty("brightness", 20); err != nil {
		t.Fatalf("SetProperty(brightness) error = %v", err)
	}

	hw.mu.Lock()
	defer hw.mu.Unlock()
	if len(hw.on) != 1 || hw.on[0] {
		t.Errorf("hardware on writes = %v, want [false]", hw.on)
	}
	if len(hw.levels) != 1 || hw.levels[0] != 20 {
		t.Errorf("hardware brightness writes = %v, want [20]", hw.levels)
	}
}

func TestDimmableLightHardwareRejects(t *testing.T) {
	hw := &mockHardware{rejectNext: errors.New("dimmer offline")}
	l := newTestLight(t, hw)

	err := l.SetProperty("brightness", 30)
	if !errors.Is(err, thing.ErrHookRejected) {
		t.Fatalf("SetProperty() error = %v, want ErrHookRejected", err)
	}
	if l.Brightness() != 50 {
		t.Errorf("brightness = %d, want unchanged 50", l.Brightness())
	}
}

func TestDimmableLightConstraint(t *testing.T) {
	l := newTestLight(t, nil)
	if err := l.SetProperty("brightness", 101); !errors.Is(err, thing.ErrConstraint) {
		t.Errorf("SetProperty(101) error = %v, want ErrConstraint", err)
	}
	if err := l.SetProperty("on", "yes"); !errors.Is(err, thing.ErrConstraint) {
		t.Errorf("SetProperty(on, yes) error = %v, want ErrConstraint", err)
	}
}
