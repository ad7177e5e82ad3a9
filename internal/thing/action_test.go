package thing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var echoInput = Metadata{
	"title": "Echo",
	"input": map[string]any{
		"type":     "object",
		"required": []any{"level"},
		"properties": map[string]any{
			"level": map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
		},
	},
}

func waitDone(t *testing.T, a *Action) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("action %s did not finish, status %s", a.Name(), a.Status())
	}
}

func TestPerformActionCompletes(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()

	var seen atomic.Value
	err := th.AddAvailableAction("echo", echoInput, func(_ context.Context, a *Action) error {
		seen.Store(a.Input()["level"])
		return nil
	})
	if err != nil {
		t.Fatalf("AddAvailableAction() error = %v", err)
	}

	a, err := th.PerformAction("echo", map[string]any{"level": 3})
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}
	if a.ID() == "" {
		t.Error("action ID is empty")
	}
	waitDone(t, a)

	if a.Status() != StatusCompleted {
		t.Errorf("Status() = %s, want completed", a.Status())
	}
	if _, ok := a.TimeCompleted(); !ok {
		t.Error("TimeCompleted() not set")
	}
	if seen.Load() != float64(3) {
		t.Errorf("input level = %v, want 3", seen.Load())
	}
}

func TestPerformActionValidation(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()
	_ = th.AddAvailableAction("echo", echoInput, func(context.Context, *Action) error { return nil })

	tests := []struct {
		name    string
		action  string
		input   map[string]any
		wantErr error
	}{
		{"unknown action", "explode", nil, ErrActionNotSupported},
		{"missing input", "echo", nil, ErrActionInputInvalid},
		{"missing required field", "echo", map[string]any{}, ErrActionInputInvalid},
		{"out of range", "echo", map[string]any{"level": 11}, ErrActionInputInvalid},
		{"wrong type", "echo", map[string]any{"level": "high"}, ErrActionInputInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := th.PerformAction(tt.action, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("PerformAction() error = %v, want %v", err, tt.wantErr)
			}
			if a != nil {
				t.Error("PerformAction() returned an action on error")
			}
		})
	}

	if n := len(th.Actions("")); n != 0 {
		t.Errorf("Actions() = %d records, want 0 after rejected requests", n)
	}

	for _, tt := range tests {
		if err := th.ValidateActionInput(tt.action, tt.input); !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateActionInput(%s) error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
	if err := th.ValidateActionInput("echo", map[string]any{"level": 3}); err != nil {
		t.Errorf("ValidateActionInput(valid) error = %v", err)
	}
	if n := len(th.Actions("")); n != 0 {
		t.Errorf("ValidateActionInput created %d records", n)
	}
}

func TestPerformActionReturnsPendingWithoutWaiting(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()

	release := make(chan struct{})
	_ = th.AddAvailableAction("block", nil, func(ctx context.Context, _ *Action) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	a, err := th.PerformAction("block", nil)
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}
	if a.Status() != StatusPending {
		t.Errorf("Status() = %s, want pending", a.Status())
	}

	close(release)
	waitDone(t, a)
	if a.Status() != StatusCompleted {
		t.Errorf("Status() = %s, want completed", a.Status())
	}
}

func TestActionFailureIsContained(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()

	_ = th.AddAvailableAction("fail", nil, func(context.Context, *Action) error {
		return errors.New("motor stalled")
	})
	_ = th.AddAvailableAction("panic", nil, func(context.Context, *Action) error {
		panic("boom")
	})
	_ = th.AddAvailableAction("ok", nil, func(context.Context, *Action) error { return nil })

	failed, _ := th.PerformAction("fail", nil)
	panicked, _ := th.PerformAction("panic", nil)
	ok, _ := th.PerformAction("ok", nil)

	for _, a := range []*Action{failed, panicked, ok} {
		waitDone(t, a)
	}

	if failed.Status() != StatusError || failed.Err() == nil {
		t.Errorf("fail: status = %s err = %v, want error", failed.Status(), failed.Err())
	}
	if panicked.Status() != StatusError {
		t.Errorf("panic: status = %s, want error", panicked.Status())
	}
	if ok.Status() != StatusCompleted {
		t.Errorf("ok: status = %s, want completed", ok.Status())
	}
}

func TestActionCancelTerminalIdempotent(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()
	_ = th.AddAvailableAction("ok", nil, func(context.Context, *Action) error { return nil })

	a, _ := th.PerformAction("ok", nil)
	waitDone(t, a)
	before := a.Snapshot()

	for i := 0; i < 2; i++ {
		if err := th.CancelAction("ok", a.ID()); !errors.Is(err, ErrAlreadyTerminal) {
			t.Errorf("cancel #%d error = %v, want ErrAlreadyTerminal", i+1, err)
		}
	}

	after := a.Snapshot()
	if after.Status != before.Status || after.CancelRequested {
		t.Errorf("cancel on terminal action changed state: %+v", after)
	}
}

func TestActionCancelBeforeStart(t *testing.T) {
	exec := NewExecutor(1, 4)
	defer exec.Stop()

	th := New("dev", "Device", nil, "", WithExecutor(exec))
	defer th.Close()

	release := make(chan struct{})
	_ = th.AddAvailableAction("block", nil, func(context.Context, *Action) error {
		<-release
		return nil
	})
	ran := atomic.Bool{}
	_ = th.AddAvailableAction("later", nil, func(context.Context, *Action) error {
		ran.Store(true)
		return nil
	})

	blocker, _ := th.PerformAction("block", nil)
	queued, _ := th.PerformAction("later", nil)

	if err := queued.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	close(release)
	waitDone(t, blocker)
	waitDone(t, queued)

	if queued.Status() != StatusError || !errors.Is(queued.Err(), ErrCancelled) {
		t.Errorf("status = %s err = %v, want error/ErrCancelled", queued.Status(), queued.Err())
	}
	if ran.Load() {
		t.Error("cancelled action behaviour ran")
	}
}

func TestActionStatusNotifications(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()
	_ = th.AddAvailableAction("ok", nil, func(context.Context, *Action) error { return nil })

	var mu sync.Mutex
	var statuses []ActionStatus
	th.AddSubscriber(SubscriberFunc(func(n Notification) {
		if n.Kind != KindActionStatus {
			return
		}
		mu.Lock()
		statuses = append(statuses, n.Payload.(ActionRecord).Status)
		mu.Unlock()
	}))

	a, _ := th.PerformAction("ok", nil)
	waitDone(t, a)

	mu.Lock()
	defer mu.Unlock()
	want := []ActionStatus{StatusPending, StatusCompleted}
	if len(statuses) != len(want) || statuses[0] != want[0] || statuses[1] != want[1] {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
}

func TestActionTransitionsNeverRevert(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()
	_ = th.AddAvailableAction("ok", nil, func(context.Context, *Action) error { return nil })

	a, _ := th.PerformAction("ok", nil)
	waitDone(t, a)

	for _, to := range []ActionStatus{StatusCreated, StatusPending, StatusError, StatusCompleted} {
		if a.transition(to, nil) {
			t.Errorf("transition(completed -> %s) allowed", to)
		}
	}
	if a.Status() != StatusCompleted {
		t.Errorf("Status() = %s, want completed", a.Status())
	}
}

func TestSerialActions(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()

	var running, maxRunning atomic.Int32
	err := th.AddAvailableAction("move", nil, func(context.Context, *Action) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}, Serial())
	if err != nil {
		t.Fatalf("AddAvailableAction() error = %v", err)
	}

	var actions []*Action
	for range 4 {
		a, err := th.PerformAction("move", nil)
		if err != nil {
			t.Fatalf("PerformAction() error = %v", err)
		}
		actions = append(actions, a)
	}
	for _, a := range actions {
		waitDone(t, a)
	}

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent executions = %d, want 1", got)
	}
}

func TestSerialActionsDoNotHoldWorkers(t *testing.T) {
	exec := NewExecutor(2, 8)
	defer exec.Stop()

	a := New("a", "A", nil, "", WithExecutor(exec))
	defer a.Close()
	b := New("b", "B", nil, "", WithExecutor(exec))
	defer b.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 3)
	err := a.AddAvailableAction("slow", nil, func(context.Context, *Action) error {
		started <- struct{}{}
		<-release
		return nil
	}, Serial())
	if err != nil {
		t.Fatalf("AddAvailableAction() error = %v", err)
	}
	_ = b.AddAvailableAction("noop", nil, func(context.Context, *Action) error { return nil })

	var slow []*Action
	for range 3 {
		sa, err := a.PerformAction("slow", nil)
		if err != nil {
			t.Fatalf("PerformAction(slow) error = %v", err)
		}
		slow = append(slow, sa)
	}
	<-started

	quick, err := b.PerformAction("noop", nil)
	if err != nil {
		t.Fatalf("PerformAction(noop) error = %v", err)
	}
	select {
	case <-quick.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("unrelated action stalled behind waiting serial actions")
	}
	if got := exec.Queued(); got != 0 {
		t.Errorf("Queued() = %d, want 0 while serial requests wait", got)
	}
	for _, sa := range slow[1:] {
		if sa.Status() != StatusPending {
			t.Errorf("waiting serial action status = %s, want pending", sa.Status())
		}
	}

	close(release)
	for _, sa := range slow {
		waitDone(t, sa)
		if sa.Status() != StatusCompleted {
			t.Errorf("serial action status = %s, want completed", sa.Status())
		}
	}
}

func TestSerialActionsFailOnStop(t *testing.T) {
	exec := NewExecutor(1, 4)
	th := New("dev", "Device", nil, "", WithExecutor(exec))
	defer th.Close()

	started := make(chan struct{}, 1)
	_ = th.AddAvailableAction("wait", nil, func(ctx context.Context, _ *Action) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}, Serial())

	running, _ := th.PerformAction("wait", nil)
	<-started
	waiting, err := th.PerformAction("wait", nil)
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}

	exec.Stop()

	waitDone(t, running)
	waitDone(t, waiting)
	if !errors.Is(waiting.Err(), ErrExecutorStopped) {
		t.Errorf("waiting err = %v, want ErrExecutorStopped", waiting.Err())
	}
}

func TestRemoveAction(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()
	_ = th.AddAvailableAction("ok", nil, func(context.Context, *Action) error { return nil })

	a, _ := th.PerformAction("ok", nil)
	waitDone(t, a)

	if err := th.RemoveAction("ok", a.ID()); err != nil {
		t.Fatalf("RemoveAction() error = %v", err)
	}
	if err := th.RemoveAction("ok", a.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveAction() error = %v, want ErrNotFound", err)
	}
	if _, err := th.Action("ok", a.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Action() error = %v, want ErrNotFound", err)
	}
}

func TestActionDescription(t *testing.T) {
	th := New("dev", "Device", nil, "")
	defer th.Close()
	_ = th.AddAvailableAction("echo", echoInput, func(context.Context, *Action) error { return nil })

	a, _ := th.PerformAction("echo", map[string]any{"level": 1})
	waitDone(t, a)

	desc := a.AsDescription()
	inner, ok := desc["echo"].(map[string]any)
	if !ok {
		t.Fatalf("description = %v, want keyed by action name", desc)
	}
	if inner["status"] != "completed" {
		t.Errorf("status = %v, want completed", inner["status"])
	}
	if inner["href"] != "/things/dev/actions/echo/"+a.ID() {
		t.Errorf("href = %v", inner["href"])
	}
	if _, ok := inner["timeCompleted"]; !ok {
		t.Error("timeCompleted missing")
	}
}

func TestExecutorBusy(t *testing.T) {
	exec := NewExecutor(1, 1)
	defer exec.Stop()

	th := New("dev", "Device", nil, "", WithExecutor(exec))
	defer th.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	_ = th.AddAvailableAction("block", nil, func(context.Context, *Action) error {
		started <- struct{}{}
		<-release
		return nil
	})

	first, err := th.PerformAction("block", nil)
	if err != nil {
		t.Fatalf("first PerformAction() error = %v", err)
	}
	<-started // worker is busy

	second, err := th.PerformAction("block", nil)
	if err != nil {
		t.Fatalf("second PerformAction() error = %v", err)
	}

	if _, err := th.PerformAction("block", nil); !errors.Is(err, ErrExecutorBusy) {
		t.Errorf("third PerformAction() error = %v, want ErrExecutorBusy", err)
	}
	if n := len(th.Actions("block")); n != 2 {
		t.Errorf("Actions() = %d, want 2 (rejected request dropped)", n)
	}

	close(release)
	waitDone(t, first)
	waitDone(t, second)
}

func TestExecutorStopAbortsQueued(t *testing.T) {
	exec := NewExecutor(1, 4)
	th := New("dev", "Device", nil, "", WithExecutor(exec))
	defer th.Close()

	started := make(chan struct{})
	_ = th.AddAvailableAction("wait", nil, func(ctx context.Context, _ *Action) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	_ = th.AddAvailableAction("never", nil, func(context.Context, *Action) error { return nil })

	running, _ := th.PerformAction("wait", nil)
	<-started
	queued, _ := th.PerformAction("never", nil)

	exec.Stop()

	waitDone(t, running)
	waitDone(t, queued)
	if running.Status() != StatusError {
		t.Errorf("running status = %s, want error", running.Status())
	}
	if !errors.Is(queued.Err(), ErrExecutorStopped) {
		t.Errorf("queued err = %v, want ErrExecutorStopped", queued.Err())
	}

	if _, err := th.PerformAction("never", nil); !errors.Is(err, ErrExecutorStopped) {
		t.Errorf("PerformAction() after Stop error = %v, want ErrExecutorStopped", err)
	}
}
