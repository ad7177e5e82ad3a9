package thing

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestValueSetNotifiesInRegistrationOrder(t *testing.T) {
	v := NewValue(0, nil)

	var order []string
	v.Subscribe(func(n int) { order = append(order, "first") })
	v.Subscribe(func(n int) { order = append(order, "second") })

	if err := v.Set(5); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := v.Get(); got != 5 {
		t.Errorf("Get() = %d, want 5", got)
	}
	if want := []string{"first", "second"}; !slices.Equal(order, want) {
		t.Errorf("listener order = %v, want %v", order, want)
	}
}

func TestValueListenerSeesStoredValue(t *testing.T) {
	v := NewValue("off", nil)
	var seen string
	v.Subscribe(func(string) { seen = v.Get() })

	v.NotifyOfExternalUpdate("on")

	if seen != "on" {
		t.Errorf("Get() inside listener = %q, want %q", seen, "on")
	}
}

func TestValueHookRejected(t *testing.T) {
	hookErr := errors.New("bus offline")
	v := NewValue(10, func(int) error { return hookErr })

	calls := 0
	v.Subscribe(func(int) { calls++ })

	err := v.Set(20)
	if !errors.Is(err, ErrHookRejected) {
		t.Fatalf("Set() error = %v, want ErrHookRejected", err)
	}
	if !errors.Is(err, hookErr) {
		t.Errorf("Set() error should wrap the hook error, got %v", err)
	}
	if got := v.Get(); got != 10 {
		t.Errorf("Get() = %d, want unchanged 10", got)
	}
	if calls != 0 {
		t.Errorf("listener calls = %d, want 0", calls)
	}
}

func TestValueExternalUpdateSkipsHook(t *testing.T) {
	hookCalls := 0
	v := NewValue(1.0, func(float64) error {
		hookCalls++
		return nil
	})
	notified := 0
	v.Subscribe(func(float64) { notified++ })

	v.NotifyOfExternalUpdate(2.5)

	if hookCalls != 0 {
		t.Errorf("hook calls = %d, want 0", hookCalls)
	}
	if notified != 1 {
		t.Errorf("listener calls = %d, want 1", notified)
	}
	if got := v.Get(); got != 2.5 {
		t.Errorf("Get() = %v, want 2.5", got)
	}
}

func TestValueNotifiesEqualWrites(t *testing.T) {
	v := NewValue(true, nil)
	calls := 0
	v.Subscribe(func(bool) { calls++ })

	_ = v.Set(true)
	v.NotifyOfExternalUpdate(true)

	if calls != 2 {
		t.Errorf("listener calls = %d, want 2", calls)
	}
}

func TestValueUnsubscribeDuringNotification(t *testing.T) {
	v := NewValue(0, nil)

	var secondCalls int
	var second Subscription
	v.Subscribe(func(int) { v.Unsubscribe(second) })
	second = v.Subscribe(func(int) { secondCalls++ })

	v.NotifyOfExternalUpdate(1)
	if secondCalls != 1 {
		t.Fatalf("in-flight notification calls = %d, want 1", secondCalls)
	}

	v.NotifyOfExternalUpdate(2)
	if secondCalls != 1 {
		t.Errorf("calls after unsubscribe = %d, want 1", secondCalls)
	}
	if v.ListenerCount() != 1 {
		t.Errorf("ListenerCount() = %d, want 1", v.ListenerCount())
	}
}

func TestValueUnsubscribeUnknown(t *testing.T) {
	v := NewValue(0, nil)
	if v.Unsubscribe(Subscription(42)) {
		t.Error("Unsubscribe() of unknown id = true, want false")
	}
}

func TestValueConcurrentWritesLinearised(t *testing.T) {
	v := NewValue(0, nil)

	var mu sync.Mutex
	var a, b []int
	v.Subscribe(func(n int) {
		mu.Lock()
		a = append(a, n)
		mu.Unlock()
	})
	v.Subscribe(func(n int) {
		mu.Lock()
		b = append(b, n)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				_ = v.Set(n)
			} else {
				v.NotifyOfExternalUpdate(n)
			}
		}(i)
	}
	wg.Wait()

	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("notifications = %d/%d, want 50/50", len(a), len(b))
	}
	if !slices.Equal(a, b) {
		t.Error("listeners observed different write orders")
	}
	if got := v.Get(); got != a[len(a)-1] {
		t.Errorf("Get() = %d, want last notified %d", got, a[len(a)-1])
	}
}

func TestCoerce(t *testing.T) {
	t.Run("float64 to int", func(t *testing.T) {
		got, err := coerce[int](float64(75))
		if err != nil || got != 75 {
			t.Errorf("coerce() = %d, %v; want 75, nil", got, err)
		}
	})
	t.Run("same type", func(t *testing.T) {
		got, err := coerce[bool](true)
		if err != nil || !got {
			t.Errorf("coerce() = %v, %v; want true, nil", got, err)
		}
	})
	t.Run("string to int fails", func(t *testing.T) {
		if _, err := coerce[int]("bright"); err == nil {
			t.Error("coerce() error = nil, want error")
		}
	})
	t.Run("fraction to int fails", func(t *testing.T) {
		if _, err := coerce[int](12.5); err == nil {
			t.Error("coerce() error = nil, want error")
		}
	})
}
