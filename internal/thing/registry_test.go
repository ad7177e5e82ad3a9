package thing

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	lamp := New("lamp", "Lamp", nil, "")
	sensor := New("sensor", "Sensor", nil, "")

	if err := r.Add(lamp); err != nil {
		t.Fatalf("Add(lamp) error = %v", err)
	}
	if err := r.Add(sensor); err != nil {
		t.Fatalf("Add(sensor) error = %v", err)
	}
	dup := New("lamp", "Other", nil, "")
	defer dup.Close()
	if err := r.Add(dup); !errors.Is(err, ErrThingExists) {
		t.Errorf("Add(duplicate) error = %v, want ErrThingExists", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].ID() != "lamp" || list[1].ID() != "sensor" {
		t.Errorf("List() order wrong: %v", list)
	}

	got, err := r.Get("sensor")
	if err != nil || got != sensor {
		t.Errorf("Get(sensor) = %v, %v", got, err)
	}
	if _, err := r.Get("fan"); !errors.Is(err, ErrThingNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrThingNotFound", err)
	}

	if err := r.Remove("lamp"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if err := r.Remove("lamp"); !errors.Is(err, ErrThingNotFound) {
		t.Errorf("second Remove() error = %v, want ErrThingNotFound", err)
	}
}
