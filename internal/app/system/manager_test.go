package system

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	*f.log = append(*f.log, "start "+f.name)
	return f.startErr
}

func (f *fakeService) Stop(context.Context) error {
	*f.log = append(*f.log, "stop "+f.name)
	return f.stopErr
}

func TestManagerStartStopOrder(t *testing.T) {
	var log []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&fakeService{name: name, log: &log}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	if len(log) != len(want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("step %d: got %q, want %q", i, log[i], want[i])
		}
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var log []string
	m := NewManager()
	if err := m.Register(&fakeService{name: "dup", log: &log}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(&fakeService{name: "dup", log: &log}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestManagerStartFailureUnwindsStartedServices(t *testing.T) {
	var log []string
	m := NewManager()
	boom := errors.New("boom")
	_ = m.Register(&fakeService{name: "a", log: &log})
	_ = m.Register(&fakeService{name: "b", startErr: boom, log: &log})
	_ = m.Register(&fakeService{name: "c", log: &log})

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}

	want := []string{"start a", "start b", "stop a"}
	if len(log) != len(want) {
		t.Fatalf("got %v, want %v", log, want)
	}

	// A failed start leaves the manager stopped; Stop is a no-op.
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
	if len(log) != len(want) {
		t.Fatalf("stop ran services after failed start: %v", log)
	}
}
