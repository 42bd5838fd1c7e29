package state

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from State
		to   State
		ok   bool
	}{
		{Idle, Listening, true},
		{Idle, Error, true},
		{Idle, Processing, false},
		{Idle, FinishListening, false},
		{Listening, FinishListening, true},
		{Listening, Idle, true},
		{Listening, Error, true},
		{Listening, Processing, false},
		{FinishListening, Processing, true},
		{FinishListening, Idle, true},
		{FinishListening, Error, true},
		{FinishListening, Listening, false},
		{Processing, Idle, true},
		{Processing, Error, true},
		{Processing, Listening, false},
		{Error, Idle, true},
		{Error, Listening, false},
		{Error, Processing, false},
	}

	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestSetStateRejectsInvalidEdge(t *testing.T) {
	m := NewManager(10, newLogger())

	if m.SetState(Processing, nil) {
		t.Fatal("idle -> processing must be rejected")
	}
	if m.Current() != Idle {
		t.Fatalf("rejected transition changed state to %s", m.Current())
	}
	if len(m.History(0)) != 0 {
		t.Fatal("rejected transition recorded in history")
	}

	if !m.SetState(Listening, nil) {
		t.Fatal("idle -> listening must be accepted")
	}
	history := m.History(0)
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].From != Idle || history[0].To != Listening {
		t.Fatalf("unexpected history entry: %+v", history[0])
	}
}

func TestFullLifecycle(t *testing.T) {
	m := NewManager(10, newLogger())
	steps := []State{Listening, FinishListening, Processing, Idle}
	for _, s := range steps {
		if !m.SetState(s, nil) {
			t.Fatalf("transition to %s rejected at state %s", s, m.Current())
		}
	}
	if m.Current() != Idle {
		t.Fatalf("expected idle, got %s", m.Current())
	}
	if len(m.History(0)) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(m.History(0)))
	}
}

func TestHistoryBounded(t *testing.T) {
	m := NewManager(3, newLogger())
	for i := 0; i < 5; i++ {
		if !m.SetState(Listening, nil) {
			t.Fatal("idle -> listening rejected")
		}
		if !m.SetState(Idle, nil) {
			t.Fatal("listening -> idle rejected")
		}
	}
	if got := len(m.History(0)); got != 3 {
		t.Fatalf("expected history capped at 3, got %d", got)
	}
	// Newest entries are retained.
	last := m.History(1)
	if len(last) != 1 || last[0].To != Idle {
		t.Fatalf("unexpected newest entry: %+v", last)
	}
}

func TestListenersObserveTransitions(t *testing.T) {
	m := NewManager(10, newLogger())

	var mu sync.Mutex
	var seen []Transition
	id := m.RegisterListener(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	})

	m.SetState(Listening, map[string]string{"session_id": "s1"})
	m.SetState(Idle, nil)

	mu.Lock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0].Metadata["session_id"] != "s1" {
		t.Fatalf("metadata not delivered: %+v", seen[0])
	}
	mu.Unlock()

	if !m.UnregisterListener(id) {
		t.Fatal("unregister failed")
	}
	m.SetState(Listening, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatal("unregistered listener still notified")
	}
}

func TestPanickingListenerIsolated(t *testing.T) {
	m := NewManager(10, newLogger())

	m.RegisterListener(func(Transition) { panic("listener bug") })
	called := false
	m.RegisterListener(func(Transition) { called = true })

	if !m.SetState(Listening, nil) {
		t.Fatal("transition rejected")
	}
	if !called {
		t.Fatal("panicking listener blocked later listeners")
	}
	if m.Current() != Listening {
		t.Fatalf("panic corrupted state: %s", m.Current())
	}
}

func TestRegisterDuringCallback(t *testing.T) {
	m := NewManager(10, newLogger())

	var lateCalled bool
	m.RegisterListener(func(Transition) {
		m.RegisterListener(func(Transition) { lateCalled = true })
	})

	m.SetState(Listening, nil)
	if lateCalled {
		t.Fatal("listener registered mid-transition must not see that transition")
	}
	m.SetState(Idle, nil)
	if !lateCalled {
		t.Fatal("late listener missed the next transition")
	}
}

func TestMetadataIsolation(t *testing.T) {
	m := NewManager(10, newLogger())
	meta := map[string]string{"k": "v"}
	m.SetState(Listening, meta)
	meta["k"] = "mutated"

	history := m.History(0)
	if history[0].Metadata["k"] != "v" {
		t.Fatal("caller mutation leaked into history")
	}
}

func TestReset(t *testing.T) {
	m := NewManager(10, newLogger())
	m.SetState(Error, nil)
	m.Reset()
	if m.Current() != Idle {
		t.Fatalf("expected idle after reset, got %s", m.Current())
	}
	if len(m.History(0)) != 0 {
		t.Fatal("reset should clear history")
	}
}

func TestConcurrentSetState(t *testing.T) {
	m := NewManager(100, newLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.SetState(Listening, nil)
				m.SetState(Idle, nil)
			}
		}()
	}
	wg.Wait()

	// Every recorded edge must be a valid one regardless of interleaving.
	for _, tr := range m.History(0) {
		if !canTransition(tr.From, tr.To) {
			t.Fatalf("invalid edge recorded: %s -> %s", tr.From, tr.To)
		}
	}
}
