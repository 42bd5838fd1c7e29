package output

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/voxtype/voxtype/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubTarget is a controllable in-memory target.
type stubTarget struct {
	mu       sync.Mutex
	typ      Type
	texts    []string
	metadata []map[string]string
	err      error
	panicMsg string
}

func (s *stubTarget) Initialize(config.OutputTargetConfig) error { return nil }

func (s *stubTarget) DeliverText(text string, metadata map[string]string) error {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	s.metadata = append(s.metadata, metadata)
	return nil
}

func (s *stubTarget) IsAvailable() bool        { return true }
func (s *stubTarget) OutputType() Type         { return s.typ }
func (s *stubTarget) SupportsFormatting() bool { return false }
func (s *stubTarget) Cleanup() error           { return nil }

func (s *stubTarget) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func TestDispatchAllTargetsSucceed(t *testing.T) {
	d := NewDispatcher(newLogger())
	a := &stubTarget{typ: Keyboard}
	b := &stubTarget{typ: File}
	if err := d.AddTarget(a); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := d.AddTarget(b); err != nil {
		t.Fatalf("add b: %v", err)
	}

	summary := d.DispatchText("hello world", nil)
	if summary.Delivered != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := a.delivered(); len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("target a: %v", got)
	}
	if got := b.delivered(); len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("target b: %v", got)
	}
}

func TestDispatchIsolatesFailingTarget(t *testing.T) {
	d := NewDispatcher(newLogger())
	failing := &stubTarget{typ: Keyboard, err: errors.New("device gone")}
	healthy := &stubTarget{typ: File}

	var listenerTexts []string
	d.RegisterListener(func(text string, _ map[string]string) {
		listenerTexts = append(listenerTexts, text)
	})

	if err := d.AddTarget(failing); err != nil {
		t.Fatalf("add failing: %v", err)
	}
	if err := d.AddTarget(healthy); err != nil {
		t.Fatalf("add healthy: %v", err)
	}

	summary := d.DispatchText("resilient", nil)
	if summary.Delivered != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].Target != Keyboard {
		t.Fatalf("unexpected errors: %+v", summary.Errors)
	}
	if got := healthy.delivered(); len(got) != 1 {
		t.Fatalf("healthy target skipped: %v", got)
	}
	if len(listenerTexts) != 1 || listenerTexts[0] != "resilient" {
		t.Fatalf("listener not notified: %v", listenerTexts)
	}
}

func TestDispatchContainsPanickingTarget(t *testing.T) {
	d := NewDispatcher(newLogger())
	panicking := &stubTarget{typ: Clipboard, panicMsg: "boom"}
	healthy := &stubTarget{typ: File}
	if err := d.AddTarget(panicking); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.AddTarget(healthy); err != nil {
		t.Fatalf("add: %v", err)
	}

	summary := d.DispatchText("survive", nil)
	if summary.Failed != 1 || summary.Delivered != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(healthy.delivered()) != 1 {
		t.Fatal("panic prevented delivery to healthy target")
	}
}

func TestDispatchMetadataIsolation(t *testing.T) {
	d := NewDispatcher(newLogger())
	mutator := &mutatingTarget{}
	observer := &stubTarget{typ: File}
	if err := d.AddTarget(mutator); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.AddTarget(observer); err != nil {
		t.Fatalf("add: %v", err)
	}

	meta := map[string]string{"session_id": "s1"}
	d.DispatchText("text", meta)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if observer.metadata[0]["session_id"] != "s1" {
		t.Fatalf("mutation leaked between targets: %v", observer.metadata[0])
	}
	if meta["session_id"] != "s1" {
		t.Fatal("mutation leaked back to caller")
	}
}

type mutatingTarget struct{}

func (m *mutatingTarget) Initialize(config.OutputTargetConfig) error { return nil }
func (m *mutatingTarget) DeliverText(_ string, metadata map[string]string) error {
	metadata["session_id"] = "tampered"
	return nil
}
func (m *mutatingTarget) IsAvailable() bool        { return true }
func (m *mutatingTarget) OutputType() Type         { return Callback }
func (m *mutatingTarget) SupportsFormatting() bool { return false }
func (m *mutatingTarget) Cleanup() error           { return nil }

func TestAddTargetRejectsDuplicate(t *testing.T) {
	d := NewDispatcher(newLogger())
	target := &stubTarget{typ: File}
	if err := d.AddTarget(target); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := d.AddTarget(target); err == nil {
		t.Fatal("duplicate add must fail")
	}
	if len(d.Targets()) != 1 {
		t.Fatalf("expected 1 target, got %d", len(d.Targets()))
	}
}

func TestRemoveTarget(t *testing.T) {
	d := NewDispatcher(newLogger())
	target := &stubTarget{typ: File}
	if err := d.AddTarget(target); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !d.RemoveTarget(target) {
		t.Fatal("remove failed")
	}
	if d.RemoveTarget(target) {
		t.Fatal("second remove must report false")
	}
	summary := d.DispatchText("gone", nil)
	if summary.Delivered != 0 {
		t.Fatalf("removed target still delivered: %+v", summary)
	}
}

func TestListenersNotifiedInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(newLogger())

	var order []int
	for i := 1; i <= 5; i++ {
		d.RegisterListener(func(string, map[string]string) {
			order = append(order, i)
		})
	}

	// Several dispatches, so a map-iteration accident could not pass by
	// luck.
	for round := 0; round < 3; round++ {
		order = order[:0]
		d.DispatchText("ordered", nil)
		if len(order) != 5 {
			t.Fatalf("round %d: expected 5 notifications, got %d", round, len(order))
		}
		for i, id := range order {
			if id != i+1 {
				t.Fatalf("round %d: listener %d notified at position %d", round, id, i)
			}
		}
	}
}

func TestUnregisterListener(t *testing.T) {
	d := NewDispatcher(newLogger())
	calls := 0
	id := d.RegisterListener(func(string, map[string]string) { calls++ })

	d.DispatchText("one", nil)
	if !d.UnregisterListener(id) {
		t.Fatal("unregister failed")
	}
	d.DispatchText("two", nil)
	if calls != 1 {
		t.Fatalf("expected 1 listener call, got %d", calls)
	}
}

func TestDispatchEmptyTextNoop(t *testing.T) {
	d := NewDispatcher(newLogger())
	target := &stubTarget{typ: File}
	if err := d.AddTarget(target); err != nil {
		t.Fatalf("add: %v", err)
	}
	summary := d.DispatchText("", nil)
	if summary.Delivered != 0 || summary.Failed != 0 {
		t.Fatalf("empty text dispatched: %+v", summary)
	}
	if len(target.delivered()) != 0 {
		t.Fatal("empty text reached target")
	}
}
