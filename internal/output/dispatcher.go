package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TextListener observes every dispatch without being a delivery target.
// Listener failures are contained the same way target failures are.
type TextListener func(text string, metadata map[string]string)

// Summary reports the outcome of one DispatchText call.
type Summary struct {
	Delivered int
	Failed    int
	// Errors maps the target's type name to the failure, one entry per
	// failing target in dispatch order.
	Errors []TargetError
}

// TargetError pairs a failing target with its error.
type TargetError struct {
	Target Type
	Err    error
}

func (e TargetError) Error() string {
	return fmt.Sprintf("%s target: %v", e.Target, e.Err)
}

type registeredListener struct {
	id int
	fn TextListener
}

// Dispatcher fans recognized text out to an ordered set of targets.
// Each target is attempted independently; one target failing, or
// panicking, never prevents delivery to the others. Listeners are
// notified in registration order.
type Dispatcher struct {
	mu        sync.Mutex
	targets   []Target
	listeners []registeredListener
	nextID    int

	log        *slog.Logger
	dispatches metric.Int64Counter
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		log: log.With(slog.String("component", "output")),
	}
	meter := otel.Meter("github.com/voxtype/voxtype/output")
	counter, err := meter.Int64Counter("voxtype.output.dispatches",
		metric.WithDescription("Number of per-target delivery attempts"))
	if err != nil {
		d.log.Warn("failed to create dispatch counter", slog.String("error", err.Error()))
	} else {
		d.dispatches = counter
	}
	return d
}

// AddTarget appends a target to the dispatch order. Adding the same
// target value twice is rejected.
func (d *Dispatcher) AddTarget(t Target) error {
	if t == nil {
		return fmt.Errorf("target must not be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.targets {
		if existing == t {
			return fmt.Errorf("target already registered")
		}
	}
	d.targets = append(d.targets, t)
	return nil
}

// RemoveTarget removes a previously added target. The target's Cleanup is
// not called; ownership stays with the caller.
func (d *Dispatcher) RemoveTarget(t Target) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.targets {
		if existing == t {
			d.targets = append(d.targets[:i], d.targets[i+1:]...)
			return true
		}
	}
	return false
}

// Targets returns the current dispatch order.
func (d *Dispatcher) Targets() []Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Target, len(d.targets))
	copy(out, d.targets)
	return out
}

// RegisterListener adds an observer and returns its handle.
func (d *Dispatcher) RegisterListener(fn TextListener) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.listeners = append(d.listeners, registeredListener{id: d.nextID, fn: fn})
	return d.nextID
}

// UnregisterListener removes the observer with the given handle.
func (d *Dispatcher) UnregisterListener(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id == id {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// DispatchText delivers text to every registered target in order, then
// notifies listeners. Every target receives its own copy of the metadata
// so targets cannot observe each other's mutations. Empty text is a no-op.
func (d *Dispatcher) DispatchText(text string, metadata map[string]string) Summary {
	if text == "" {
		return Summary{}
	}

	d.mu.Lock()
	targets := make([]Target, len(d.targets))
	copy(targets, d.targets)
	listeners := make([]registeredListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()

	var summary Summary
	for _, t := range targets {
		err := d.deliver(t, text, cloneMetadata(metadata))
		if d.dispatches != nil {
			d.dispatches.Add(context.Background(), 1,
				metric.WithAttributes(
					attribute.String("target", t.OutputType().String()),
					attribute.Bool("ok", err == nil)))
		}
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, TargetError{Target: t.OutputType(), Err: err})
			d.log.Warn("target delivery failed",
				slog.String("target", t.OutputType().String()),
				slog.String("error", err.Error()))
			continue
		}
		summary.Delivered++
	}

	for _, l := range listeners {
		d.notify(l.fn, text, cloneMetadata(metadata))
	}
	return summary
}

// deliver invokes one target, converting a panic into an error so a
// misbehaving target is indistinguishable from a failing one.
func (d *Dispatcher) deliver(t Target, text string, metadata map[string]string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("target panicked: %v", r)
		}
	}()
	return t.DeliverText(text, metadata)
}

func (d *Dispatcher) notify(fn TextListener, text string, metadata map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn("text listener panicked", slog.Any("panic", r))
		}
	}()
	fn(text, metadata)
}

// Cleanup calls Cleanup on every target and clears the set. Errors are
// logged, not propagated; cleanup always runs to completion.
func (d *Dispatcher) Cleanup() {
	d.mu.Lock()
	targets := d.targets
	d.targets = nil
	d.listeners = nil
	d.mu.Unlock()

	for _, t := range targets {
		if err := t.Cleanup(); err != nil {
			d.log.Warn("target cleanup failed",
				slog.String("target", t.OutputType().String()),
				slog.String("error", err.Error()))
		}
	}
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
