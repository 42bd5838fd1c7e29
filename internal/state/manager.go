package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// State is the application lifecycle state of the voice typing daemon.
type State int

const (
	Idle State = iota
	Listening
	FinishListening
	Processing
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case FinishListening:
		return "finish_listening"
	case Processing:
		return "processing"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// validTransitions is the complete lifecycle edge set. SetState rejects
// everything not listed here.
var validTransitions = map[State]map[State]struct{}{
	Idle:            {Listening: {}, Error: {}},
	Listening:       {FinishListening: {}, Idle: {}, Error: {}},
	FinishListening: {Processing: {}, Idle: {}, Error: {}},
	Processing:      {Idle: {}, Error: {}},
	Error:           {Idle: {}},
}

// Transition is an immutable record of one accepted state change.
type Transition struct {
	From      State
	To        State
	Metadata  map[string]string
	Timestamp time.Time
}

// Listener is invoked synchronously with every accepted transition. It must
// not assume it runs on any particular goroutine.
type Listener func(Transition)

type registeredListener struct {
	id int
	fn Listener
}

// Manager is the single source of truth for lifecycle state. All mutations
// go through SetState; concurrent callers are serialized so listeners never
// observe interleaved transitions.
type Manager struct {
	// transitionMu serializes whole SetState calls, including listener
	// notification, so history order matches notification order.
	transitionMu sync.Mutex
	// mu guards current, history and the listener set. Listeners are
	// invoked without mu held so they may register or unregister freely;
	// such changes take effect on the next transition.
	mu           sync.Mutex
	current      State
	history      []Transition
	historyLimit int
	listeners    []registeredListener
	nextID       int

	log         *slog.Logger
	transitions metric.Int64Counter
}

func NewManager(historyLimit int, log *slog.Logger) *Manager {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	m := &Manager{
		current:      Idle,
		historyLimit: historyLimit,
		log:          log.With(slog.String("component", "state")),
	}
	meter := otel.Meter("github.com/voxtype/voxtype/state")
	counter, err := meter.Int64Counter("voxtype.state.transitions",
		metric.WithDescription("Number of accepted state transitions"))
	if err != nil {
		m.log.Warn("failed to create transition counter", slog.String("error", err.Error()))
	} else {
		m.transitions = counter
	}
	return m
}

// Current returns the current state. It never blocks on listener work.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CanTransitionTo reports whether the edge current→target is in the table.
func (m *Manager) CanTransitionTo(target State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return canTransition(m.current, target)
}

func canTransition(from, to State) bool {
	_, ok := validTransitions[from][to]
	return ok
}

// SetState attempts the transition to target. It returns false and leaves
// state and history untouched when the edge is not in the table. On
// success every registered listener is invoked in registration order; a
// panicking listener is contained and logged, never propagated.
func (m *Manager) SetState(target State, metadata map[string]string) bool {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	if !canTransition(m.current, target) {
		m.mu.Unlock()
		return false
	}
	tr := Transition{
		From:      m.current,
		To:        target,
		Metadata:  cloneMetadata(metadata),
		Timestamp: time.Now().UTC(),
	}
	m.current = target
	m.history = append(m.history, tr)
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}
	listeners := make([]registeredListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if m.transitions != nil {
		m.transitions.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("from", tr.From.String()),
				attribute.String("to", tr.To.String())))
	}
	m.log.Debug("state transition",
		slog.String("from", tr.From.String()),
		slog.String("to", tr.To.String()))

	for _, l := range listeners {
		m.notify(l, tr)
	}
	return true
}

func (m *Manager) notify(l registeredListener, tr Transition) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("state listener panicked",
				slog.Int("listener", l.id),
				slog.Any("panic", r))
		}
	}()
	l.fn(tr)
}

// RegisterListener adds a listener and returns its handle. Safe to call
// from inside a listener callback.
func (m *Manager) RegisterListener(fn Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners = append(m.listeners, registeredListener{id: m.nextID, fn: fn})
	return m.nextID
}

// UnregisterListener removes the listener with the given handle.
func (m *Manager) UnregisterListener(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// History returns the most recent limit transitions in chronological
// order; limit <= 0 returns everything retained.
func (m *Manager) History(limit int) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Transition, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

// Reset forces the state back to Idle and clears history, bypassing the
// transition table. Recovery path only.
func (m *Manager) Reset() {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	m.current = Idle
	m.history = nil
	m.mu.Unlock()
	m.log.Info("state reset to idle")
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
