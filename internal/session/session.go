package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxtype/voxtype/internal/bus"
	"github.com/voxtype/voxtype/internal/config"
	"github.com/voxtype/voxtype/internal/output"
	"github.com/voxtype/voxtype/internal/pipeline"
	"github.com/voxtype/voxtype/internal/protocol"
	"github.com/voxtype/voxtype/internal/recognition"
	"github.com/voxtype/voxtype/internal/state"
	"github.com/voxtype/voxtype/internal/transcripts"
)

// Controller ties the hotkey, the state machine, the audio pipeline and
// the output dispatcher together. One recording session runs at a time:
// hotkey press begins listening, hotkey release or sustained silence
// finishes it.
type Controller struct {
	cfg        config.SessionConfig
	states     *state.Manager
	coord      *pipeline.Coordinator
	dispatcher *output.Dispatcher
	store      *transcripts.Store
	client     *bus.Client
	log        *slog.Logger

	mu           sync.Mutex
	sessionID    string
	silenceTimer *time.Timer
	sub          *nats.Subscription
}

func NewController(cfg config.SessionConfig, states *state.Manager, coord *pipeline.Coordinator, dispatcher *output.Dispatcher, store *transcripts.Store, client *bus.Client, log *slog.Logger) *Controller {
	c := &Controller{
		cfg:        cfg,
		states:     states,
		coord:      coord,
		dispatcher: dispatcher,
		store:      store,
		client:     client,
		log:        log.With(slog.String("component", "session")),
	}
	coord.SetTextCallback(c.handleResult)
	coord.SetErrorCallback(c.handleStageError)
	return c
}

// Start subscribes to hotkey events and begins mirroring state changes
// onto the bus. Without a bus connection the controller still works; the
// hotkey then has to arrive through HandleHotkey directly.
func (c *Controller) Start(ctx context.Context) error {
	if c.client == nil {
		c.log.Warn("no bus connection, hotkey subject disabled")
		return nil
	}

	sub, err := c.client.Conn().Subscribe(protocol.SubjectHotkey, func(msg *nats.Msg) {
		var evt protocol.HotkeyEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			c.log.Warn("malformed hotkey event", slog.String("error", err.Error()))
			return
		}
		c.HandleHotkey(evt)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.states.RegisterListener(func(tr state.Transition) {
		c.publishStateChange(tr)
	})

	c.log.Info("session controller started", slog.String("subject", protocol.SubjectHotkey))
	return nil
}

// HandleHotkey drives the session from hotkey events. Press starts a
// session, or recovers from the error state first; release finishes it.
func (c *Controller) HandleHotkey(evt protocol.HotkeyEvent) {
	switch evt.Action {
	case protocol.HotkeyPressed:
		if c.states.Current() == state.Error {
			c.states.SetState(state.Idle, map[string]string{"reason": "hotkey_recovery"})
		}
		c.BeginListening()
	case protocol.HotkeyReleased:
		c.FinishListening("hotkey")
	default:
		c.log.Warn("unknown hotkey action", slog.String("action", evt.Action))
	}
}

// BeginListening opens a new session and starts the pipeline. A press
// while not idle is ignored; the transition table is the gate.
func (c *Controller) BeginListening() {
	id := uuid.NewString()
	if !c.states.SetState(state.Listening, map[string]string{"session_id": id}) {
		c.log.Debug("hotkey press ignored", slog.String("state", c.states.Current().String()))
		return
	}

	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.BeginSession(context.Background(), id); err != nil {
			c.log.Warn("failed to record session start", slog.String("error", err.Error()))
		}
	}

	if err := c.coord.Start(); err != nil {
		c.log.Error("pipeline start failed", slog.String("error", err.Error()))
		c.states.SetState(state.Error, map[string]string{"error": err.Error()})
		return
	}
	c.armSilenceTimer()
	c.log.Info("listening", slog.String("session_id", id))
}

// FinishListening closes the active session: the pipeline is stopped and
// drained, remaining audio is recognized, and the state machine walks
// FINISH_LISTENING → PROCESSING → IDLE. Safe to call when no session is
// active.
func (c *Controller) FinishListening(reason string) {
	if !c.states.SetState(state.FinishListening, map[string]string{"reason": reason}) {
		return
	}
	c.stopSilenceTimer()

	c.states.SetState(state.Processing, nil)
	// Stop drains the queues; the final recognition results arrive through
	// handleResult before Stop returns.
	c.coord.Stop()

	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if c.store != nil && id != "" {
		if err := c.store.EndSession(context.Background(), id); err != nil {
			c.log.Warn("failed to record session end", slog.String("error", err.Error()))
		}
	}

	c.states.SetState(state.Idle, nil)
	c.log.Info("session finished", slog.String("session_id", id), slog.String("reason", reason))
}

// handleResult receives every recognition result from the pipeline. Final
// text goes to the dispatcher, the journal and the bus; partials only to
// the bus, and only when configured.
func (c *Controller) handleResult(res recognition.Result) {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()

	c.resetSilenceTimer()

	if !res.Final {
		if c.cfg.PublishPartials {
			c.publishTranscript(id, res, protocol.SubjectTranscriptPartial)
		}
		return
	}

	metadata := map[string]string{
		"session_id": id,
		"confidence": strconv.FormatFloat(res.Confidence, 'f', 3, 64),
	}
	summary := c.dispatcher.DispatchText(res.Text, metadata)
	if summary.Failed > 0 {
		c.log.Warn("some targets failed",
			slog.Int("delivered", summary.Delivered),
			slog.Int("failed", summary.Failed))
	}

	if c.store != nil {
		err := c.store.Append(context.Background(), transcripts.Record{
			SessionID:  id,
			Text:       res.Text,
			Confidence: res.Confidence,
		})
		if err != nil {
			c.log.Warn("failed to journal transcript", slog.String("error", err.Error()))
		}
	}
	c.publishTranscript(id, res, protocol.SubjectTranscriptFinal)
}

func (c *Controller) handleStageError(err error) {
	c.log.Error("pipeline stage failed", slog.String("error", err.Error()))
	c.stopSilenceTimer()
	c.states.SetState(state.Error, map[string]string{"error": err.Error()})
	// Stop from a fresh goroutine: the error callback runs on a stage
	// goroutine and Stop waits for stage goroutines to exit.
	go c.coord.Stop()
}

func (c *Controller) publishTranscript(id string, res recognition.Result, subject string) {
	if c.client == nil {
		return
	}
	msg := protocol.Transcript{
		SessionID:  id,
		Text:       res.Text,
		Partial:    !res.Final,
		Confidence: res.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.client.Conn().Publish(subject, data); err != nil {
		c.log.Warn("failed to publish transcript", slog.String("error", err.Error()))
	}
}

func (c *Controller) publishStateChange(tr state.Transition) {
	if c.client == nil {
		return
	}
	msg := protocol.StateChange{
		From:      tr.From.String(),
		To:        tr.To.String(),
		Metadata:  tr.Metadata,
		Timestamp: tr.Timestamp,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.client.Conn().Publish(protocol.SubjectStateChanged, data); err != nil {
		c.log.Warn("failed to publish state change", slog.String("error", err.Error()))
	}
}

// armSilenceTimer schedules an automatic finish when no recognition
// result arrives for the configured window.
func (c *Controller) armSilenceTimer() {
	if c.cfg.SilenceTimeoutMS <= 0 {
		return
	}
	d := time.Duration(c.cfg.SilenceTimeoutMS) * time.Millisecond

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
	}
	c.silenceTimer = time.AfterFunc(d, func() {
		c.log.Info("silence timeout reached")
		c.FinishListening("silence")
	})
}

func (c *Controller) resetSilenceTimer() {
	if c.cfg.SilenceTimeoutMS <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.silenceTimer != nil {
		c.silenceTimer.Reset(time.Duration(c.cfg.SilenceTimeoutMS) * time.Millisecond)
	}
}

func (c *Controller) stopSilenceTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
}

// Close unsubscribes from the bus and tears the session down.
func (c *Controller) Close() {
	c.FinishListening("shutdown")
	c.stopSilenceTimer()

	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// SessionID returns the active session's ID, or "" when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
