package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxtype/voxtype/internal/audio"
	"github.com/voxtype/voxtype/internal/bus"
	"github.com/voxtype/voxtype/internal/config"
	"github.com/voxtype/voxtype/internal/natsserver"
	"github.com/voxtype/voxtype/internal/output"
	"github.com/voxtype/voxtype/internal/pipeline"
	"github.com/voxtype/voxtype/internal/recognition"
	"github.com/voxtype/voxtype/internal/session"
	"github.com/voxtype/voxtype/internal/state"
	"github.com/voxtype/voxtype/internal/transcripts"
)

// Runtime wires the daemon together: telemetry, the message bus, the
// audio pipeline, the state machine, the output dispatcher, the
// transcript journal and the session controller, plus a small HTTP
// surface for health and introspection.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error

	embedded   *natsserver.EmbeddedServer
	client     *bus.Client
	states     *state.Manager
	coord      *pipeline.Coordinator
	dispatcher *output.Dispatcher
	store      *transcripts.Store
	controller *session.Controller

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves HTTP until ctx is cancelled,
// then tears everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.teardown()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/state", r.handleState)
	mux.HandleFunc("/v1/history", r.handleHistory)
	mux.HandleFunc("/v1/transcripts", r.handleTranscripts)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.teardown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	r.embedded = embedded

	client, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		// The daemon stays usable without a bus; the hotkey subject is
		// simply unavailable.
		r.logger.Warn("bus unavailable, continuing without it", slog.String("error", err.Error()))
	}
	r.client = client

	r.states = state.NewManager(r.cfg.State.HistoryLimit, r.logger)

	source, err := audio.New(r.cfg.Audio)
	if err != nil {
		return fmt.Errorf("create audio source: %w", err)
	}
	recognizer, err := recognition.New(r.cfg.Recognition)
	if err != nil {
		return fmt.Errorf("create recognizer: %w", err)
	}
	if err := recognizer.Initialize(r.cfg.Recognition, r.cfg.Pipeline); err != nil {
		return fmt.Errorf("initialize recognizer: %w", err)
	}

	r.coord = pipeline.NewCoordinator(source, recognizer, r.logger)
	if err := r.coord.Initialize(r.cfg.Pipeline); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	r.dispatcher = output.NewDispatcher(r.logger)
	for _, tc := range r.cfg.Output.Targets {
		target, err := output.NewTarget(tc)
		if err != nil {
			return fmt.Errorf("create output target: %w", err)
		}
		if !target.IsAvailable() {
			r.logger.Warn("output target unavailable",
				slog.String("type", tc.Type))
		}
		if err := r.dispatcher.AddTarget(target); err != nil {
			return fmt.Errorf("register output target: %w", err)
		}
	}

	store, err := transcripts.Open(ctx, r.cfg.Transcripts, r.logger)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	r.store = store

	r.controller = session.NewController(r.cfg.Session, r.states, r.coord, r.dispatcher, r.store, r.client, r.logger)
	if err := r.controller.Start(ctx); err != nil {
		return fmt.Errorf("start session controller: %w", err)
	}

	return nil
}

func (r *Runtime) teardown() {
	if r.controller != nil {
		r.controller.Close()
	}
	if r.coord != nil {
		r.coord.Cleanup()
	}
	if r.dispatcher != nil {
		r.dispatcher.Cleanup()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("transcript store close failed", slog.String("error", err.Error()))
		}
	}
	if r.client != nil {
		r.client.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	// A configured bus that dropped its connection makes the daemon
	// unready; running without a bus at all does not.
	if r.client != nil && !r.client.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (r *Runtime) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"state":      r.states.Current().String(),
		"session_id": r.controller.SessionID(),
		"pipeline":   r.coord.StageStatus(),
	}
	writeJSON(w, resp)
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	history := r.states.History(limit)

	type entry struct {
		From      string            `json:"from"`
		To        string            `json:"to"`
		Metadata  map[string]string `json:"metadata,omitempty"`
		Timestamp time.Time         `json:"timestamp"`
	}
	entries := make([]entry, 0, len(history))
	for _, tr := range history {
		entries = append(entries, entry{
			From:      tr.From.String(),
			To:        tr.To.String(),
			Metadata:  tr.Metadata,
			Timestamp: tr.Timestamp,
		})
	}
	writeJSON(w, entries)
}

func (r *Runtime) handleTranscripts(w http.ResponseWriter, req *http.Request) {
	if !r.store.Enabled() {
		http.Error(w, "transcript journal disabled", http.StatusNotFound)
		return
	}

	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	sessionID := req.URL.Query().Get("session_id")

	var (
		records []transcripts.Record
		err     error
	)
	if sessionID != "" {
		records, err = r.store.ListSession(req.Context(), sessionID, limit)
	} else {
		records, err = r.store.ListRecent(req.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
