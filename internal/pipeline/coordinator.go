package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxtype/voxtype/internal/audio"
	"github.com/voxtype/voxtype/internal/config"
	"github.com/voxtype/voxtype/internal/recognition"
)

// Coordinator owns the capture, buffering and recognition stages and their
// queues, and sequences them as one controllable unit. Exactly one
// coordinator is active per recording session.
type Coordinator struct {
	source     audio.Source
	recognizer recognition.Source
	log        *slog.Logger

	mu          sync.Mutex
	cfg         config.PipelineConfig
	initialized bool
	running     bool

	capture   *CaptureStage
	buffering *BufferingStage
	recog     *RecognitionStage

	onText  func(recognition.Result)
	onError func(error)

	meter        metric.Meter
	startCounter metric.Int64Counter
	failureCount metric.Int64Counter
}

func NewCoordinator(source audio.Source, recognizer recognition.Source, log *slog.Logger) *Coordinator {
	c := &Coordinator{
		source:     source,
		recognizer: recognizer,
		log:        log.With(slog.String("component", "pipeline")),
		meter:      otel.Meter("github.com/voxtype/voxtype/pipeline"),
	}
	c.initMetrics()
	return c
}

func (c *Coordinator) initMetrics() {
	var err error
	c.startCounter, err = c.meter.Int64Counter("voxtype.pipeline.starts",
		metric.WithDescription("Number of pipeline start cycles"))
	if err != nil {
		c.log.Warn("failed to create start counter", slog.String("error", err.Error()))
	}
	c.failureCount, err = c.meter.Int64Counter("voxtype.pipeline.stage_failures",
		metric.WithDescription("Number of stage failures"))
	if err != nil {
		c.log.Warn("failed to create failure counter", slog.String("error", err.Error()))
	}
}

// SetTextCallback registers the single callback invoked with every
// recognition result. Must be set before Start.
func (c *Coordinator) SetTextCallback(fn func(recognition.Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onText = fn
}

// SetErrorCallback registers the callback invoked when a stage fails.
func (c *Coordinator) SetErrorCallback(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Initialize validates and stores the pipeline configuration and prepares
// the collaborators. Queues and stages are built per Start cycle.
func (c *Coordinator) Initialize(cfg config.PipelineConfig) error {
	if err := validatePipeline(cfg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.source.Initialize(cfg); err != nil {
		return &StageError{Stage: "capture", Err: err}
	}
	c.cfg = cfg
	c.initialized = true
	return nil
}

func validatePipeline(cfg config.PipelineConfig) error {
	if cfg.SampleRate <= 0 {
		return &ConfigError{Field: "sample_rate", Reason: "must be positive"}
	}
	if cfg.Channels <= 0 {
		return &ConfigError{Field: "channels", Reason: "must be positive"}
	}
	if cfg.BlockSize <= 0 {
		return &ConfigError{Field: "block_size", Reason: "must be positive"}
	}
	if cfg.DType == "" {
		return &ConfigError{Field: "dtype", Reason: "must be set"}
	}
	if cfg.BufferSize <= 0 {
		return &ConfigError{Field: "buffer_size", Reason: "must be positive"}
	}
	if cfg.QueueSize <= 0 {
		return &ConfigError{Field: "queue_size", Reason: "must be positive"}
	}
	return nil
}

// Start builds fresh queues and stages and starts them downstream first, so
// every consumer is draining before its producer publishes. Calling Start
// while running returns ErrAlreadyRunning without side effects.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return &ConfigError{Field: "pipeline", Reason: "not initialized"}
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}

	captureQ := NewQueue[audio.Chunk](c.cfg.QueueSize)
	bufferQ := NewQueue[Buffer](c.cfg.QueueSize)

	onText := c.onText
	onError := c.onError

	c.capture = NewCaptureStage(c.source, captureQ, c.log)
	c.buffering = NewBufferingStage(c.cfg.BufferSize, captureQ, bufferQ, c.log)
	c.recog = NewRecognitionStage(c.recognizer, bufferQ, onText, func(err error) {
		if c.failureCount != nil {
			c.failureCount.Add(context.Background(), 1)
		}
		if onError != nil {
			onError(err)
		}
	}, c.log)
	c.running = true
	c.mu.Unlock()

	if err := c.recog.Start(); err != nil {
		c.abortStart()
		return err
	}
	if err := c.buffering.Start(); err != nil {
		c.abortStart()
		return err
	}
	if err := c.capture.Start(); err != nil {
		c.abortStart()
		return err
	}

	if c.startCounter != nil {
		c.startCounter.Add(context.Background(), 1)
	}
	c.log.Info("pipeline started",
		slog.Int("buffer_size", c.cfg.BufferSize),
		slog.Int("queue_size", c.cfg.QueueSize))
	return nil
}

func (c *Coordinator) abortStart() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.Stop()
}

// Stop terminates the stages in dependency order: capture first so no new
// chunks arrive, then buffering, which flushes any partial buffer before
// closing its output, then recognition, which drains everything still
// queued. Nothing buffered is dropped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	capture, buffering, recog := c.capture, c.buffering, c.recog
	c.running = false
	c.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if buffering != nil {
		buffering.Stop()
	}
	if recog != nil {
		recog.Stop()
	}
	c.log.Info("pipeline stopped")
}

// Cleanup releases stage resources. Safe to call multiple times and
// without a prior Start.
func (c *Coordinator) Cleanup() {
	c.Stop()
	c.source.Cleanup()
	c.recognizer.Cleanup()

	c.mu.Lock()
	c.capture = nil
	c.buffering = nil
	c.recog = nil
	c.mu.Unlock()
}

// Running reports whether a start cycle is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// StageStatus reports the running state of each stage.
func (c *Coordinator) StageStatus() map[string]bool {
	c.mu.Lock()
	capture, buffering, recog := c.capture, c.buffering, c.recog
	c.mu.Unlock()

	status := map[string]bool{"capture": false, "buffering": false, "recognition": false}
	if capture != nil {
		status["capture"] = capture.IsRunning()
	}
	if buffering != nil {
		status["buffering"] = buffering.IsRunning()
	}
	if recog != nil {
		status["recognition"] = recog.IsRunning()
	}
	return status
}
