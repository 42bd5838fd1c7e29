package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voxtype/voxtype/internal/audio"
	"github.com/voxtype/voxtype/internal/recognition"
)

// Buffer is an ordered batch of chunks handed to recognition as one unit.
type Buffer []audio.Chunk

// CaptureStage pulls chunks from an audio.Source and publishes them to the
// capture queue. The device callback is the single writer of that queue.
type CaptureStage struct {
	source audio.Source
	out    *Queue[audio.Chunk]
	log    *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func NewCaptureStage(source audio.Source, out *Queue[audio.Chunk], log *slog.Logger) *CaptureStage {
	return &CaptureStage{
		source: source,
		out:    out,
		log:    log.With(slog.String("stage", "capture")),
	}
}

func (s *CaptureStage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.source.IsAvailable() {
		return &StageError{Stage: "capture", Err: errNotAvailable("audio source")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel

	err := s.source.StartCapture(func(chunk audio.Chunk) {
		if err := s.out.Push(ctx, chunk); err != nil {
			// Queue closed or stage torn down; the chunk belongs to a
			// session that is already over.
			return
		}
	})
	if err != nil {
		cancel()
		return &StageError{Stage: "capture", Err: err}
	}
	s.running = true
	return nil
}

// Stop quiesces the device first so no new chunks arrive, then closes the
// capture queue so the buffering stage can drain and flush. The queue is
// closed even when the stage never started, so a downstream drain loop
// always sees the close.
func (s *CaptureStage) Stop() {
	s.mu.Lock()
	running := s.running
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if running {
		s.source.StopCapture()
	}
	s.out.Close()
	if cancel != nil {
		cancel()
	}
}

func (s *CaptureStage) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.source.IsCapturing()
}

// BufferingStage accumulates chunks into fixed-size buffers. A partial
// buffer left at shutdown is flushed downstream, never discarded.
type BufferingStage struct {
	size int
	in   *Queue[audio.Chunk]
	out  *Queue[Buffer]
	log  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewBufferingStage(size int, in *Queue[audio.Chunk], out *Queue[Buffer], log *slog.Logger) *BufferingStage {
	return &BufferingStage{
		size: size,
		in:   in,
		out:  out,
		log:  log.With(slog.String("stage", "buffering")),
	}
}

func (s *BufferingStage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *BufferingStage) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.out.Close()
	// Closing the input on the way out unblocks the capture callback when
	// this loop exits abnormally; on a clean drain it is already closed.
	defer s.in.Close()

	var buf Buffer
	for {
		chunk, ok, err := s.in.Pop(ctx)
		if err != nil {
			return
		}
		if !ok {
			if len(buf) > 0 {
				if err := s.out.Push(ctx, buf); err != nil {
					s.log.Warn("dropped partial buffer at shutdown", slog.Int("chunks", len(buf)))
				}
			}
			return
		}
		buf = append(buf, chunk)
		if len(buf) >= s.size {
			if err := s.out.Push(ctx, buf); err != nil {
				return
			}
			buf = nil
		}
	}
}

// Stop waits for the buffering loop to drain its input queue and exit. The
// upstream stage must have closed the capture queue first.
func (s *BufferingStage) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.wg.Wait()
	cancel()
}

func (s *BufferingStage) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RecognitionStage feeds buffers to the recognition source and emits
// results through the coordinator callback.
type RecognitionStage struct {
	source   recognition.Source
	in       *Queue[Buffer]
	onResult func(recognition.Result)
	onError  func(error)
	log      *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewRecognitionStage(source recognition.Source, in *Queue[Buffer], onResult func(recognition.Result), onError func(error), log *slog.Logger) *RecognitionStage {
	return &RecognitionStage{
		source:   source,
		in:       in,
		onResult: onResult,
		onError:  onError,
		log:      log.With(slog.String("stage", "recognition")),
	}
}

func (s *RecognitionStage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.source.IsAvailable() {
		return &StageError{Stage: "recognition", Err: errNotAvailable("recognition source")}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *RecognitionStage) run(ctx context.Context) {
	defer s.wg.Done()
	// A recognition failure stops this drain loop; closing the input queue
	// lets the buffering stage fail its next Push instead of blocking on a
	// consumer that is gone.
	defer s.in.Close()
	for {
		buf, ok, err := s.in.Pop(ctx)
		if err != nil {
			return
		}
		if !ok {
			// Queue closed: collect whatever the engine still holds so the
			// flushed partial buffer is not lost.
			s.collect()
			return
		}
		for _, chunk := range buf {
			if err := s.source.ProcessChunk(chunk); err != nil {
				s.fail(err)
				return
			}
		}
		s.collect()
	}
}

func (s *RecognitionStage) collect() {
	if res, ok := s.source.Result(); ok && res.Text != "" {
		if s.onResult != nil {
			s.onResult(res)
		}
	}
}

func (s *RecognitionStage) fail(err error) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.log.Error("recognition stage failed", slog.String("error", err.Error()))
	if s.onError != nil {
		s.onError(&StageError{Stage: "recognition", Err: err})
	}
}

// Stop waits for the recognition loop to drain its input queue and exit.
func (s *RecognitionStage) Stop() {
	s.mu.Lock()
	if !s.running && s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.wg.Wait()
	if cancel != nil {
		cancel()
	}
}

func (s *RecognitionStage) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type errNotAvailable string

func (e errNotAvailable) Error() string { return string(e) + " not available" }
