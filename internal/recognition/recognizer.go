package recognition

import (
	"fmt"
	"time"

	"github.com/voxtype/voxtype/internal/config"
)

// Result captures one recognition outcome.
type Result struct {
	Text         string
	Confidence   float64
	Alternatives []string
	Final        bool
	Timestamp    time.Time
}

// Source abstracts a speech recognition engine. Audio is fed chunk by
// chunk; Result returns the next pending outcome, if any. Implementations
// must tolerate Cleanup being called more than once.
type Source interface {
	Initialize(cfg config.RecognitionConfig, pipeline config.PipelineConfig) error
	ProcessChunk(pcm []byte) error
	Result() (Result, bool)
	IsAvailable() bool
	Cleanup()
}

// New creates a Source based on the configured recognition mode.
func New(cfg config.RecognitionConfig) (Source, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSource(), nil
	case "exec":
		return NewExecSource(cfg)
	default:
		return nil, fmt.Errorf("unknown recognition mode %q", cfg.Mode)
	}
}
