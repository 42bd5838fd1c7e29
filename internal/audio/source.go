package audio

import (
	"fmt"

	"github.com/voxtype/voxtype/internal/config"
)

// Chunk is one block of raw PCM bytes captured from the device.
type Chunk []byte

// DeviceInfo describes the underlying capture device.
type DeviceInfo map[string]string

// Source produces raw audio chunks on demand. Implementations own the
// device I/O; the pipeline only ever sees chunks through the capture
// callback and never touches the device directly.
type Source interface {
	Initialize(cfg config.PipelineConfig) error
	StartCapture(fn func(Chunk)) error
	StopCapture()
	IsCapturing() bool
	IsAvailable() bool
	Cleanup()
	DeviceInfo() DeviceInfo
}

// New creates a Source based on the configured audio mode.
func New(cfg config.AudioConfig) (Source, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSource(), nil
	case "exec":
		return NewExecSource(cfg)
	default:
		return nil, fmt.Errorf("unknown audio mode %q", cfg.Mode)
	}
}

// BytesPerSample maps a dtype tag to its sample width.
func BytesPerSample(dtype string) int {
	switch dtype {
	case "int16":
		return 2
	case "int32", "float32":
		return 4
	default:
		return 2
	}
}
