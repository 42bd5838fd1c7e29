package recognition

import (
	"fmt"
	"sync"
	"time"

	"github.com/voxtype/voxtype/internal/config"
)

// MockSource accumulates audio and reports a synthetic transcript describing
// what it swallowed. Handy for tests and for running the daemon without an
// engine installed.
type MockSource struct {
	mu     sync.Mutex
	chunks int
	bytes  int
}

func NewMockSource() *MockSource {
	return &MockSource{}
}

func (m *MockSource) Initialize(_ config.RecognitionConfig, _ config.PipelineConfig) error {
	return nil
}

func (m *MockSource) ProcessChunk(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks++
	m.bytes += len(pcm)
	return nil
}

func (m *MockSource) Result() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks == 0 {
		return Result{}, false
	}
	res := Result{
		Text:       fmt.Sprintf("[transcript chunks=%d bytes=%d]", m.chunks, m.bytes),
		Confidence: 1,
		Final:      true,
		Timestamp:  time.Now().UTC(),
	}
	m.chunks = 0
	m.bytes = 0
	return res, true
}

func (m *MockSource) IsAvailable() bool { return true }

func (m *MockSource) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = 0
	m.bytes = 0
}
