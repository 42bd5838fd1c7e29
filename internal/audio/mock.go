package audio

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/voxtype/voxtype/internal/config"
)

// MockSource emits deterministic silence chunks on a goroutine, standing in
// for a real capture device in tests and demos.
type MockSource struct {
	mu        sync.Mutex
	cfg       config.PipelineConfig
	interval  time.Duration
	capturing bool
	stop      chan struct{}
	wg        sync.WaitGroup
	seq       uint32
}

func NewMockSource() *MockSource {
	return &MockSource{interval: 20 * time.Millisecond}
}

// SetInterval adjusts the emission cadence; useful to speed up tests.
func (m *MockSource) SetInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

func (m *MockSource) Initialize(cfg config.PipelineConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return nil
}

func (m *MockSource) StartCapture(fn func(Chunk)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capturing {
		return nil
	}
	m.capturing = true
	m.stop = make(chan struct{})

	size := m.cfg.BlockSize * m.cfg.Channels * BytesPerSample(m.cfg.DType)
	if size < 4 {
		size = 4
	}
	interval := m.interval
	stop := m.stop

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				chunk := make(Chunk, size)
				m.mu.Lock()
				m.seq++
				seq := m.seq
				m.mu.Unlock()
				binary.LittleEndian.PutUint32(chunk, seq)
				fn(chunk)
			}
		}
	}()
	return nil
}

func (m *MockSource) StopCapture() {
	m.mu.Lock()
	if !m.capturing {
		m.mu.Unlock()
		return
	}
	m.capturing = false
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *MockSource) IsCapturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

func (m *MockSource) IsAvailable() bool { return true }

func (m *MockSource) Cleanup() {
	m.StopCapture()
}

func (m *MockSource) DeviceInfo() DeviceInfo {
	return DeviceInfo{"name": "mock", "kind": "synthetic"}
}
