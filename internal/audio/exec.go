package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxtype/voxtype/internal/config"
)

// ExecSource captures audio by running an external command (arecord, parec,
// sox and friends) and reading raw PCM from its stdout. Device selection and
// format flags belong to the configured command line.
type ExecSource struct {
	argv   []string
	device string
	mu     sync.Mutex
	cfg    config.PipelineConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active bool
}

func NewExecSource(cfg config.AudioConfig) (*ExecSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("audio command is empty")
	}
	return &ExecSource{argv: args, device: cfg.Device}, nil
}

func (s *ExecSource) Initialize(cfg config.PipelineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

func (s *ExecSource) StartCapture(fn func(Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	args := append([]string{}, s.argv[1:]...)
	if s.device != "" {
		args = append(args, "--device", s.device)
	}
	cmd := exec.CommandContext(ctx, s.argv[0], args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("audio command stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start audio command: %w", err)
	}

	blockBytes := s.cfg.BlockSize * s.cfg.Channels * BytesPerSample(s.cfg.DType)
	s.cancel = cancel
	s.active = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cmd.Wait()
		for {
			chunk := make(Chunk, blockBytes)
			if _, err := io.ReadFull(stdout, chunk); err != nil {
				return
			}
			fn(chunk)
		}
	}()
	return nil
}

func (s *ExecSource) StopCapture() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *ExecSource) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *ExecSource) IsAvailable() bool {
	_, err := exec.LookPath(s.argv[0])
	return err == nil
}

func (s *ExecSource) Cleanup() {
	s.StopCapture()
}

func (s *ExecSource) DeviceInfo() DeviceInfo {
	info := DeviceInfo{"name": s.argv[0], "kind": "exec"}
	if s.device != "" {
		info["device"] = s.device
	}
	return info
}
