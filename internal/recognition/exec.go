package recognition

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/voxtype/voxtype/internal/config"
)

// ExecSource hands accumulated PCM to an external transcription command
// (whisper-cli, vosk-transcriber and friends) as a WAV file and parses a
// JSON result from stdout. The engine itself stays outside the process.
type ExecSource struct {
	argv     []string
	cfg      config.RecognitionConfig
	pipeline config.PipelineConfig
	mu       sync.Mutex
	pending  []byte
}

type execResponse struct {
	Text         string   `json:"text"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives"`
}

func NewExecSource(cfg config.RecognitionConfig) (*ExecSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("recognition command is empty")
	}
	return &ExecSource{argv: args, cfg: cfg}, nil
}

func (s *ExecSource) Initialize(cfg config.RecognitionConfig, pipeline config.PipelineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.pipeline = pipeline
	return nil
}

func (s *ExecSource) ProcessChunk(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pcm...)
	return nil
}

// Result transcribes whatever audio accumulated since the previous call.
// Each returned result is final for its window.
func (s *ExecSource) Result() (Result, bool) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return Result{}, false
	}
	pcm := s.pending
	s.pending = nil
	s.mu.Unlock()

	res, err := s.transcribe(pcm)
	if err != nil {
		// Swallowed audio is gone either way; report nothing rather than
		// blocking the stage.
		return Result{}, false
	}
	if res.Text == "" {
		return Result{}, false
	}
	return res, true
}

func (s *ExecSource) transcribe(pcm []byte) (Result, error) {
	file, err := os.CreateTemp(os.TempDir(), "voxtype_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, s.pipeline.SampleRate, s.pipeline.Channels); err != nil {
		return Result{}, err
	}

	cmdArgs := append([]string{}, s.argv[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if s.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", s.cfg.ModelPath)
	}
	if s.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", s.cfg.Language)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	command := exec.CommandContext(ctx, s.argv[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("recognition command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode recognition response: %w", err)
	}
	return Result{
		Text:         resp.Text,
		Confidence:   resp.Confidence,
		Alternatives: resp.Alternatives,
		Final:        true,
		Timestamp:    time.Now().UTC(),
	}, nil
}

func (s *ExecSource) IsAvailable() bool {
	_, err := exec.LookPath(s.argv[0])
	return err == nil
}

func (s *ExecSource) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
