package recognition

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/voxtype/voxtype/internal/config"
)

func TestMockSourceAccumulates(t *testing.T) {
	src := NewMockSource()
	if err := src.Initialize(config.RecognitionConfig{}, config.PipelineConfig{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, ok := src.Result(); ok {
		t.Fatal("empty source must not produce a result")
	}

	if err := src.ProcessChunk(make([]byte, 100)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := src.ProcessChunk(make([]byte, 50)); err != nil {
		t.Fatalf("process: %v", err)
	}

	res, ok := src.Result()
	if !ok {
		t.Fatal("expected a result")
	}
	if !res.Final {
		t.Fatal("mock results are final")
	}
	if !strings.Contains(res.Text, "chunks=2") || !strings.Contains(res.Text, "bytes=150") {
		t.Fatalf("unexpected text: %q", res.Text)
	}

	// Counters reset after a collected result.
	if _, ok := src.Result(); ok {
		t.Fatal("result not reset after collection")
	}
}

func TestNewFactory(t *testing.T) {
	if _, err := New(config.RecognitionConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock mode: %v", err)
	}
	if _, err := New(config.RecognitionConfig{Mode: "exec", Command: "whisper-cli"}); err != nil {
		t.Fatalf("exec mode: %v", err)
	}
	if _, err := New(config.RecognitionConfig{Mode: "exec", Command: ""}); err == nil {
		t.Fatal("exec mode without command must fail")
	}
	if _, err := New(config.RecognitionConfig{Mode: "psychic"}); err == nil {
		t.Fatal("unknown mode must fail")
	}
}

func TestExecSourceRejectsUnalignedPCM(t *testing.T) {
	src, err := NewExecSource(config.RecognitionConfig{Command: "whisper-cli"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := src.ProcessChunk([]byte{1, 2, 3}); err == nil {
		t.Fatal("odd-length pcm must be rejected")
	}
	if err := src.ProcessChunk([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("aligned pcm rejected: %v", err)
	}
}

func TestWritePCMToWavRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	samples := []int16{0, 1000, -1000, 32767, -32768}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	if err := writePCMToWav(file, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	file.Close()

	reopened, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()

	dec := wav.NewDecoder(reopened)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 {
		t.Fatalf("unexpected format: rate=%d chans=%d", dec.SampleRate, dec.NumChans)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d: expected %d, got %d", i, s, buf.Data[i])
		}
	}
}
