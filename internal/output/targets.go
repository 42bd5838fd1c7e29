package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/voxtype/voxtype/internal/config"
)

// ExecTarget delivers text by piping it to an external command's stdin.
// Keyboard injection (wtype, xdotool, ydotool) and clipboard tools
// (wl-copy, xclip) are both driven this way, keeping the input mechanics
// outside the process.
type ExecTarget struct {
	typ  Type
	argv []string
	mu   sync.Mutex
}

func NewExecTarget(typ Type, command string) (*ExecTarget, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", typ, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command is empty", typ)
	}
	return &ExecTarget{typ: typ, argv: args}, nil
}

func (t *ExecTarget) Initialize(_ config.OutputTargetConfig) error { return nil }

func (t *ExecTarget) DeliverText(text string, _ map[string]string) error {
	if text == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.argv[0], t.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s command failed: %w: %s", t.typ, err, out)
	}
	return nil
}

func (t *ExecTarget) IsAvailable() bool {
	_, err := exec.LookPath(t.argv[0])
	return err == nil
}

func (t *ExecTarget) OutputType() Type         { return t.typ }
func (t *ExecTarget) SupportsFormatting() bool { return false }
func (t *ExecTarget) Cleanup() error           { return nil }

// FileTarget appends recognized text to a file, one utterance per line.
// With format "timestamped" each line is prefixed with an RFC 3339 stamp.
type FileTarget struct {
	path   string
	format string
	mu     sync.Mutex
}

func NewFileTarget(path, format string) *FileTarget {
	return &FileTarget{path: path, format: format}
}

func (t *FileTarget) Initialize(_ config.OutputTargetConfig) error {
	dir := filepath.Dir(t.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return nil
}

func (t *FileTarget) DeliverText(text string, _ map[string]string) error {
	if text == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	line := text
	if t.format == "timestamped" {
		line = time.Now().UTC().Format(time.RFC3339) + " " + text
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

func (t *FileTarget) IsAvailable() bool {
	dir := filepath.Dir(t.path)
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func (t *FileTarget) OutputType() Type         { return File }
func (t *FileTarget) SupportsFormatting() bool { return true }
func (t *FileTarget) Cleanup() error           { return nil }

// CallbackTarget hands text to an in-process function. Used to chain the
// dispatcher into other components without going through a device.
type CallbackTarget struct {
	fn func(text string, metadata map[string]string) error
}

func NewCallbackTarget(fn func(text string, metadata map[string]string) error) (*CallbackTarget, error) {
	if fn == nil {
		return nil, errors.New("callback must not be nil")
	}
	return &CallbackTarget{fn: fn}, nil
}

func (t *CallbackTarget) Initialize(_ config.OutputTargetConfig) error { return nil }

func (t *CallbackTarget) DeliverText(text string, metadata map[string]string) error {
	return t.fn(text, metadata)
}

func (t *CallbackTarget) IsAvailable() bool        { return t.fn != nil }
func (t *CallbackTarget) OutputType() Type         { return Callback }
func (t *CallbackTarget) SupportsFormatting() bool { return false }
func (t *CallbackTarget) Cleanup() error           { return nil }
