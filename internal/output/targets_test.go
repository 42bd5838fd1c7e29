package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxtype/voxtype/internal/config"
)

func TestFileTargetAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.log")
	target, err := NewTarget(config.OutputTargetConfig{Type: "file", Path: path})
	if err != nil {
		t.Fatalf("new target: %v", err)
	}

	if err := target.DeliverText("first line", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := target.DeliverText("second line", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[0] != "first line" || lines[1] != "second line" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestFileTargetTimestamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.log")
	target, err := NewTarget(config.OutputTargetConfig{Type: "file", Path: path, Format: "timestamped"})
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	if !target.SupportsFormatting() {
		t.Fatal("file target should support formatting")
	}

	if err := target.DeliverText("stamped", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasSuffix(line, " stamped") || len(line) <= len("stamped")+1 {
		t.Fatalf("expected timestamp prefix, got %q", line)
	}
}

func TestFileTargetCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.log")
	target, err := NewTarget(config.OutputTargetConfig{Type: "file", Path: path})
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	if !target.IsAvailable() {
		t.Fatal("target dir should exist after initialize")
	}
}

func TestFileTargetSkipsEmptyText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	target := NewFileTarget(path, "")
	if err := target.DeliverText("", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("empty delivery should not create the file")
	}
}

func TestExecTargetParsesCommand(t *testing.T) {
	target, err := NewExecTarget(Keyboard, `wtype --delay 5 -`)
	if err != nil {
		t.Fatalf("new exec target: %v", err)
	}
	if target.OutputType() != Keyboard {
		t.Fatalf("unexpected type: %s", target.OutputType())
	}
	if len(target.argv) != 4 || target.argv[0] != "wtype" {
		t.Fatalf("unexpected argv: %v", target.argv)
	}
}

func TestExecTargetRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecTarget(Clipboard, "  "); err == nil {
		t.Fatal("empty command must be rejected")
	}
}

func TestExecTargetDeliversViaStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "captured")
	// tee reads stdin and writes it to the file, standing in for a
	// keyboard injection tool.
	target, err := NewExecTarget(Keyboard, "tee "+out)
	if err != nil {
		t.Fatalf("new exec target: %v", err)
	}
	if !target.IsAvailable() {
		t.Skip("tee not on PATH")
	}

	if err := target.DeliverText("typed text", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "typed text" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestCallbackTarget(t *testing.T) {
	var got string
	target, err := NewCallbackTarget(func(text string, _ map[string]string) error {
		got = text
		return nil
	})
	if err != nil {
		t.Fatalf("new callback target: %v", err)
	}
	if err := target.DeliverText("in process", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got != "in process" {
		t.Fatalf("callback missed text: %q", got)
	}

	if _, err := NewCallbackTarget(nil); err == nil {
		t.Fatal("nil callback must be rejected")
	}
}

func TestNewTargetUnknownType(t *testing.T) {
	if _, err := NewTarget(config.OutputTargetConfig{Type: "telepathy"}); err == nil {
		t.Fatal("unknown type must be rejected")
	}
}
