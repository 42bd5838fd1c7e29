package output

import (
	"fmt"

	"github.com/voxtype/voxtype/internal/config"
)

// Type identifies what kind of destination a target writes to.
type Type int

const (
	Keyboard Type = iota
	Clipboard
	File
	Callback
)

func (t Type) String() string {
	switch t {
	case Keyboard:
		return "keyboard"
	case Clipboard:
		return "clipboard"
	case File:
		return "file"
	case Callback:
		return "callback"
	default:
		return "unknown"
	}
}

// Target is a destination for recognized text. DeliverText returns an
// error rather than panicking when delivery is impossible; the dispatcher
// contains both signals identically. Cleanup must be idempotent.
type Target interface {
	Initialize(cfg config.OutputTargetConfig) error
	DeliverText(text string, metadata map[string]string) error
	IsAvailable() bool
	OutputType() Type
	SupportsFormatting() bool
	Cleanup() error
}

// NewTarget creates and initializes a target from configuration.
func NewTarget(cfg config.OutputTargetConfig) (Target, error) {
	var target Target
	switch cfg.Type {
	case "keyboard":
		t, err := NewExecTarget(Keyboard, cfg.Command)
		if err != nil {
			return nil, err
		}
		target = t
	case "clipboard":
		t, err := NewExecTarget(Clipboard, cfg.Command)
		if err != nil {
			return nil, err
		}
		target = t
	case "file":
		target = NewFileTarget(cfg.Path, cfg.Format)
	default:
		return nil, fmt.Errorf("unknown output target type %q", cfg.Type)
	}
	if err := target.Initialize(cfg); err != nil {
		return nil, fmt.Errorf("initialize %s target: %w", cfg.Type, err)
	}
	return target, nil
}
