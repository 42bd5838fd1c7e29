package protocol

import "time"

// HotkeyEvent is published by an external keyboard-listener daemon whenever
// the dictation hotkey is pressed or released.
type HotkeyEvent struct {
	Action    string    `json:"action"` // "pressed" or "released"
	Timestamp time.Time `json:"timestamp"`
}

// Transcript carries recognized text broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StateChange mirrors an accepted lifecycle transition.
type StateChange struct {
	From      string            `json:"from"`
	To        string            `json:"to"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	SubjectHotkey            = "ctrl.hotkey"
	SubjectTranscriptPartial = "voice.transcript.partial"
	SubjectTranscriptFinal   = "voice.transcript.final"
	SubjectStateChanged      = "voice.state.changed"

	HotkeyPressed  = "pressed"
	HotkeyReleased = "released"
)
