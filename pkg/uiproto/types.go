// Package uiproto defines the JSON-line protocol carrying UI messages from
// the updater to a UI process.
//
// Every line is one Message. The updater writes "ui" messages for each
// posted command and a single "result" message when the run ends.
package uiproto

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeUI carries a posted UI command.
	MessageTypeUI MessageType = "ui"
	// MessageTypeResult reports the final status of a run.
	MessageTypeResult MessageType = "result"
)

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeUI, MessageTypeResult:
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", mt)
	}
}

// Message is one line of the protocol.
type Message struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	RunID     string      `json:"run_id,omitempty"`
	Command   string      `json:"cmd,omitempty"`
	Content   string      `json:"content"`
	Status    string      `json:"status,omitempty"`
	Timestamp time.Time   `json:"ts"`
}

// Validate checks if the message is valid.
func (m *Message) Validate() error {
	if err := m.Type.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	switch m.Type {
	case MessageTypeUI:
		if m.Command == "" {
			return fmt.Errorf("ui message requires a command")
		}
	case MessageTypeResult:
		if m.Status == "" {
			return fmt.Errorf("result message requires a status")
		}
	}
	return nil
}

// Progress is the progress state reconstructed from UI commands. Values
// are fractions of the whole bar.
type Progress struct {
	// Start and End bound the range announced by show_progress.
	Start float64
	End   float64

	// Value is the last absolute value from set_progress.
	Value float64
}

// Overall returns Value clamped to [0, 1].
func (p Progress) Overall() float64 {
	switch {
	case p.Value < 0:
		return 0
	case p.Value > 1:
		return 1
	default:
		return p.Value
	}
}

// ApplySetProgress records an absolute progress value.
func (p *Progress) ApplySetProgress(content string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil {
		return fmt.Errorf("invalid set_progress content %q: %w", content, err)
	}
	p.Value = f
	return nil
}

// ApplyShowProgress records a "start,end" range and moves Value to its
// start.
func (p *Progress) ApplyShowProgress(content string) error {
	first, second, ok := strings.Cut(content, ",")
	if !ok {
		return fmt.Errorf("invalid show_progress content %q", content)
	}
	start, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		return fmt.Errorf("invalid show_progress start %q: %w", first, err)
	}
	end, err := strconv.ParseFloat(strings.TrimSpace(second), 64)
	if err != nil {
		return fmt.Errorf("invalid show_progress end %q: %w", second, err)
	}
	p.Start = start
	p.End = end
	p.Value = start
	return nil
}
