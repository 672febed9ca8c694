package uiproto

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// Encoder writes protocol messages to an io.Writer. It is safe for
// concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes a message to the output stream.
func (e *Encoder) Encode(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// EncodeEvent writes a posted UI command.
func (e *Encoder) EncodeEvent(event telemetry.Event) error {
	return e.Encode(&Message{
		Type:      MessageTypeUI,
		ID:        event.ID,
		RunID:     event.RunID,
		Command:   event.Command,
		Content:   event.Content,
		Timestamp: event.Timestamp,
	})
}

// EncodeResult writes the final status of a run.
func (e *Encoder) EncodeResult(runID, status, message string) error {
	return e.Encode(&Message{
		Type:    MessageTypeResult,
		RunID:   runID,
		Status:  status,
		Content: message,
	})
}

// Subscriber returns an event subscriber that encodes every event. Write
// errors are reported to onError when it is not nil.
func (e *Encoder) Subscriber(onError func(error)) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		if err := e.EncodeEvent(event); err != nil && onError != nil {
			onError(err)
		}
	}
}

// Decoder reads protocol messages from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)
	return &Decoder{
		r: scanner,
	}
}

// Decode reads the next message. It returns io.EOF at the end of input.
// Blank lines are skipped.
func (d *Decoder) Decode() (*Message, error) {
	for {
		if !d.r.Scan() {
			if err := d.r.Err(); err != nil {
				return nil, fmt.Errorf("scan error: %w", err)
			}
			return nil, io.EOF
		}
		line := d.r.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		return &msg, nil
	}
}
