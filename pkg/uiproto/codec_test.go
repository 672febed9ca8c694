package uiproto

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := enc.EncodeEvent(telemetry.Event{
		ID:        "ev-1",
		Timestamp: ts,
		RunID:     "run-1",
		Command:   "set_progress",
		Content:   "0.5",
	}); err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if err := enc.EncodeResult("run-1", "Success", ""); err != nil {
		t.Fatalf("EncodeResult failed: %v", err)
	}

	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("Expected 2 lines, got %d", lines)
	}
	if !strings.Contains(buf.String(), `"cmd":"set_progress"`) {
		t.Errorf("Expected cmd field in %s", buf.String())
	}

	dec := NewDecoder(&buf)
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != MessageTypeUI || msg.ID != "ev-1" || msg.Content != "0.5" || !msg.Timestamp.Equal(ts) {
		t.Errorf("Unexpected message %+v", msg)
	}

	msg, err = dec.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != MessageTypeResult || msg.Status != "Success" || msg.ID == "" {
		t.Errorf("Unexpected result %+v", msg)
	}

	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestEncodeInvalid(t *testing.T) {
	enc := NewEncoder(io.Discard)

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "unknown type", msg: Message{Type: "bogus"}},
		{name: "ui without command", msg: Message{Type: MessageTypeUI}},
		{name: "result without status", msg: Message{Type: MessageTypeResult}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := enc.Encode(&tt.msg); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "hello\n"},
		{name: "unknown type", input: `{"type":"x","id":"1"}` + "\n"},
		{name: "missing id", input: `{"type":"ui","cmd":"ui_log"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDecoder(strings.NewReader(tt.input)).Decode(); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"type":"ui","id":"1","cmd":"ui_log","content":"hi"}` + "\n"
	msg, err := NewDecoder(strings.NewReader(input)).Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Content != "hi" {
		t.Errorf("Unexpected content %q", msg.Content)
	}
}

func TestSubscriber(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	var errs []error
	sub := enc.Subscriber(func(err error) { errs = append(errs, err) })
	sub(telemetry.Event{Command: "ui_log", Content: "step"})
	sub(telemetry.Event{})

	if len(errs) != 1 {
		t.Errorf("Expected 1 error for the empty event, got %d", len(errs))
	}
	if !strings.Contains(buf.String(), `"content":"step"`) {
		t.Errorf("Unexpected output %s", buf.String())
	}
}

func TestProgress(t *testing.T) {
	var p Progress
	if err := p.ApplyShowProgress("0.25,0.75"); err != nil {
		t.Fatalf("ApplyShowProgress failed: %v", err)
	}
	if p.Start != 0.25 || p.End != 0.75 || p.Overall() != 0.25 {
		t.Errorf("Unexpected progress %+v", p)
	}
	if err := p.ApplySetProgress("0.5"); err != nil {
		t.Fatalf("ApplySetProgress failed: %v", err)
	}
	if math.Abs(p.Overall()-0.5) > 1e-9 {
		t.Errorf("Expected 0.5, got %v", p.Overall())
	}
	if err := p.ApplySetProgress("3"); err != nil {
		t.Fatalf("ApplySetProgress failed: %v", err)
	}
	if p.Overall() != 1 {
		t.Errorf("Expected clamp to 1, got %v", p.Overall())
	}

	for _, bad := range []string{"", "x", "0.5", "a,1", "1,b"} {
		if err := p.ApplyShowProgress(bad); err == nil {
			t.Errorf("Expected error for show_progress %q", bad)
		}
	}
	if err := p.ApplySetProgress("nope"); err == nil {
		t.Error("Expected error for set_progress")
	}
}
