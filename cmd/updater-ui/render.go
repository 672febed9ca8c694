package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/uiproto"
)

const barWidth = 40

// renderer draws UI messages as text.
type renderer struct {
	w        io.Writer
	quiet    bool
	progress uiproto.Progress
}

func newRenderer(w io.Writer, quiet bool) *renderer {
	return &renderer{w: w, quiet: quiet}
}

// Consume renders messages until the stream ends. It returns an error when
// the run reported a failure or the stream ended without a result.
func (r *renderer) Consume(in io.Reader) error {
	dec := uiproto.NewDecoder(in)
	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("message stream ended without a result")
		}
		if err != nil {
			log.Warn().Err(err).Msg("Skipping malformed message")
			continue
		}

		if msg.Type == uiproto.MessageTypeResult {
			return r.result(msg)
		}
		r.handle(msg)
	}
}

func (r *renderer) handle(msg *uiproto.Message) {
	var err error
	switch msg.Command {
	case script.MessageSetProgress:
		err = r.progress.ApplySetProgress(msg.Content)
		r.drawBar()
	case script.MessageShowProgress:
		err = r.progress.ApplyShowProgress(msg.Content)
		r.drawBar()
	case script.MessageUIPrint:
		fmt.Fprintln(r.w, msg.Content)
	default:
		log.Debug().Str("cmd", msg.Command).Msg("Ignoring unknown UI command")
	}
	if err != nil {
		log.Warn().Err(err).Str("cmd", msg.Command).Msg("Invalid progress message")
	}
}

func (r *renderer) drawBar() {
	if r.quiet {
		return
	}
	fmt.Fprintln(r.w, bar(r.progress.Overall()))
}

func (r *renderer) result(msg *uiproto.Message) error {
	if msg.Status == script.StatusSuccess.String() {
		fmt.Fprintln(r.w, "Update complete.")
		return nil
	}
	fmt.Fprintf(r.w, "Update failed: %s\n", msg.Status)
	if msg.Content != "" {
		fmt.Fprintln(r.w, msg.Content)
	}
	return fmt.Errorf("update failed with %s", msg.Status)
}

// bar renders a fraction as a fixed-width progress bar.
func bar(fraction float64) string {
	filled := int(fraction*barWidth + 0.5)
	return fmt.Sprintf("[%s%s] %3d%%",
		strings.Repeat("#", filled),
		strings.Repeat(".", barWidth-filled),
		int(fraction*100+0.5))
}
