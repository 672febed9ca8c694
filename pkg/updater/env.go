package updater

import (
	"io"
	"os"

	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// Environment implements script.Env for one update run.
type Environment struct {
	retry  bool
	runID  string
	reader script.PackageReader
	events *telemetry.EventPublisher
	trace  io.Writer
	logger *telemetry.Logger
}

// EnvOption configures an Environment.
type EnvOption func(*Environment)

// WithRetry marks the run as resuming an interrupted attempt.
func WithRetry(retry bool) EnvOption {
	return func(e *Environment) { e.retry = retry }
}

// WithPackageReader sets the update package reader.
func WithPackageReader(r script.PackageReader) EnvOption {
	return func(e *Environment) { e.reader = r }
}

// WithEvents sets the publisher receiving posted UI messages.
func WithEvents(events *telemetry.EventPublisher) EnvOption {
	return func(e *Environment) { e.events = events }
}

// WithTraceWriter sets the sink of the stdout instruction.
func WithTraceWriter(w io.Writer) EnvOption {
	return func(e *Environment) { e.trace = w }
}

// WithRunID tags posted messages with the run id.
func WithRunID(runID string) EnvOption {
	return func(e *Environment) { e.runID = runID }
}

// WithEnvLogger sets the logger used for dropped messages.
func WithEnvLogger(logger *telemetry.Logger) EnvOption {
	return func(e *Environment) { e.logger = logger }
}

// NewEnvironment creates an environment. The trace writer defaults to
// os.Stdout.
func NewEnvironment(opts ...EnvOption) *Environment {
	e := &Environment{
		trace:  os.Stdout,
		logger: telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsRetry implements script.Env.
func (e *Environment) IsRetry() bool { return e.retry }

// PackageReader implements script.Env.
func (e *Environment) PackageReader() script.PackageReader { return e.reader }

// TraceWriter implements script.Env.
func (e *Environment) TraceWriter() io.Writer { return e.trace }

// PostMessage implements script.Env. Messages are handed to the event
// publisher and delivered asynchronously; a full buffer drops the message.
func (e *Environment) PostMessage(cmd, content string) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishMessage(e.runID, cmd, content); err != nil {
		e.logger.Debug().Err(err).Str("cmd", cmd).Msg("UI message dropped")
	}
}
