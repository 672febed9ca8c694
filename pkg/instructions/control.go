package instructions

import (
	"context"
	"math"
	"time"

	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// singleInt reads the only input, which must be an integer.
func singleInt(sc *script.Context) (int64, error) {
	if sc.ParamCount() > 1 {
		return 0, script.NewParameterCountError(1, sc.ParamCount())
	}
	return sc.IntParam(0)
}

// Abort stops the script when its input is zero.
type Abort struct{}

// Execute implements script.Instruction.
func (Abort) Execute(ctx context.Context, _ script.Env, sc *script.Context) error {
	v, err := singleInt(sc)
	if err != nil {
		return err
	}
	if v == 0 {
		telemetry.FromContext(ctx).Info().Msg("Script aborted")
		return script.NewError(script.StatusAborted, "script aborted", nil).WithInstruction(script.NameAbort)
	}
	return nil
}

// Assert stops the script when its input is zero.
type Assert struct{}

// Execute implements script.Instruction.
func (Assert) Execute(ctx context.Context, _ script.Env, sc *script.Context) error {
	v, err := singleInt(sc)
	if err != nil {
		return err
	}
	if v == 0 {
		telemetry.FromContext(ctx).Warn().Msg("Script assertion failed")
		return script.NewError(script.StatusAssertionFailed, "assertion failed", nil).WithInstruction(script.NameAssert)
	}
	return nil
}

// maxSleepMillis is the longest sleep representable as a time.Duration.
const maxSleepMillis = int64(math.MaxInt64 / time.Millisecond)

// Sleep blocks the calling goroutine for the given number of milliseconds.
type Sleep struct {
	sleep func(time.Duration)
}

// NewSleep creates a Sleep that uses time.Sleep.
func NewSleep() *Sleep {
	return &Sleep{sleep: time.Sleep}
}

// Execute implements script.Instruction.
func (s *Sleep) Execute(_ context.Context, _ script.Env, sc *script.Context) error {
	ms, err := singleInt(sc)
	if err != nil {
		return err
	}
	if ms < 0 {
		return script.NewParameterTypeError("sleep duration must not be negative", nil).
			WithInstruction(script.NameSleep).
			WithDetail("milliseconds", ms)
	}
	if ms > maxSleepMillis {
		return script.NewParameterTypeError("sleep duration out of range", nil).
			WithInstruction(script.NameSleep).
			WithDetail("milliseconds", ms)
	}
	s.sleep(time.Duration(ms) * time.Millisecond)
	return nil
}
