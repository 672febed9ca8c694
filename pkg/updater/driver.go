package updater

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// Driver executes Starlark update scripts. Every registered instruction is
// a predeclared builtin of the same name.
type Driver struct {
	registry *script.Registry
	env      script.Env

	// MaxSteps bounds the Starlark steps of one script; 0 means unbounded.
	MaxSteps uint64
}

// NewDriver creates a driver dispatching into registry with env.
func NewDriver(registry *script.Registry, env script.Env) *Driver {
	return &Driver{registry: registry, env: env}
}

// Run executes s. A non-Success instruction status stops the script and is
// returned as a *script.Error. Syntax errors are InvalidScript; other
// evaluation errors are ExecutionFailed.
func (d *Driver) Run(ctx context.Context, s Script) error {
	logger := telemetry.FromContext(ctx).WithField("script", s.Name)
	ctx = logger.WithContext(ctx)

	thread := &starlark.Thread{
		Name: s.Name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info().Msg(msg)
		},
	}
	if d.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(d.MaxSteps)
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	_, err := starlark.ExecFile(thread, s.Name, s.Source, d.predeclared(ctx))
	if err == nil {
		return nil
	}

	var se *script.Error
	if errors.As(err, &se) {
		return se
	}
	if ctx.Err() != nil {
		return script.NewExecutionError(fmt.Sprintf("script %s cancelled", s.Name), ctx.Err())
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return script.NewExecutionError(fmt.Sprintf("script %s failed", s.Name), err).
			WithDetail("backtrace", evalErr.Backtrace())
	}
	return script.NewError(script.StatusInvalidScript, fmt.Sprintf("script %s is invalid", s.Name), err)
}

func (d *Driver) predeclared(ctx context.Context) starlark.StringDict {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for _, name := range d.registry.Names() {
		predeclared[name] = starlark.NewBuiltin(name, d.builtin(ctx))
	}
	return predeclared
}

func (d *Driver) builtin(ctx context.Context) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		name := b.Name()
		if len(kwargs) > 0 {
			return nil, script.NewParameterTypeError("keyword arguments are not supported", nil).WithInstruction(name)
		}

		inputs := make([]script.Value, 0, len(args))
		for i, arg := range args {
			v, err := toScriptValue(arg)
			if err != nil {
				return nil, script.NewParameterTypeError(fmt.Sprintf("argument %d", i), err).WithInstruction(name)
			}
			inputs = append(inputs, v)
		}

		sc := script.NewContext(inputs...)
		if err := d.dispatch(ctx, name, sc); err != nil {
			return nil, err
		}
		return fromOutputs(sc.Outputs())
	}
}

// dispatch executes one instruction with metrics, a span and a debug log.
func (d *Driver) dispatch(ctx context.Context, name string, sc *script.Context) error {
	tel := telemetry.FromTelemetryContext(ctx)
	logger := telemetry.FromContext(ctx).WithInstruction(name)
	timer := telemetry.NewTimer()

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartInstructionSpan(ctx, name, sc.ParamCount())
		defer span.End()
	}

	err := d.registry.Dispatch(ctx, name, d.env, sc)
	status := script.StatusOf(err)

	if tel != nil {
		tel.Metrics.RecordInstruction(name, status.String(), timer.Duration())
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
	}
	logger.Debug().
		Str("status", status.String()).
		Dur("duration", timer.Duration()).
		Msg("Instruction executed")

	if err != nil {
		return script.AsError(err).WithInstruction(name)
	}
	return nil
}

func toScriptValue(v starlark.Value) (script.Value, error) {
	switch val := v.(type) {
	case starlark.String:
		return script.StringValue(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return script.IntegerValue(i), nil
	case starlark.Float:
		return script.FloatValue(val), nil
	case starlark.Bool:
		if val {
			return script.IntegerValue(1), nil
		}
		return script.IntegerValue(0), nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromScriptValue(v script.Value) (starlark.Value, error) {
	switch val := v.(type) {
	case script.StringValue:
		return starlark.String(val), nil
	case script.IntegerValue:
		return starlark.MakeInt64(int64(val)), nil
	case script.FloatValue:
		return starlark.Float(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// fromOutputs maps instruction outputs to a script result: None for no
// outputs, the value for one and a tuple for several.
func fromOutputs(outputs []script.Value) (starlark.Value, error) {
	switch len(outputs) {
	case 0:
		return starlark.None, nil
	case 1:
		return fromScriptValue(outputs[0])
	}
	tuple := make(starlark.Tuple, 0, len(outputs))
	for _, o := range outputs {
		v, err := fromScriptValue(o)
		if err != nil {
			return nil, err
		}
		tuple = append(tuple, v)
	}
	return tuple, nil
}
