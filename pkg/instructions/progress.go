package instructions

import (
	"context"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// SetProgress posts an absolute progress value.
type SetProgress struct{}

// Execute implements script.Instruction.
func (SetProgress) Execute(_ context.Context, env script.Env, sc *script.Context) error {
	if sc.ParamCount() != 1 {
		return script.NewParameterCountError(1, sc.ParamCount()).WithInstruction(script.NameSetProgress)
	}
	progress, err := sc.FloatParam(0)
	if err != nil {
		return err
	}
	env.PostMessage(script.MessageSetProgress, script.FloatValue(progress).String())
	return nil
}

// ShowProgress posts a progress range as "start,end".
type ShowProgress struct{}

// Execute implements script.Instruction.
func (ShowProgress) Execute(_ context.Context, env script.Env, sc *script.Context) error {
	if sc.ParamCount() != 2 {
		return script.NewParameterCountError(2, sc.ParamCount()).WithInstruction(script.NameShowProgress)
	}
	start, err := sc.FloatParam(0)
	if err != nil {
		return err
	}
	end, err := sc.FloatParam(1)
	if err != nil {
		return err
	}
	env.PostMessage(script.MessageShowProgress,
		script.FloatValue(start).String()+","+script.FloatValue(end).String())
	return nil
}

// UIPrint posts a line of text for the UI.
type UIPrint struct{}

// Execute implements script.Instruction.
func (UIPrint) Execute(_ context.Context, env script.Env, sc *script.Context) error {
	if sc.ParamCount() != 1 {
		return script.NewParameterCountError(1, sc.ParamCount()).WithInstruction(script.NameUIPrint)
	}
	text, err := sc.StringParam(0)
	if err != nil {
		return err
	}
	env.PostMessage(script.MessageUIPrint, text)
	return nil
}
