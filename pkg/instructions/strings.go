package instructions

import (
	"context"
	"io"
	"strings"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// Concat renders every input and produces their concatenation.
type Concat struct{}

// Execute implements script.Instruction.
func (Concat) Execute(_ context.Context, _ script.Env, sc *script.Context) error {
	if sc.ParamCount() == 0 {
		return script.NewParameterTypeError("concat requires at least one parameter", nil).
			WithInstruction(script.NameConcat)
	}

	var b strings.Builder
	for _, v := range sc.Params() {
		b.WriteString(v.String())
	}
	sc.PushOutput(script.StringValue(b.String()))
	return nil
}

// IsSubstring produces 1 when its second input occurs in its first, else 0.
type IsSubstring struct{}

// Execute implements script.Instruction.
func (IsSubstring) Execute(_ context.Context, _ script.Env, sc *script.Context) error {
	if sc.ParamCount() != 2 {
		return script.NewParameterCountError(2, sc.ParamCount()).WithInstruction(script.NameIsSubstring)
	}
	haystack, err := sc.StringParam(0)
	if err != nil {
		return err
	}
	needle, err := sc.StringParam(1)
	if err != nil {
		return err
	}

	var found int64
	if strings.Contains(haystack, needle) {
		found = 1
	}
	sc.PushOutput(script.IntegerValue(found))
	return nil
}

// Stdout writes its inputs to the environment's trace sink, separated by
// two spaces and terminated by a newline.
type Stdout struct{}

// Execute implements script.Instruction.
func (Stdout) Execute(_ context.Context, env script.Env, sc *script.Context) error {
	params := sc.Params()
	parts := make([]string, 0, len(params))
	for _, v := range params {
		parts = append(parts, v.String())
	}

	w := env.TraceWriter()
	if w == nil {
		w = io.Discard
	}
	if _, err := io.WriteString(w, strings.Join(parts, "  ")+"\n"); err != nil {
		return script.NewExecutionError("failed to write trace", err).WithInstruction(script.NameStdout)
	}
	return nil
}
