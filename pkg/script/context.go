package script

import (
	"strings"
)

// Context holds the inputs and outputs of a single instruction invocation.
// A Context is created by the caller, filled with inputs, passed to one
// Execute call and discarded once the caller has drained the outputs.
type Context struct {
	inputs  []Value
	outputs []Value
}

// NewContext creates a context with the given inputs.
func NewContext(inputs ...Value) *Context {
	c := &Context{}
	c.inputs = append(c.inputs, inputs...)
	return c
}

// PushParam appends an input value.
func (c *Context) PushParam(v Value) {
	c.inputs = append(c.inputs, v)
}

// ParamCount returns the number of inputs.
func (c *Context) ParamCount() int {
	return len(c.inputs)
}

// Params returns a copy of the inputs.
func (c *Context) Params() []Value {
	out := make([]Value, len(c.inputs))
	copy(out, c.inputs)
	return out
}

// Param returns the input at index i.
func (c *Context) Param(i int) (Value, error) {
	if i < 0 || i >= len(c.inputs) {
		return nil, NewParameterTypeError("parameter index out of range", nil).
			WithDetail("index", i).
			WithDetail("count", len(c.inputs))
	}
	return c.inputs[i], nil
}

// ParamType returns the type of the input at index i.
func (c *Context) ParamType(i int) (ValueType, error) {
	v, err := c.Param(i)
	if err != nil {
		return 0, err
	}
	return v.Type(), nil
}

// StringParam returns the input at index i, which must be a string.
func (c *Context) StringParam(i int) (string, error) {
	v, err := c.typedParam(i, ValueTypeString)
	if err != nil {
		return "", err
	}
	return string(v.(StringValue)), nil
}

// IntParam returns the input at index i, which must be an integer.
func (c *Context) IntParam(i int) (int64, error) {
	v, err := c.typedParam(i, ValueTypeInteger)
	if err != nil {
		return 0, err
	}
	return int64(v.(IntegerValue)), nil
}

// FloatParam returns the input at index i, which must be a float.
func (c *Context) FloatParam(i int) (float64, error) {
	v, err := c.typedParam(i, ValueTypeFloat)
	if err != nil {
		return 0, err
	}
	return float64(v.(FloatValue)), nil
}

func (c *Context) typedParam(i int, want ValueType) (Value, error) {
	v, err := c.Param(i)
	if err != nil {
		return nil, err
	}
	if v.Type() != want {
		return nil, NewParameterTypeError("unexpected parameter type", nil).
			WithDetail("index", i).
			WithDetail("expected", want.String()).
			WithDetail("actual", v.Type().String())
	}
	return v, nil
}

// PushOutput appends an output value.
func (c *Context) PushOutput(v Value) {
	c.outputs = append(c.outputs, v)
}

// PushStatus appends the status of err as an integer output.
func (c *Context) PushStatus(err error) {
	c.PushOutput(IntegerValue(StatusOf(err)))
}

// Outputs returns a copy of the produced values.
func (c *Context) Outputs() []Value {
	out := make([]Value, len(c.outputs))
	copy(out, c.outputs)
	return out
}

// OutputCount returns the number of produced values.
func (c *Context) OutputCount() int {
	return len(c.outputs)
}

// String renders the inputs for diagnostics.
func (c *Context) String() string {
	parts := make([]string, 0, len(c.inputs))
	for _, v := range c.inputs {
		parts = append(parts, Describe(v))
	}
	return "[" + strings.Join(parts, "; ") + "]"
}
