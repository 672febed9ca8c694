package script

import (
	"fmt"
	"strconv"
)

// ValueType identifies the kind of a script value.
type ValueType int

const (
	// ValueTypeString is a UTF-8 string value.
	ValueTypeString ValueType = iota + 1

	// ValueTypeInteger is a signed 64-bit integer value.
	ValueTypeInteger

	// ValueTypeFloat is a double precision float value.
	ValueTypeFloat
)

// String returns the name of the value type.
func (t ValueType) String() string {
	switch t {
	case ValueTypeString:
		return "string"
	case ValueTypeInteger:
		return "integer"
	case ValueTypeFloat:
		return "float"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseValueType converts a type name as produced by ValueType.String.
func ParseValueType(name string) (ValueType, error) {
	switch name {
	case "string":
		return ValueTypeString, nil
	case "integer":
		return ValueTypeInteger, nil
	case "float":
		return ValueTypeFloat, nil
	default:
		return 0, fmt.Errorf("unknown value type: %s", name)
	}
}

// Value is an immutable script value. The set of implementations is closed.
type Value interface {
	// Type returns the kind of the value.
	Type() ValueType

	// String renders the value in its canonical textual form.
	String() string

	sealed()
}

// StringValue is a string script value. It renders verbatim.
type StringValue string

// IntegerValue is an integer script value.
type IntegerValue int64

// FloatValue is a float script value. It renders in the shortest form that
// round-trips, so 1.0 renders as "1".
type FloatValue float64

func (StringValue) Type() ValueType  { return ValueTypeString }
func (IntegerValue) Type() ValueType { return ValueTypeInteger }
func (FloatValue) Type() ValueType   { return ValueTypeFloat }

func (v StringValue) String() string  { return string(v) }
func (v IntegerValue) String() string { return strconv.FormatInt(int64(v), 10) }
func (v FloatValue) String() string   { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

func (StringValue) sealed()  {}
func (IntegerValue) sealed() {}
func (FloatValue) sealed()   {}

// Describe renders a value together with its type, for logs and traces.
func Describe(v Value) string {
	if v == nil {
		return "type: nil"
	}
	return fmt.Sprintf("type: %s, value: %s", v.Type(), v.String())
}
