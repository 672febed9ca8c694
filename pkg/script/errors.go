package script

import (
	"errors"
	"fmt"
)

// Status is the outcome of an instruction or registry operation.
// The set of statuses is closed; Success is the zero value.
type Status int32

const (
	// StatusSuccess indicates the operation completed.
	StatusSuccess Status = iota

	// StatusParameterCount indicates the wrong number of inputs.
	StatusParameterCount

	// StatusParameterType indicates an input of the wrong kind, or a missing input.
	StatusParameterType

	// StatusReservedName indicates an attempt to register a reserved name.
	StatusReservedName

	// StatusInstructionNotFound indicates an unknown instruction name.
	StatusInstructionNotFound

	// StatusInstructionConstructionFailed indicates a factory could not build an instruction.
	StatusInstructionConstructionFailed

	// StatusExecutionFailed covers unresolved partitions, missing package entries,
	// stream failures, patch failures and device copy failures.
	StatusExecutionFailed

	// StatusIntegrityMismatch indicates a content hash did not match its expectation.
	StatusIntegrityMismatch

	// StatusAborted is the script-authored stop signal of the abort instruction.
	StatusAborted

	// StatusAssertionFailed is the stop signal of the assert instruction.
	StatusAssertionFailed

	// StatusInvalidPriority indicates a script priority outside the accepted range.
	StatusInvalidPriority

	// StatusInvalidScript indicates the package holds no usable script entry.
	StatusInvalidScript
)

var statusNames = map[Status]string{
	StatusSuccess:                       "Success",
	StatusParameterCount:                "ParameterCountError",
	StatusParameterType:                 "ParameterTypeError",
	StatusReservedName:                  "ReservedNameError",
	StatusInstructionNotFound:           "InstructionNotFound",
	StatusInstructionConstructionFailed: "InstructionConstructionFailed",
	StatusExecutionFailed:               "ExecutionFailed",
	StatusIntegrityMismatch:             "IntegrityMismatch",
	StatusAborted:                       "Aborted",
	StatusAssertionFailed:               "AssertionFailed",
	StatusInvalidPriority:               "InvalidPriority",
	StatusInvalidScript:                 "InvalidScript",
}

// String returns the taxonomy name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Valid reports whether s belongs to the taxonomy.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsStopSignal reports whether s is a deliberate script stop. Stop signals
// terminate the whole script and are never retried.
func (s Status) IsStopSignal() bool {
	return s == StatusAborted || s == StatusAssertionFailed
}

// Error is a failure carrying a Status and its diagnostic context.
type Error struct {
	// Status is the taxonomy entry of the failure.
	Status Status `json:"status"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Instruction is the instruction that failed, if any.
	Instruction string `json:"instruction,omitempty"`

	// Partition is the partition being processed, if any.
	Partition string `json:"partition,omitempty"`

	// Stage is the processing stage reached when the failure occurred.
	Stage string `json:"stage,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Status, e.Message)
	switch {
	case e.Instruction != "" && e.Partition != "":
		msg = fmt.Sprintf("%s (instruction=%s, partition=%s)", msg, e.Instruction, e.Partition)
	case e.Instruction != "":
		msg = fmt.Sprintf("%s (instruction=%s)", msg, e.Instruction)
	case e.Partition != "":
		msg = fmt.Sprintf("%s (partition=%s)", msg, e.Partition)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Status == t.Status
}

// Sentinel errors for use with errors.Is.
var (
	ErrParameterCount          = &Error{Status: StatusParameterCount, Message: "parameter count mismatch"}
	ErrParameterType           = &Error{Status: StatusParameterType, Message: "parameter type mismatch"}
	ErrReservedName            = &Error{Status: StatusReservedName, Message: "reserved instruction name"}
	ErrInstructionNotFound     = &Error{Status: StatusInstructionNotFound, Message: "instruction not found"}
	ErrInstructionConstruction = &Error{Status: StatusInstructionConstructionFailed, Message: "instruction construction failed"}
	ErrExecutionFailed         = &Error{Status: StatusExecutionFailed, Message: "execution failed"}
	ErrIntegrityMismatch       = &Error{Status: StatusIntegrityMismatch, Message: "integrity mismatch"}
	ErrAborted                 = &Error{Status: StatusAborted, Message: "aborted"}
	ErrAssertionFailed         = &Error{Status: StatusAssertionFailed, Message: "assertion failed"}
	ErrInvalidPriority         = &Error{Status: StatusInvalidPriority, Message: "invalid priority"}
	ErrInvalidScript           = &Error{Status: StatusInvalidScript, Message: "invalid script"}
)

// NewError creates an error with the given status.
func NewError(status Status, message string, err error) *Error {
	return &Error{
		Status:  status,
		Message: message,
		Err:     err,
	}
}

// NewParameterCountError creates an arity error.
func NewParameterCountError(want, got int) *Error {
	return NewError(StatusParameterCount, fmt.Sprintf("expected %d parameters, got %d", want, got), nil).
		WithDetail("expected", want).
		WithDetail("actual", got)
}

// NewParameterTypeError creates a typing error.
func NewParameterTypeError(message string, err error) *Error {
	return NewError(StatusParameterType, message, err)
}

// NewReservedNameError creates an error for a reserved-name registration.
func NewReservedNameError(name string) *Error {
	return NewError(StatusReservedName, fmt.Sprintf("instruction name %q is reserved", name), nil).
		WithInstruction(name)
}

// NewNotFoundError creates an error for an unknown instruction.
func NewNotFoundError(name string) *Error {
	return NewError(StatusInstructionNotFound, fmt.Sprintf("instruction %q does not exist", name), nil).
		WithInstruction(name)
}

// NewConstructionError creates an error for a failed instruction construction.
func NewConstructionError(name string, err error) *Error {
	return NewError(StatusInstructionConstructionFailed, fmt.Sprintf("failed to construct instruction %q", name), err).
		WithInstruction(name)
}

// NewExecutionError creates an execution failure.
func NewExecutionError(message string, err error) *Error {
	return NewError(StatusExecutionFailed, message, err)
}

// NewIntegrityError creates a hash mismatch error.
func NewIntegrityError(expected, actual string) *Error {
	return NewError(StatusIntegrityMismatch, "content hash mismatch", nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// WithInstruction adds instruction context to an error.
func (e *Error) WithInstruction(name string) *Error {
	e.Instruction = name
	return e
}

// WithPartition adds partition context to an error.
func (e *Error) WithPartition(partition string) *Error {
	e.Partition = partition
	return e
}

// WithStage adds the processing stage to an error.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// StatusOf maps an error onto the taxonomy. A nil error is Success and an
// error without a Status is ExecutionFailed.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusExecutionFailed
}

// IsStopSignal reports whether err carries Aborted or AssertionFailed.
func IsStopSignal(err error) bool {
	return StatusOf(err).IsStopSignal()
}

// AsError returns err as an *Error, wrapping foreign errors as ExecutionFailed.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewExecutionError(err.Error(), err)
}
