// Package script provides the instruction model of the OTA update interpreter.
//
// # Overview
//
// An update script is a sequence of named instruction invocations. Every
// invocation receives a Context holding its typed input values and collects
// the values the instruction produces. Instructions run against an Env that
// exposes the retry state of the current attempt, the package reader and a
// fire-and-forget message sink for UI observers.
//
// # Core Types
//
//   - Value: a closed union of StringValue, IntegerValue and FloatValue
//   - Context: ordered inputs and outputs of one invocation
//   - Instruction: a named unit of work with a single Execute entry point
//   - Registry: the name to instruction mapping with its reserved-name set
//   - Status and Error: the closed failure taxonomy
//
// # External Instructions
//
// Instructions supplied by third parties are constructed through a Factory.
// A Registry configured with a LibraryLoader can open one external library
// per process and obtain its factory; every instance it constructs is still
// registered through AddInstruction, so reserved names can never be shadowed.
package script
