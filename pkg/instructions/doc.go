// Package instructions implements the basic built-in instructions: control
// primitives (abort, assert, sleep), string primitives (concat,
// is_substring), the stdout trace, the UI progress primitives and
// pkg_extract.
package instructions
