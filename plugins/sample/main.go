// Package main implements a sample external instruction library for the
// updater. It compiles to a WASI reactor module:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o sample.wasm .
//
// and provides the instructions listed in sample.yaml:
//
//	str_upper(s)        -> s in upper case
//	add(a, b)           -> a + b for integers
//	vendor_notice(text) -> posts text to the UI
//	retry_guard()       -> 1 on a retry run, else 0
package main

// main is not called in reactor mode.
func main() {}
