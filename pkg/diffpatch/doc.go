// Package diffpatch provides the low-level primitives partition updates are
// built from: applying a bsdiff patch, memory-mapping files and block
// devices, computing content digests and byte-exact copies.
package diffpatch
