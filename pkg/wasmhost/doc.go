// Package wasmhost loads external instruction libraries compiled to
// WebAssembly and exposes them through script.LibraryLoader.
//
// All guest memory access is confined to this package. A library must
// export memory, malloc, free, uscript_get_instruction_factory and
// uscript_release_instruction_factory. Instructions are created with
// uscript_create_instruction and run with uscript_execute, which exchange
// JSON documents through guest memory. uscript_destroy_instruction is
// optional.
//
// The host module "env" provides uscript_log(ptr, len) for guest
// diagnostics.
package wasmhost
