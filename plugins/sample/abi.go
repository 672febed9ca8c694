//go:build wasip1

package main

import (
	"unsafe"
)

// allocations pins guest buffers handed to the host until it frees them.
var allocations = map[uint32][]byte{}

// handles maps instruction handles to instruction names.
var (
	handles    = map[int32]string{}
	nextHandle int32
)

const factoryHandle uint32 = 1

//go:wasmimport env uscript_log
func hostLog(ptr unsafe.Pointer, size uint32)

func logf(msg string) {
	if msg == "" {
		return
	}
	b := []byte(msg)
	hostLog(unsafe.Pointer(&b[0]), uint32(len(b)))
}

//go:wasmexport malloc
func malloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	allocations[ptr] = buf
	return ptr
}

//go:wasmexport free
func free(ptr uint32) {
	delete(allocations, ptr)
}

func read(ptr, size uint32) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), size)
}

//go:wasmexport uscript_get_instruction_factory
func getInstructionFactory() uint32 {
	return factoryHandle
}

//go:wasmexport uscript_release_instruction_factory
func releaseInstructionFactory(factory uint32) {}

//go:wasmexport uscript_create_instruction
func createInstruction(factory, namePtr, nameLen uint32) int32 {
	if factory != factoryHandle {
		return 0
	}
	name := string(read(namePtr, nameLen))
	if _, ok := instructions[name]; !ok {
		return -1
	}
	nextHandle++
	handles[nextHandle] = name
	logf("created instruction " + name)
	return nextHandle
}

//go:wasmexport uscript_execute
func execute(h, reqPtr, reqLen uint32) uint64 {
	name, ok := handles[int32(h)]
	if !ok {
		return 0
	}
	out := handle(instructions[name], read(reqPtr, reqLen))
	ptr := malloc(uint32(len(out)))
	copy(allocations[ptr], out)
	return uint64(ptr)<<32 | uint64(len(out))
}

//go:wasmexport uscript_destroy_instruction
func destroyInstruction(h uint32) {
	delete(handles, int32(h))
}

// liveInstructions reports how many instances have not been destroyed.
//
//go:wasmexport sample_live_instructions
func liveInstructions() uint32 {
	return uint32(len(handles))
}
