package wasmhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// Guest exports.
const (
	exportMalloc          = "malloc"
	exportFree            = "free"
	exportGetFactory      = "uscript_get_instruction_factory"
	exportReleaseFactory  = "uscript_release_instruction_factory"
	exportCreate          = "uscript_create_instruction"
	exportExecute         = "uscript_execute"
	exportDestroy         = "uscript_destroy_instruction"
	createResultNotFound  = int32(-1)
	packedPointerShift    = 32
	packedLengthMask      = 0xFFFFFFFF
	maxGuestResponseBytes = 16 << 20
)

// bridge calls the guest exports. Guest calls are serialized.
type bridge struct {
	mu sync.Mutex

	module api.Module
	memory api.Memory

	malloc         api.Function
	free           api.Function
	getFactory     api.Function
	releaseFactory api.Function

	// Optional exports, nil when absent.
	create  api.Function
	execute api.Function
	destroy api.Function
}

// newBridge resolves the guest exports. Missing required exports are an error.
func newBridge(module api.Module) (*bridge, error) {
	b := &bridge{module: module}

	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("WASM module does not export memory")
	}

	required := []struct {
		name string
		fn   *api.Function
	}{
		{exportMalloc, &b.malloc},
		{exportFree, &b.free},
		{exportGetFactory, &b.getFactory},
		{exportReleaseFactory, &b.releaseFactory},
	}
	for _, r := range required {
		*r.fn = module.ExportedFunction(r.name)
		if *r.fn == nil {
			return nil, fmt.Errorf("WASM module does not export %s function", r.name)
		}
	}

	b.create = module.ExportedFunction(exportCreate)
	b.execute = module.ExportedFunction(exportExecute)
	b.destroy = module.ExportedFunction(exportDestroy)
	return b, nil
}

// factoryHandle calls the factory accessor.
func (b *bridge) factoryHandle(ctx context.Context) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	results, err := b.getFactory.Call(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", exportGetFactory, err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("%s returned no factory", exportGetFactory)
	}
	return uint32(results[0]), nil
}

func (b *bridge) releaseFactoryHandle(ctx context.Context, handle uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.releaseFactory.Call(ctx, uint64(handle)); err != nil {
		return fmt.Errorf("%s failed: %w", exportReleaseFactory, err)
	}
	return nil
}

// createInstruction returns the raw result of uscript_create_instruction.
func (b *bridge) createInstruction(ctx context.Context, factory uint32, name string) (int32, error) {
	if b.create == nil {
		return 0, fmt.Errorf("WASM module does not export %s function", exportCreate)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ptr, n, err := b.write(ctx, []byte(name))
	if err != nil {
		return 0, err
	}
	defer b.deallocate(ctx, ptr)

	results, err := b.create.Call(ctx, uint64(factory), uint64(ptr), uint64(n))
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", exportCreate, err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("%s returned no results", exportCreate)
	}
	return api.DecodeI32(results[0]), nil
}

// executeInstruction sends a JSON request and returns the JSON response.
func (b *bridge) executeInstruction(ctx context.Context, handle uint32, request []byte) ([]byte, error) {
	if b.execute == nil {
		return nil, fmt.Errorf("WASM module does not export %s function", exportExecute)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ptr, n, err := b.write(ctx, request)
	if err != nil {
		return nil, err
	}
	defer b.deallocate(ctx, ptr)

	results, err := b.execute.Call(ctx, uint64(handle), uint64(ptr), uint64(n))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", exportExecute, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s returned no results", exportExecute)
	}

	packed := results[0]
	outPtr := uint32(packed >> packedPointerShift)
	outLen := uint32(packed & packedLengthMask)
	if outPtr != 0 {
		defer b.deallocate(ctx, outPtr)
	}
	if outLen == 0 {
		return []byte("{}"), nil
	}
	if outLen > maxGuestResponseBytes {
		return nil, fmt.Errorf("guest response of %d bytes exceeds limit", outLen)
	}

	view, ok := b.memory.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	// The view aliases guest memory, which the next call may reuse.
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

func (b *bridge) destroyInstruction(ctx context.Context, handle uint32) error {
	if b.destroy == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.destroy.Call(ctx, uint64(handle)); err != nil {
		return fmt.Errorf("%s failed: %w", exportDestroy, err)
	}
	return nil
}

// write copies data into freshly allocated guest memory.
func (b *bridge) write(ctx context.Context, data []byte) (uint32, uint32, error) {
	size := uint32(len(data))
	if size == 0 {
		size = 1
	}
	ptr, err := b.allocate(ctx, size)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to allocate WASM memory: %w", err)
	}
	if !b.memory.Write(ptr, data) {
		b.deallocate(ctx, ptr)
		return 0, 0, fmt.Errorf("failed to write input to WASM memory")
	}
	return ptr, uint32(len(data)), nil
}

func (b *bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

func (b *bridge) deallocate(ctx context.Context, ptr uint32) {
	_, _ = b.free.Call(ctx, uint64(ptr))
}
