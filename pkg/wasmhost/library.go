package wasmhost

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// Library is an instantiated WASM instruction library.
type Library struct {
	path     string
	manifest *Manifest
	runtime  wazero.Runtime
	module   api.Module
	bridge   *bridge
	timeout  time.Duration
	logger   zerolog.Logger
}

// Path returns the path the library was loaded from.
func (l *Library) Path() string {
	return l.path
}

// Manifest returns the sidecar manifest, or nil.
func (l *Library) Manifest() *Manifest {
	return l.manifest
}

// Factory implements script.Library.
func (l *Library) Factory(ctx context.Context) (script.Factory, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	handle, err := l.bridge.factoryHandle(ctx)
	if err != nil {
		return nil, script.NewExecutionError("failed to obtain instruction factory", err)
	}
	return &factory{lib: l, handle: handle}, nil
}

// ReleaseFactory implements script.Library.
func (l *Library) ReleaseFactory(ctx context.Context, f script.Factory) error {
	wf, ok := f.(*factory)
	if !ok || wf.lib != l {
		return fmt.Errorf("factory does not belong to library %s", l.path)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.bridge.releaseFactoryHandle(ctx, wf.handle)
}

// Close implements script.Library.
func (l *Library) Close(ctx context.Context) error {
	if l.module != nil {
		if err := l.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM module: %w", err)
		}
	}
	if l.runtime != nil {
		if err := l.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM runtime: %w", err)
		}
	}
	return nil
}

// factory is a guest instruction factory handle.
type factory struct {
	lib    *Library
	handle uint32
}

// CreateInstruction implements script.Factory.
func (f *factory) CreateInstruction(ctx context.Context, name string) (script.Instruction, error) {
	if m := f.lib.manifest; m != nil && !m.Declares(name) {
		return nil, script.NewNotFoundError(name)
	}

	ctx, cancel := context.WithTimeout(ctx, f.lib.timeout)
	defer cancel()

	result, err := f.lib.bridge.createInstruction(ctx, f.handle, name)
	if err != nil {
		return nil, script.NewConstructionError(name, err)
	}
	switch {
	case result == createResultNotFound:
		return nil, script.NewNotFoundError(name)
	case result <= 0:
		return nil, script.NewConstructionError(name, fmt.Errorf("guest returned %d", result))
	}

	return &instruction{lib: f.lib, handle: uint32(result), name: name}, nil
}

// instruction is a guest instruction instance.
type instruction struct {
	lib    *Library
	handle uint32
	name   string
}

// Execute implements script.Instruction.
func (i *instruction) Execute(ctx context.Context, env script.Env, sc *script.Context) error {
	req, err := encodeRequest(env.IsRetry(), sc.Params())
	if err != nil {
		return script.NewParameterTypeError("failed to encode inputs", err).WithInstruction(i.name)
	}

	callCtx, cancel := context.WithTimeout(ctx, i.lib.timeout)
	defer cancel()

	raw, err := i.lib.bridge.executeInstruction(callCtx, i.handle, req)
	if err != nil {
		return script.NewExecutionError("guest execution failed", err).WithInstruction(i.name)
	}

	resp, outputs, err := decodeResponse(raw)
	if err != nil {
		return script.NewExecutionError("invalid guest response", err).WithInstruction(i.name)
	}

	for _, v := range outputs {
		sc.PushOutput(v)
	}
	for _, m := range resp.Messages {
		env.PostMessage(m.Command, m.Content)
	}

	status := script.Status(resp.Status)
	switch {
	case status == script.StatusSuccess:
		return nil
	case !status.Valid():
		return script.NewExecutionError(fmt.Sprintf("guest returned unknown status %d", resp.Status), nil).
			WithInstruction(i.name)
	default:
		return script.NewError(status, "external instruction failed", nil).WithInstruction(i.name)
	}
}

// Close destroys the guest instance.
func (i *instruction) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), i.lib.timeout)
	defer cancel()

	if err := i.lib.bridge.destroyInstruction(ctx, i.handle); err != nil {
		i.lib.logger.Warn().Err(err).Str("instruction", i.name).Msg("Failed to destroy instruction")
		return err
	}
	return nil
}

var (
	_ script.Library     = (*Library)(nil)
	_ script.Factory     = (*factory)(nil)
	_ script.Instruction = (*instruction)(nil)
)
