package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps instruction names to instructions and guards the
// reserved-name set. A Registry is an explicit value owned by its caller.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// instructions maps instruction name to instruction instance.
	instructions map[string]Instruction

	// reserved is the fixed set of built-in names.
	reserved map[string]struct{}

	// loader opens external libraries.
	loader LibraryLoader

	// admitter gates external library loads.
	admitter Admitter

	// library is the active external library and libraryPath its canonical path.
	library     Library
	libraryPath string

	logger zerolog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLibraryLoader sets the loader used by LoadExternalInstruction.
func WithLibraryLoader(loader LibraryLoader) RegistryOption {
	return func(r *Registry) {
		r.loader = loader
	}
}

// WithAdmitter sets the admission check run before a library is opened.
func WithAdmitter(admitter Admitter) RegistryOption {
	return func(r *Registry) {
		r.admitter = admitter
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		instructions: make(map[string]Instruction),
		reserved:     make(map[string]struct{}),
		logger:       zerolog.Nop(),
	}
	for _, name := range ReservedNames() {
		r.reserved[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsReservedInstruction reports whether name belongs to the built-in set.
func (r *Registry) IsReservedInstruction(name string) bool {
	_, ok := r.reserved[name]
	return ok
}

// RegisterBuiltins installs the given built-in instructions under their
// reserved names. Names already installed are kept, so repeated calls are
// no-ops. Every key of builtins must be a reserved name.
func (r *Registry) RegisterBuiltins(builtins map[string]Instruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range builtins {
		if !r.IsReservedInstruction(name) {
			return NewError(StatusInstructionNotFound, fmt.Sprintf("%q is not a built-in instruction", name), nil).
				WithInstruction(name)
		}
	}

	installed := 0
	for name, instr := range builtins {
		if _, exists := r.instructions[name]; exists {
			continue
		}
		r.instructions[name] = instr
		installed++
	}

	r.logger.Debug().
		Int("installed", installed).
		Int("total", len(r.instructions)).
		Msg("Built-in instructions registered")
	return nil
}

// AddInstruction registers instr under name. Reserved names are rejected
// without touching the mapping. An existing non-reserved entry is replaced;
// the caller owns the replaced instance.
func (r *Registry) AddInstruction(name string, instr Instruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addLocked(name, instr)
}

func (r *Registry) addLocked(name string, instr Instruction) error {
	if r.IsReservedInstruction(name) {
		return NewReservedNameError(name)
	}
	if name == "" || instr == nil {
		return NewParameterTypeError("instruction name and instance are required", nil).WithInstruction(name)
	}

	_, replaced := r.instructions[name]
	r.instructions[name] = instr

	r.logger.Debug().
		Str("instruction", name).
		Bool("replaced", replaced).
		Msg("Instruction registered")
	return nil
}

// Lookup returns the instruction registered under name.
func (r *Registry) Lookup(name string) (Instruction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instr, ok := r.instructions[name]
	return instr, ok
}

// Names returns the registered instruction names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instructions))
	for name := range r.instructions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes the instruction registered under name.
func (r *Registry) Dispatch(ctx context.Context, name string, env Env, sc *Context) error {
	instr, ok := r.Lookup(name)
	if !ok {
		return NewNotFoundError(name)
	}
	return instr.Execute(ctx, env, sc)
}

// LoadExternalInstruction constructs the instruction name from the external
// library at libraryPath and registers it. Only one library may be active
// per registry; loading from a second library fails. The factory obtained
// from the library is released before returning.
func (r *Registry) LoadExternalInstruction(ctx context.Context, libraryPath, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loader == nil {
		return NewExecutionError("no library loader configured", nil).WithInstruction(name)
	}

	path, err := canonicalPath(libraryPath)
	if err != nil {
		return NewExecutionError(fmt.Sprintf("failed to resolve library path %s", libraryPath), err).
			WithInstruction(name)
	}

	if r.libraryPath != "" && r.libraryPath != path {
		return NewExecutionError(fmt.Sprintf("library %s is already loaded", r.libraryPath), nil).
			WithInstruction(name).
			WithDetail("requested", path)
	}

	if r.admitter != nil {
		checksum, err := fileChecksum(path)
		if err != nil {
			return NewExecutionError("failed to checksum library", err).WithInstruction(name)
		}
		req := AdmissionRequest{
			Path:        path,
			Dir:         filepath.Dir(path),
			Checksum:    checksum,
			Instruction: name,
		}
		if err := r.admitter.Admit(ctx, req); err != nil {
			return NewExecutionError(fmt.Sprintf("library %s rejected", path), err).WithInstruction(name)
		}
	}

	if r.library == nil {
		lib, err := r.loader.Open(ctx, path)
		if err != nil {
			return AsError(err).WithInstruction(name)
		}
		r.library = lib
		r.libraryPath = path

		r.logger.Info().
			Str("library", path).
			Msg("External instruction library opened")
	}

	factory, err := r.library.Factory(ctx)
	if err != nil {
		return AsError(err).WithInstruction(name)
	}
	defer func() {
		if err := r.library.ReleaseFactory(ctx, factory); err != nil {
			r.logger.Warn().Err(err).
				Str("library", path).
				Msg("Failed to release instruction factory")
		}
	}()

	return r.constructAndAdd(ctx, name, factory)
}

// LoadExternalFactory constructs the instruction name from an in-process
// factory and registers it. If registration fails the constructed instance
// is destroyed.
func (r *Registry) LoadExternalFactory(ctx context.Context, name string, factory Factory) error {
	if factory == nil {
		return NewExecutionError("factory is required", nil).WithInstruction(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.constructAndAdd(ctx, name, factory)
}

func (r *Registry) constructAndAdd(ctx context.Context, name string, factory Factory) error {
	instr, err := factory.CreateInstruction(ctx, name)
	if err != nil {
		if StatusOf(err) == StatusInstructionNotFound {
			return AsError(err).WithInstruction(name)
		}
		return NewConstructionError(name, err)
	}
	if instr == nil {
		return NewConstructionError(name, fmt.Errorf("factory returned no instance"))
	}

	if err := r.addLocked(name, instr); err != nil {
		destroy(instr)
		return err
	}
	return nil
}

// Close releases every closable instruction and unloads the external library.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, instr := range r.instructions {
		destroy(instr)
		delete(r.instructions, name)
	}

	if r.library != nil {
		err := r.library.Close(ctx)
		r.library = nil
		r.libraryPath = ""
		if err != nil {
			return fmt.Errorf("failed to close library: %w", err)
		}
	}
	return nil
}

// LibraryPath returns the canonical path of the active external library.
func (r *Registry) LibraryPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.libraryPath
}

func destroy(instr Instruction) {
	if c, ok := instr.(io.Closer); ok {
		_ = c.Close()
	}
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
