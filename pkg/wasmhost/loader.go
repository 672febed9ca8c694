package wasmhost

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// Config configures the WASM runtime of loaded libraries.
type Config struct {
	// Timeout bounds every guest call. Zero means 30 seconds.
	Timeout time.Duration

	// MemoryLimitPages is the guest memory limit in 64KiB pages.
	// Zero means 256 pages (16MiB).
	MemoryLimitPages uint32

	// RequireManifest rejects libraries without a sidecar manifest.
	RequireManifest bool
}

// Loader opens WASM instruction libraries. It implements
// script.LibraryLoader.
type Loader struct {
	config Config
	logger zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(cfg Config, logger zerolog.Logger) *Loader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}
	return &Loader{config: cfg, logger: logger.With().Str("component", "wasmhost").Logger()}
}

// Open implements script.LibraryLoader.
func (l *Loader) Open(ctx context.Context, path string) (script.Library, error) {
	module, err := os.ReadFile(path)
	if err != nil {
		return nil, script.NewExecutionError("failed to read library", err)
	}

	manifest, err := LoadSidecar(path)
	if err != nil {
		return nil, script.NewExecutionError("failed to load library manifest", err)
	}
	if manifest == nil && l.config.RequireManifest {
		return nil, script.NewExecutionError(fmt.Sprintf("library %s has no manifest", path), nil)
	}
	if manifest != nil {
		if err := manifest.Verify(module); err != nil {
			return nil, script.NewExecutionError("library verification failed", err)
		}
	}

	lib, err := l.instantiate(ctx, path, module)
	if err != nil {
		return nil, script.NewExecutionError(fmt.Sprintf("failed to load library %s", path), err)
	}
	lib.manifest = manifest

	l.logger.Debug().Str("library", path).Msg("WASM library instantiated")
	return lib, nil
}

func (l *Loader) instantiate(ctx context.Context, path string, module []byte) (*Library, error) {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(l.config.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	guestLogger := l.logger.With().Str("library", path).Logger()
	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			msg, ok := mod.Memory().Read(ptr, length)
			if !ok {
				guestLogger.Warn().Msg("Guest log message out of range")
				return
			}
			guestLogger.Info().Msg(string(msg))
		}).
		Export("uscript_log").
		Instantiate(ctx)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithStartFunctions("_initialize").
		WithStdout(guestLogger).
		WithStderr(guestLogger)
	mod, err := runtime.InstantiateWithConfig(ctx, module, moduleConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	b, err := newBridge(mod)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	return &Library{
		path:    path,
		runtime: runtime,
		module:  mod,
		bridge:  b,
		timeout: l.config.Timeout,
		logger:  guestLogger,
	}, nil
}

var _ script.LibraryLoader = (*Loader)(nil)
