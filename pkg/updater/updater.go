package updater

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/openfroyo/otaupdater/pkg/config"
	"github.com/openfroyo/otaupdater/pkg/imagepatch"
	"github.com/openfroyo/otaupdater/pkg/instructions"
	"github.com/openfroyo/otaupdater/pkg/partition"
	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/stores"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// Package is the update package as seen by the updater.
type Package interface {
	script.PackageReader
	ScriptReader
}

// Options are the collaborators of an Updater.
type Options struct {
	// Config is required.
	Config *config.Updater

	// Store holds the Partition Record and the failure log.
	Store stores.Store

	// Reader is the update package. It may be nil for runs that only
	// execute instructions directly.
	Reader Package

	// Telemetry defaults to telemetry.Nop.
	Telemetry *telemetry.Telemetry

	// TraceWriter receives stdout instruction output.
	TraceWriter io.Writer

	// LibraryLoader and Admitter enable external instruction libraries.
	LibraryLoader script.LibraryLoader
	Admitter      script.Admitter

	// RunID defaults to a random UUID.
	RunID string

	// KeepRecord leaves the Partition Record untouched on a fresh run.
	// Commands that only inspect or verify set it.
	KeepRecord bool
}

// Updater runs package scripts against a configured registry.
type Updater struct {
	cfg    *config.Updater
	tel    *telemetry.Telemetry
	runID  string
	helper *Helper
	env    *Environment
	driver *Driver
}

// New builds the registry with every built-in and, when configured, the
// external library instructions. A fresh (non-retry) run starts from an
// empty Partition Record.
func New(ctx context.Context, opts Options) (*Updater, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	logger := tel.Logger.NewComponentLogger("updater").WithRunID(runID)
	ctx = tel.WithContext(logger.WithContext(ctx))

	if !opts.Config.Retry && !opts.KeepRecord {
		if err := opts.Store.ClearRecord(ctx); err != nil {
			return nil, fmt.Errorf("failed to reset partition record: %w", err)
		}
		logger.Debug().Msg("Partition record reset for a fresh update")
	}

	envOpts := []EnvOption{
		WithRetry(opts.Config.Retry),
		WithRunID(runID),
		WithEvents(tel.Events),
		WithEnvLogger(logger),
	}
	var scripts ScriptReader
	if opts.Reader != nil {
		envOpts = append(envOpts, WithPackageReader(opts.Reader))
		scripts = opts.Reader
	}
	if opts.TraceWriter != nil {
		envOpts = append(envOpts, WithTraceWriter(opts.TraceWriter))
	}
	env := NewEnvironment(envOpts...)

	regOpts := []script.RegistryOption{script.WithLogger(logger.Zerolog())}
	if opts.LibraryLoader != nil {
		regOpts = append(regOpts, script.WithLibraryLoader(opts.LibraryLoader))
	}
	if opts.Admitter != nil {
		regOpts = append(regOpts, script.WithAdmitter(opts.Admitter))
	}
	helper := NewHelper(NewScriptManager(scripts, opts.Config.PriorityLevels), regOpts...)

	builtins := Builtins(imagepatch.Config{
		WorkDir:  opts.Config.WorkDir,
		RunID:    runID,
		Resolver: Resolver(opts.Config),
		Record:   opts.Store,
		Failures: opts.Store,
	})
	if err := helper.RegisterBuiltins(builtins); err != nil {
		return nil, fmt.Errorf("failed to register built-in instructions: %w", err)
	}

	u := &Updater{
		cfg:    opts.Config,
		tel:    tel,
		runID:  runID,
		helper: helper,
		env:    env,
		driver: NewDriver(helper.Registry, env),
	}

	if lib := opts.Config.Plugins.Library; lib != "" {
		for _, name := range opts.Config.Plugins.Instructions {
			if err := helper.LoadExternalInstruction(ctx, lib, name); err != nil {
				_ = helper.Close(ctx)
				return nil, fmt.Errorf("failed to load instruction %s: %w", name, err)
			}
		}
	}

	logger.Info().
		Int("instructions", len(helper.Names())).
		Bool("retry", opts.Config.Retry).
		Msg("Updater ready")
	return u, nil
}

// Builtins returns every built-in instruction keyed by reserved name.
func Builtins(cfg imagepatch.Config) map[string]script.Instruction {
	builtins := instructions.Builtins()
	for name, instr := range imagepatch.Instructions(cfg) {
		builtins[name] = instr
	}
	return builtins
}

// Resolver builds the partition resolver of cfg: the partition table
// first, then the by-name directories.
func Resolver(cfg *config.Updater) partition.Resolver {
	return partition.ChainResolver{
		partition.TableResolver(cfg.Partitions),
		partition.NewByNameResolver(cfg.ByNameDirs...),
	}
}

// RunID returns the id of this run.
func (u *Updater) RunID() string { return u.runID }

// Helper returns the registry and script manager of the run.
func (u *Updater) Helper() *Helper { return u.helper }

// Environment returns the environment instructions execute against.
func (u *Updater) Environment() *Environment { return u.env }

// AddScript queues a package script.
func (u *Updater) AddScript(name string, priority int) error {
	return u.helper.AddScript(name, priority)
}

// Run executes the queued scripts in order and stops at the first failing
// script.
func (u *Updater) Run(ctx context.Context) error {
	logger := u.tel.Logger.NewComponentLogger("updater").WithRunID(u.runID)
	ctx = u.tel.WithContext(logger.WithContext(ctx))

	scripts := u.helper.Manager().Scripts()
	if len(scripts) == 0 {
		return script.NewError(script.StatusInvalidScript, "no scripts queued", nil)
	}

	for _, s := range scripts {
		logger.Info().Str("script", s.Name).Int("priority", s.Priority).Msg("Running script")
		err := u.driver.Run(ctx, s)
		status := script.StatusOf(err)
		u.tel.Metrics.RecordScript(status.String())
		if err != nil {
			logger.Error().Err(err).
				Str("script", s.Name).
				Str("status", status.String()).
				Bool("stop_signal", status.IsStopSignal()).
				Msg("Script stopped")
			return err
		}
		logger.Info().Str("script", s.Name).Msg("Script completed")
	}
	return nil
}

// Execute runs a single instruction outside of any script.
func (u *Updater) Execute(ctx context.Context, name string, inputs ...script.Value) (*script.Context, error) {
	ctx = u.tel.WithContext(ctx)
	sc := script.NewContext(inputs...)
	err := u.driver.dispatch(ctx, name, sc)
	return sc, err
}

// Close releases the registry and any external library.
func (u *Updater) Close(ctx context.Context) error {
	return u.helper.Close(ctx)
}
