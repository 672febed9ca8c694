package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/otaupdater/pkg/config"
	"github.com/openfroyo/otaupdater/pkg/policy"
	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/stores"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
	"github.com/openfroyo/otaupdater/pkg/uiproto"
	"github.com/openfroyo/otaupdater/pkg/updater"
	"github.com/openfroyo/otaupdater/pkg/wasmhost"
)

// loadConfig loads the configuration and applies the global overrides.
func loadConfig() (*config.Updater, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if recordDB != "" {
		cfg.RecordDB = recordDB
	}
	return cfg, nil
}

// openStore opens the partition record database, creating its directory.
func openStore(ctx context.Context, cfg *config.Updater, runID string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(cfg.RecordDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create record directory: %w", err)
		}
	}
	return stores.Open(ctx, stores.Config{Path: cfg.RecordDB, RunID: runID})
}

// session holds the collaborators of one updater invocation.
type session struct {
	cfg     *config.Updater
	tel     *telemetry.Telemetry
	store   *stores.SQLiteStore
	ui      *uiproto.Encoder
	uiClose func() error
	u       *updater.Updater
}

// newSession wires config, telemetry, store, UI stream and the updater.
// Only update runs (keepRecord false) reset the Partition Record.
func newSession(ctx context.Context, cfg *config.Updater, version, uiOut string, reader updater.Package, keepRecord bool) (*session, error) {
	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.Metrics.StartMetricsServer(); err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, tel: tel}

	if uiOut != "" {
		w, closeFn, err := openUIOutput(uiOut)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		s.ui = uiproto.NewEncoder(w)
		s.uiClose = closeFn
		tel.Events.Subscribe(s.ui.Subscriber(func(err error) {
			log.Warn().Err(err).Msg("Failed to write UI message")
		}))
	}

	runID := uuid.New().String()
	store, err := openStore(ctx, cfg, runID)
	if err != nil {
		s.close(ctx, nil)
		return nil, err
	}
	s.store = store

	opts := updater.Options{
		Config:     cfg,
		Store:      store,
		Reader:     reader,
		Telemetry:  tel,
		RunID:      runID,
		KeepRecord: keepRecord,
	}

	if cfg.Plugins.Library != "" {
		engine, err := policy.NewEngine(ctx, policy.Config{
			AllowedDirs:      cfg.Plugins.AllowedDirs,
			AllowedChecksums: cfg.Plugins.AllowedChecksums,
			ReservedNames:    script.ReservedNames(),
		}, tel.Logger.Zerolog())
		if err != nil {
			s.close(ctx, nil)
			return nil, err
		}
		if err := engine.LoadPolicies(ctx, cfg.Plugins.PolicyPaths); err != nil {
			s.close(ctx, nil)
			return nil, err
		}
		opts.Admitter = engine
		opts.LibraryLoader = wasmhost.NewLoader(wasmhost.Config{
			Timeout:          cfg.Plugins.TimeoutDuration(),
			MemoryLimitPages: cfg.Plugins.MemoryLimitPages,
			RequireManifest:  cfg.Plugins.RequireManifest,
		}, tel.Logger.Zerolog())
	}

	u, err := updater.New(ctx, opts)
	if err != nil {
		s.close(ctx, err)
		return nil, err
	}
	s.u = u
	return s, nil
}

// close shuts the session down and writes the run result to the UI stream.
func (s *session) close(ctx context.Context, runErr error) {
	ctx = context.WithoutCancel(ctx)
	if s.u != nil {
		if err := s.u.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to close registry")
		}
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if s.ui != nil {
		runID := ""
		if s.u != nil {
			runID = s.u.RunID()
		}
		msg := ""
		if runErr != nil {
			msg = runErr.Error()
		}
		if err := s.ui.EncodeResult(runID, script.StatusOf(runErr).String(), msg); err != nil {
			log.Warn().Err(err).Msg("Failed to write UI result")
		}
		if err := s.uiClose(); err != nil {
			log.Warn().Err(err).Msg("Failed to close UI output")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close partition record")
		}
	}
}

// openUIOutput opens "-" as stdout, or a file or fifo for writing.
func openUIOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open UI output: %w", err)
	}
	return f, f.Close, nil
}

// parseScriptFlag parses "name:priority".
func parseScriptFlag(v string) (string, int, error) {
	i := strings.LastIndex(v, ":")
	if i <= 0 || i == len(v)-1 {
		return "", 0, fmt.Errorf("invalid script %q, expected name:priority", v)
	}
	prio, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid priority in %q: %w", v, err)
	}
	return v[:i], prio, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
