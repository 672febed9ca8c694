package imagepatch

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/openfroyo/otaupdater/pkg/diffpatch"
	"github.com/openfroyo/otaupdater/pkg/partition"
	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/stores"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// Config holds the collaborators of the patch instructions.
type Config struct {
	// WorkDir holds the extracted patch, the source backup and the
	// patched output.
	WorkDir string

	// RunID is written to the Partition Record and the failure log.
	RunID string

	Resolver partition.Resolver
	Record   stores.PartitionRecord
	Failures stores.FailureLog

	// Patcher defaults to the bsdiff codec.
	Patcher diffpatch.Patcher

	// Copier defaults to diffpatch.FileCopier.
	Copier diffpatch.Copier
}

func (c Config) withDefaults() Config {
	if c.Patcher == nil {
		c.Patcher = diffpatch.NewBSPatcher()
	}
	if c.Copier == nil {
		c.Copier = diffpatch.FileCopier{}
	}
	if c.Resolver == nil {
		c.Resolver = partition.TableResolver{}
	}
	return c
}

// Instructions returns image_patch and image_sha_check keyed by name.
func Instructions(cfg Config) map[string]script.Instruction {
	return map[string]script.Instruction{
		script.NameImagePatch:    NewImagePatch(cfg),
		script.NameImageShaCheck: NewImageShaCheck(cfg),
	}
}

// workPath returns the work-directory file of a partition with suffix.
func (c Config) workPath(partitionName, suffix string) string {
	return filepath.Join(c.WorkDir, partitionName+suffix)
}

// resolve maps a partition name to its device path.
func (c Config) resolve(instruction, name string) (string, error) {
	if device, ok := c.Resolver.DevicePath(name); ok {
		return device, nil
	}
	return "", script.NewExecutionError("partition not found", nil).
		WithInstruction(instruction).
		WithPartition(name).
		WithStage(StageParamCheck.String())
}

// fail durably records err in the failure log and returns it.
// Failures to record are logged and do not replace err.
func (c Config) fail(ctx context.Context, err *script.Error) error {
	logger := telemetry.FromContext(ctx).WithPartition(err.Partition)

	if err.Status == script.StatusIntegrityMismatch {
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			tel.Metrics.RecordIntegrityMismatch(err.Partition, err.Stage)
		}
	}

	if c.Failures != nil {
		failure := &stores.Failure{
			RunID:       c.RunID,
			Instruction: err.Instruction,
			Partition:   err.Partition,
			Stage:       err.Stage,
			Status:      err.Status.String(),
			Message:     err.Message,
			CreatedAt:   time.Now(),
		}
		var codecErr *diffpatch.CodecError
		if errors.As(err, &codecErr) {
			failure.CodecError = codecErr.Error()
		} else if err.Err != nil {
			failure.CodecError = err.Err.Error()
		}
		if recErr := c.Failures.RecordFailure(ctx, failure); recErr != nil {
			logger.Error().Err(recErr).Msg("Failed to record failure")
		}
	}

	logger.Error().
		Err(err).
		Str("stage", err.Stage).
		Str("status", err.Status.String()).
		Msg("Partition operation failed")
	return err
}

// runStage runs fn inside an instrumented stage.
func runStage(ctx context.Context, partitionName string, stage Stage, fn func(ctx context.Context) error) error {
	ic := telemetry.StartStage(ctx, partitionName, stage.String())
	ic.Logger.Debug().Msg("Stage started")

	err := fn(ic.Ctx)
	ic.End(err)

	if err == nil {
		ic.Logger.Debug().Dur("duration", ic.Timer.Duration()).Msg("Stage completed")
	}
	return err
}
