package imagepatch

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/otaupdater/pkg/diffpatch"
	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// Work directory suffixes.
const (
	patchSuffix  = ".patch.dat"
	backupSuffix = ".backup"
	newSuffix    = ".new"
)

// ImagePatch is the image_patch instruction.
type ImagePatch struct {
	cfg Config
}

// NewImagePatch creates the image_patch instruction.
func NewImagePatch(cfg Config) *ImagePatch {
	return &ImagePatch{cfg: cfg.withDefaults()}
}

// Execute implements script.Instruction. The final status is always pushed
// as one integer output.
func (p *ImagePatch) Execute(ctx context.Context, env script.Env, sc *script.Context) error {
	err := p.execute(ctx, env, sc)
	sc.PushStatus(err)
	return err
}

// patchRun is the state of one image_patch invocation.
type patchRun struct {
	cfg    Config
	env    script.Env
	params *imageParams
	device string

	patchPath  string
	backupPath string
	newPath    string
	sourcePath string
}

func (p *ImagePatch) execute(ctx context.Context, env script.Env, sc *script.Context) error {
	params, err := parseParams(sc, patchParamCount)
	if err != nil {
		return asInstructionError(err)
	}

	logger := telemetry.FromContext(ctx).WithInstruction(script.NameImagePatch).WithPartition(params.Partition)
	ctx = logger.WithContext(ctx)

	device, err := p.cfg.resolve(script.NameImagePatch, params.Partition)
	if err != nil {
		return p.cfg.fail(ctx, script.AsError(err))
	}

	if env.IsRetry() {
		done, err := p.alreadyDone(ctx, params.Partition)
		if err != nil {
			return p.cfg.fail(ctx, stageError(params.Partition, StageParamCheck, "failed to query partition record", err))
		}
		if done {
			logger.Info().Str("stage", StageAlreadyDone.String()).Msg("Partition already updated, skipping")
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				tel.Metrics.RecordRetryShortCircuit(script.NameImagePatch)
			}
			return nil
		}
	}

	run := &patchRun{
		cfg:        p.cfg,
		env:        env,
		params:     params,
		device:     device,
		patchPath:  p.cfg.workPath(params.Partition, patchSuffix),
		backupPath: p.cfg.workPath(params.Partition, backupSuffix),
		newPath:    p.cfg.workPath(params.Partition, newSuffix),
	}
	defer run.cleanupFiles(ctx)

	stages := []struct {
		stage Stage
		fn    func(ctx context.Context) error
	}{
		{StageLocatePatchFile, run.locatePatchFile},
		{StageLocateSourceFile, run.locateSourceFile},
		{StageApply, run.apply},
		{StageVerifyDestination, run.verifyDestination},
		{StageCommit, run.commit},
		{StageCleanup, run.record},
	}
	for _, s := range stages {
		if err := runStage(ctx, params.Partition, s.stage, s.fn); err != nil {
			return p.cfg.fail(ctx, script.AsError(err))
		}
	}

	logger.Info().Str("device", device).Msg("Partition patched")
	return nil
}

func (p *ImagePatch) alreadyDone(ctx context.Context, name string) (bool, error) {
	if p.cfg.Record == nil {
		return false, nil
	}
	return p.cfg.Record.IsUpdated(ctx, name)
}

// locatePatchFile extracts the patch entry into the work directory.
func (r *patchRun) locatePatchFile(ctx context.Context) error {
	reader := r.env.PackageReader()
	if reader == nil {
		return stageError(r.params.Partition, StageLocatePatchFile, "no package reader", nil)
	}

	info, ok := reader.FileInfo(r.params.PatchFile)
	if !ok {
		return stageError(r.params.Partition, StageLocatePatchFile,
			fmt.Sprintf("patch entry %s not found", r.params.PatchFile), nil)
	}

	stream, err := reader.CreateOutputStream(r.patchPath, info.UnpackedSize, 0o600)
	if err != nil {
		return stageError(r.params.Partition, StageLocatePatchFile, "failed to create patch stream", err)
	}
	if err := reader.ExtractFile(r.params.PatchFile, stream); err != nil {
		_ = reader.CloseStream(stream)
		return stageError(r.params.Partition, StageLocatePatchFile, "failed to extract patch", err)
	}
	if err := reader.CloseStream(stream); err != nil {
		return stageError(r.params.Partition, StageLocatePatchFile, "failed to close patch stream", err)
	}

	telemetry.FromContext(ctx).Debug().
		Str("entry", r.params.PatchFile).
		Int64("size", info.UnpackedSize).
		Msg("Patch extracted")
	return nil
}

// locateSourceFile reuses a backup matching the source hash, or copies the
// device content into a fresh backup.
func (r *patchRun) locateSourceFile(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)

	if _, err := os.Stat(r.backupPath); err == nil {
		digest, err := diffpatch.DigestFile(r.backupPath, 0)
		if err == nil && diffpatch.HashEqual(digest, r.params.SrcHash) {
			logger.Info().Str("backup", r.backupPath).Msg("Using existing source backup")
			r.sourcePath = r.backupPath
			return nil
		}
		logger.Warn().Str("backup", r.backupPath).Msg("Discarding stale source backup")
	}

	n, err := r.cfg.Copier.CopyFile(r.device, r.backupPath, r.params.SrcSize)
	if err != nil {
		return stageError(r.params.Partition, StageLocateSourceFile, "failed to back up device", err)
	}

	logger.Debug().Int64("bytes", n).Str("backup", r.backupPath).Msg("Source backup created")
	r.sourcePath = r.backupPath
	return nil
}

func (r *patchRun) apply(ctx context.Context) error {
	if err := r.cfg.Patcher.Apply(ctx, r.patchPath, r.sourcePath, r.newPath); err != nil {
		return stageError(r.params.Partition, StageApply, "patch apply failed", err)
	}
	return nil
}

// verifyDestination is the gate before any device write.
func (r *patchRun) verifyDestination(ctx context.Context) error {
	digest, err := diffpatch.DigestFile(r.newPath, 0)
	if err != nil {
		return stageError(r.params.Partition, StageVerifyDestination, "failed to hash patched output", err)
	}

	if !diffpatch.HashEqual(digest, r.params.DstHash) {
		return script.NewIntegrityError(r.params.DstHash, digest).
			WithInstruction(script.NameImagePatch).
			WithPartition(r.params.Partition).
			WithStage(StageVerifyDestination.String())
	}

	if r.params.DstSize > 0 {
		info, err := os.Stat(r.newPath)
		if err != nil {
			return stageError(r.params.Partition, StageVerifyDestination, "failed to stat patched output", err)
		}
		if info.Size() != r.params.DstSize {
			return script.NewError(script.StatusIntegrityMismatch, "patched output size mismatch", nil).
				WithInstruction(script.NameImagePatch).
				WithPartition(r.params.Partition).
				WithStage(StageVerifyDestination.String()).
				WithDetail("expected", r.params.DstSize).
				WithDetail("actual", info.Size())
		}
	}

	telemetry.FromContext(ctx).Debug().Str("digest", digest).Msg("Patched output verified")
	return nil
}

func (r *patchRun) commit(ctx context.Context) error {
	n, err := r.cfg.Copier.CopyFile(r.newPath, r.device, 0)
	if err != nil {
		return stageError(r.params.Partition, StageCommit, "failed to write device", err)
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordCommit(r.params.Partition, n)
	}
	removeBestEffort(ctx, r.newPath)
	return nil
}

// record marks the partition as updated. It runs only after a commit.
func (r *patchRun) record(ctx context.Context) error {
	if r.cfg.Record == nil {
		return nil
	}
	if err := r.cfg.Record.MarkUpdated(ctx, r.params.Partition); err != nil {
		return stageError(r.params.Partition, StageCleanup, "failed to record partition", err)
	}
	return nil
}

// cleanupFiles removes the work files regardless of outcome.
func (r *patchRun) cleanupFiles(ctx context.Context) {
	for _, path := range []string{r.patchPath, r.backupPath, r.newPath} {
		removeBestEffort(ctx, path)
	}
}

func removeBestEffort(ctx context.Context, path string) {
	if err := diffpatch.Remove(path); err != nil {
		telemetry.FromContext(ctx).Warn().Err(err).Str("path", path).Msg("Failed to remove work file")
	}
}

func stageError(partitionName string, stage Stage, message string, err error) *script.Error {
	return script.NewExecutionError(message, err).
		WithInstruction(script.NameImagePatch).
		WithPartition(partitionName).
		WithStage(stage.String())
}

// asInstructionError tags a validation error with the instruction name.
func asInstructionError(err error) error {
	if se := script.AsError(err); se != nil {
		return se.WithInstruction(script.NameImagePatch)
	}
	return err
}
