package imagepatch

import (
	"context"

	"github.com/openfroyo/otaupdater/pkg/diffpatch"
	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// ImageShaCheck is the image_sha_check instruction.
type ImageShaCheck struct {
	cfg Config
}

// NewImageShaCheck creates the image_sha_check instruction.
func NewImageShaCheck(cfg Config) *ImageShaCheck {
	return &ImageShaCheck{cfg: cfg.withDefaults()}
}

// Execute implements script.Instruction. The final status is always pushed
// as one integer output.
func (c *ImageShaCheck) Execute(ctx context.Context, env script.Env, sc *script.Context) error {
	err := c.execute(ctx, env, sc)
	sc.PushStatus(err)
	return err
}

func (c *ImageShaCheck) execute(ctx context.Context, env script.Env, sc *script.Context) error {
	if env.IsRetry() {
		telemetry.FromContext(ctx).Debug().Msg("Retry attempt, skipping sha check")
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			tel.Metrics.RecordRetryShortCircuit(script.NameImageShaCheck)
		}
		return nil
	}

	params, err := parseParams(sc, shaCheckParamCount)
	if err != nil {
		if se := script.AsError(err); se != nil {
			return se.WithInstruction(script.NameImageShaCheck)
		}
		return err
	}

	ctx = telemetry.FromContext(ctx).WithInstruction(script.NameImageShaCheck).WithContext(ctx)

	device, err := c.cfg.resolve(script.NameImageShaCheck, params.Partition)
	if err != nil {
		return c.cfg.fail(ctx, script.AsError(err))
	}

	err = runStage(ctx, params.Partition, StageShaCheck, func(ctx context.Context) error {
		digest, err := diffpatch.DigestFile(device, params.SrcSize)
		if err != nil {
			return script.NewExecutionError("failed to hash device", err).
				WithInstruction(script.NameImageShaCheck).
				WithPartition(params.Partition).
				WithStage(StageShaCheck.String())
		}
		if !diffpatch.HashEqual(digest, params.SrcHash) {
			return script.NewIntegrityError(params.SrcHash, digest).
				WithInstruction(script.NameImageShaCheck).
				WithPartition(params.Partition).
				WithStage(StageShaCheck.String())
		}
		return nil
	})
	if err != nil {
		return c.cfg.fail(ctx, script.AsError(err))
	}

	telemetry.FromContext(ctx).Debug().Str("partition", params.Partition).Msg("Partition hash verified")
	return nil
}
