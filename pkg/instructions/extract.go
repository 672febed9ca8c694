package instructions

import (
	"context"
	"fmt"

	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// PkgExtract writes a package entry to a file: (entry, destination path).
type PkgExtract struct{}

// Execute implements script.Instruction.
func (PkgExtract) Execute(ctx context.Context, env script.Env, sc *script.Context) error {
	if sc.ParamCount() != 2 {
		return script.NewParameterCountError(2, sc.ParamCount()).WithInstruction(script.NamePkgExtract)
	}
	entry, err := sc.StringParam(0)
	if err != nil {
		return err
	}
	dest, err := sc.StringParam(1)
	if err != nil {
		return err
	}

	reader := env.PackageReader()
	if reader == nil {
		return script.NewExecutionError("no package reader", nil).WithInstruction(script.NamePkgExtract)
	}
	info, ok := reader.FileInfo(entry)
	if !ok {
		return script.NewExecutionError(fmt.Sprintf("package entry %s not found", entry), nil).
			WithInstruction(script.NamePkgExtract)
	}

	stream, err := reader.CreateOutputStream(dest, info.UnpackedSize, 0o644)
	if err != nil {
		return script.NewExecutionError("failed to create output stream", err).WithInstruction(script.NamePkgExtract)
	}
	if err := reader.ExtractFile(entry, stream); err != nil {
		_ = reader.CloseStream(stream)
		return script.NewExecutionError("failed to extract entry", err).WithInstruction(script.NamePkgExtract)
	}
	if err := reader.CloseStream(stream); err != nil {
		return script.NewExecutionError("failed to close output stream", err).WithInstruction(script.NamePkgExtract)
	}

	telemetry.FromContext(ctx).Debug().
		Str("entry", entry).
		Str("dest", dest).
		Int64("size", info.UnpackedSize).
		Msg("Package entry extracted")
	return nil
}
