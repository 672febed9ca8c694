package diffpatch

import (
	"context"
	"fmt"
	"os"

	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Patcher applies a binary patch to a source image.
type Patcher interface {
	// Apply reads sourcePath, applies the patch at patchPath and writes the
	// result to outputPath. Errors are returned as *CodecError.
	Apply(ctx context.Context, patchPath, sourcePath, outputPath string) error
}

// CodecError is a failure reported by the patch codec.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("patch %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// BSPatcher applies patches in the bsdiff 4.x format.
type BSPatcher struct{}

// NewBSPatcher creates a bsdiff patcher.
func NewBSPatcher() *BSPatcher {
	return &BSPatcher{}
}

// Apply implements Patcher.
func (p *BSPatcher) Apply(ctx context.Context, patchPath, sourcePath, outputPath string) error {
	patch, err := os.ReadFile(patchPath)
	if err != nil {
		return &CodecError{Op: "read patch", Err: err}
	}

	source, err := MapFile(sourcePath, 0)
	if err != nil {
		return &CodecError{Op: "map source", Err: err}
	}
	defer source.Close()

	if err := ctx.Err(); err != nil {
		return &CodecError{Op: "apply", Err: err}
	}

	out, err := bspatch.Bytes(source.Bytes(), patch)
	if err != nil {
		return &CodecError{Op: "apply", Err: err}
	}

	if err := WriteFileSync(outputPath, out, 0o600); err != nil {
		return &CodecError{Op: "write output", Err: err}
	}
	return nil
}
