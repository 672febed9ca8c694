package imagepatch

import (
	"fmt"
	"strconv"

	"github.com/openfroyo/otaupdater/pkg/script"
)

const (
	patchParamCount    = 6
	shaCheckParamCount = 5
)

// imageParams are the inputs shared by image_patch and image_sha_check.
type imageParams struct {
	Partition string
	SrcSize   int64
	SrcHash   string
	DstSize   int64
	DstHash   string
	PatchFile string
}

// parseParams reads the first n inputs. n is 6 for image_patch, where the
// last input names the patch entry, and 5 for image_sha_check.
func parseParams(sc *script.Context, n int) (*imageParams, error) {
	if sc.ParamCount() != n {
		return nil, script.NewParameterCountError(n, sc.ParamCount())
	}

	var p imageParams
	var err error
	if p.Partition, err = sc.StringParam(0); err != nil {
		return nil, err
	}
	if p.SrcSize, err = sizeParam(sc, 1); err != nil {
		return nil, err
	}
	if p.SrcHash, err = sc.StringParam(2); err != nil {
		return nil, err
	}
	if p.DstSize, err = sizeParam(sc, 3); err != nil {
		return nil, err
	}
	if p.DstHash, err = sc.StringParam(4); err != nil {
		return nil, err
	}
	if n == patchParamCount {
		if p.PatchFile, err = sc.StringParam(5); err != nil {
			return nil, err
		}
	}

	if p.Partition == "" {
		return nil, script.NewParameterTypeError("partition name is empty", nil)
	}
	return &p, nil
}

// sizeParam reads a size given as a decimal string or an integer.
func sizeParam(sc *script.Context, i int) (int64, error) {
	v, err := sc.Param(i)
	if err != nil {
		return 0, err
	}

	switch tv := v.(type) {
	case script.IntegerValue:
		if tv < 0 {
			return 0, script.NewParameterTypeError(fmt.Sprintf("size at index %d is negative", i), nil)
		}
		return int64(tv), nil
	case script.StringValue:
		n, err := strconv.ParseInt(string(tv), 10, 64)
		if err != nil || n < 0 {
			return 0, script.NewParameterTypeError(fmt.Sprintf("invalid size at index %d: %q", i, string(tv)), err)
		}
		return n, nil
	default:
		return 0, script.NewParameterTypeError(fmt.Sprintf("size at index %d must be a string or integer", i), nil).
			WithDetail("type", v.Type().String())
	}
}
