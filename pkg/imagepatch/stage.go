package imagepatch

import "fmt"

// Stage identifies a step of the image_patch state machine.
type Stage string

const (
	// StageParamCheck validates inputs and resolves the device path.
	StageParamCheck Stage = "param_check"

	// StageAlreadyDone is the retry short-circuit for recorded partitions.
	StageAlreadyDone Stage = "already_done"

	// StageLocatePatchFile extracts the patch entry into the work directory.
	StageLocatePatchFile Stage = "locate_patch_file"

	// StageLocateSourceFile selects or creates the source backup.
	StageLocateSourceFile Stage = "locate_source_file"

	// StageApply runs the patch codec.
	StageApply Stage = "apply"

	// StageVerifyDestination checks the patched output digest.
	StageVerifyDestination Stage = "verify_destination"

	// StageCommit copies the verified output onto the device.
	StageCommit Stage = "commit"

	// StageCleanup records the partition and removes temporary files.
	StageCleanup Stage = "cleanup"

	// StageShaCheck is the single stage of image_sha_check.
	StageShaCheck Stage = "sha_check"
)

// IsTerminal reports whether the stage ends an image_patch run.
func (s Stage) IsTerminal() bool {
	return s == StageAlreadyDone || s == StageCleanup
}

// WritesDevice reports whether the stage may modify the target device.
func (s Stage) WritesDevice() bool {
	return s == StageCommit
}

// Validate checks that s is a known stage.
func (s Stage) Validate() error {
	switch s {
	case StageParamCheck, StageAlreadyDone, StageLocatePatchFile, StageLocateSourceFile,
		StageApply, StageVerifyDestination, StageCommit, StageCleanup, StageShaCheck:
		return nil
	default:
		return fmt.Errorf("invalid stage: %s", s)
	}
}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}
