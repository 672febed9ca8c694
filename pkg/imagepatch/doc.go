// Package imagepatch implements the partition patch instructions.
//
// image_patch applies a binary patch to a partition through a fixed
// sequence of stages:
//
//	param_check -> locate_patch_file -> locate_source_file -> apply ->
//	verify_destination -> commit -> cleanup
//
// On a retry attempt a partition already present in the Partition Record
// short-circuits to already_done before any storage is touched. The
// patched output is always verified against the expected destination hash
// before it is copied to the device, and the partition is recorded only
// after that copy succeeds.
//
// image_sha_check compares the leading bytes of a partition against an
// expected source hash. It succeeds without reading the device on retry.
//
// Both instructions push their final status as one integer output, and
// both write a diagnostic failure record before returning ExecutionFailed
// or IntegrityMismatch.
package imagepatch
