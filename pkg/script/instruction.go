package script

import (
	"context"
	"io"
	"os"
)

// Built-in instruction names. Together they form the reserved-name set.
const (
	NameAbort         = "abort"
	NameAssert        = "assert"
	NameSleep         = "sleep"
	NameConcat        = "concat"
	NameIsSubstring   = "is_substring"
	NameStdout        = "stdout"
	NameSetProgress   = "set_progress"
	NameShowProgress  = "show_progress"
	NameUIPrint       = "ui_print"
	NamePkgExtract    = "pkg_extract"
	NameImagePatch    = "image_patch"
	NameImageShaCheck = "image_sha_check"
)

// ReservedNames returns the fixed set of built-in instruction names.
func ReservedNames() []string {
	return []string{
		NameAbort,
		NameAssert,
		NameSleep,
		NameConcat,
		NameIsSubstring,
		NameStdout,
		NameSetProgress,
		NameShowProgress,
		NameUIPrint,
		NamePkgExtract,
		NameImagePatch,
		NameImageShaCheck,
	}
}

// Instruction is a named, stateless unit of script work. Execute reads its
// inputs from sc, may push outputs into sc and returns nil on success or an
// error whose Status (see StatusOf) is the outcome.
type Instruction interface {
	Execute(ctx context.Context, env Env, sc *Context) error
}

// InstructionFunc adapts a function to the Instruction interface.
type InstructionFunc func(ctx context.Context, env Env, sc *Context) error

// Execute calls f.
func (f InstructionFunc) Execute(ctx context.Context, env Env, sc *Context) error {
	return f(ctx, env, sc)
}

// Env is the read-only facade instructions run against.
type Env interface {
	// IsRetry reports whether this run resumes an interrupted attempt.
	IsRetry() bool

	// PackageReader returns the reader of the update package.
	PackageReader() PackageReader

	// PostMessage publishes a UI message. Delivery is asynchronous.
	PostMessage(cmd, content string)

	// TraceWriter returns the sink of the stdout instruction.
	TraceWriter() io.Writer
}

// UI message commands posted by the built-in instructions.
const (
	MessageSetProgress  = "set_progress"
	MessageShowProgress = "show_progress"
	MessageUIPrint      = "ui_log"
)

// FileInfo describes an entry of the update package.
type FileInfo struct {
	Name         string `json:"name"`
	PackedSize   int64  `json:"packed_size"`
	UnpackedSize int64  `json:"unpacked_size"`
	Compressed   bool   `json:"compressed"`
}

// PackageReader extracts named entries of the update package.
type PackageReader interface {
	// FileInfo returns the metadata of an entry, or false if it does not exist.
	FileInfo(name string) (FileInfo, bool)

	// ExtractFile writes the unpacked content of an entry to w.
	ExtractFile(name string, w io.Writer) error

	// CreateOutputStream creates a file stream expected to receive size bytes.
	CreateOutputStream(path string, size int64, mode os.FileMode) (io.WriteCloser, error)

	// CloseStream flushes and closes a stream created by CreateOutputStream.
	CloseStream(w io.WriteCloser) error
}

// Factory constructs instructions by name. A factory returns an error with
// StatusInstructionNotFound when it does not know the name and
// StatusInstructionConstructionFailed when construction fails.
type Factory interface {
	CreateInstruction(ctx context.Context, name string) (Instruction, error)
}

// Library is an opened external instruction library.
type Library interface {
	// Factory invokes the library's factory accessor.
	Factory(ctx context.Context) (Factory, error)

	// ReleaseFactory invokes the library's factory release function.
	ReleaseFactory(ctx context.Context, f Factory) error

	// Close unloads the library.
	Close(ctx context.Context) error
}

// LibraryLoader opens external instruction libraries. Open must fail when
// the library lacks the factory accessor or the factory release function.
type LibraryLoader interface {
	Open(ctx context.Context, path string) (Library, error)
}

// AdmissionRequest describes an external library load to an Admitter.
type AdmissionRequest struct {
	Path        string `json:"path"`
	Dir         string `json:"dir"`
	Checksum    string `json:"checksum"`
	Instruction string `json:"instruction"`
}

// Admitter decides whether an external library may be loaded.
type Admitter interface {
	Admit(ctx context.Context, req AdmissionRequest) error
}
