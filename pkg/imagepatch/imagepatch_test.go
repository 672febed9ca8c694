package imagepatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"

	"github.com/openfroyo/otaupdater/pkg/diffpatch"
	"github.com/openfroyo/otaupdater/pkg/partition"
	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/stores"
)

// memReader is an in-memory package reader.
type memReader struct {
	entries  map[string][]byte
	lookups  int
	extracts int
}

func (r *memReader) FileInfo(name string) (script.FileInfo, bool) {
	r.lookups++
	data, ok := r.entries[name]
	if !ok {
		return script.FileInfo{}, false
	}
	return script.FileInfo{Name: name, PackedSize: int64(len(data)), UnpackedSize: int64(len(data))}, true
}

func (r *memReader) ExtractFile(name string, w io.Writer) error {
	r.extracts++
	data, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("entry %s not found", name)
	}
	_, err := w.Write(data)
	return err
}

func (r *memReader) CreateOutputStream(path string, _ int64, mode os.FileMode) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
}

func (r *memReader) CloseStream(w io.WriteCloser) error {
	return w.Close()
}

type testEnv struct {
	retry  bool
	reader script.PackageReader
}

func (e *testEnv) IsRetry() bool                       { return e.retry }
func (e *testEnv) PackageReader() script.PackageReader { return e.reader }
func (e *testEnv) PostMessage(string, string)          {}
func (e *testEnv) TraceWriter() io.Writer              { return io.Discard }

// countingCopier counts copies whose destination is the device.
type countingCopier struct {
	device string
	writes int
	inner  diffpatch.FileCopier
}

func (c *countingCopier) CopyFile(src, dst string, length int64) (int64, error) {
	if dst == c.device {
		c.writes++
	}
	return c.inner.CopyFile(src, dst, length)
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	workDir string
	device  string
	oldData []byte
	newData []byte
	reader  *memReader
	store   *stores.MemoryStore
	copier  *countingCopier
	cfg     Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	if err := os.Mkdir(workDir, 0o755); err != nil {
		t.Fatalf("Failed to create work dir: %v", err)
	}

	oldData := bytes.Repeat([]byte("system image v1 "), 256)
	newData := append(bytes.Repeat([]byte("system image v2 "), 250), []byte("new tail")...)
	patch, err := bsdiff.Bytes(oldData, newData)
	if err != nil {
		t.Fatalf("Failed to create patch: %v", err)
	}

	device := filepath.Join(dir, "system.img")
	if err := os.WriteFile(device, oldData, 0o644); err != nil {
		t.Fatalf("Failed to write device: %v", err)
	}

	f := &fixture{
		workDir: workDir,
		device:  device,
		oldData: oldData,
		newData: newData,
		reader:  &memReader{entries: map[string][]byte{"system.patch.dat": patch}},
		store:   stores.NewMemoryStore(),
		copier:  &countingCopier{device: device},
	}
	f.cfg = Config{
		WorkDir:  workDir,
		RunID:    "run-1",
		Resolver: partition.TableResolver{"system": device},
		Record:   f.store,
		Failures: f.store,
		Copier:   f.copier,
	}
	return f
}

func (f *fixture) patchInputs(dstHash string) []script.Value {
	return []script.Value{
		script.StringValue("system"),
		script.StringValue(strconv.Itoa(len(f.oldData))),
		script.StringValue(sha(f.oldData)),
		script.StringValue(strconv.Itoa(len(f.newData))),
		script.StringValue(dstHash),
		script.StringValue("system.patch.dat"),
	}
}

func (f *fixture) deviceContent(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(f.device)
	if err != nil {
		t.Fatalf("Failed to read device: %v", err)
	}
	return data
}

func execute(t *testing.T, inst script.Instruction, env script.Env, inputs []script.Value) (*script.Context, error) {
	t.Helper()
	sc := script.NewContext(inputs...)
	err := inst.Execute(context.Background(), env, sc)
	outputs := sc.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("Expected exactly one status output, got %v", outputs)
	}
	if outputs[0] != script.IntegerValue(script.StatusOf(err)) {
		t.Errorf("Pushed status %v does not match returned status %s", outputs[0], script.StatusOf(err))
	}
	return sc, err
}

func assertNoWorkFiles(t *testing.T, workDir string) {
	t.Helper()
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatalf("Failed to read work dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("Unexpected work file left behind: %s", e.Name())
	}
}

func TestImagePatchRoundTrip(t *testing.T) {
	f := newFixture(t)
	inst := NewImagePatch(f.cfg)

	// Upper-case expected hash checks case-insensitive comparison.
	_, err := execute(t, inst, &testEnv{reader: f.reader}, f.patchInputs(strings.ToUpper(sha(f.newData))))
	if err != nil {
		t.Fatalf("image_patch failed: %v", err)
	}

	if !bytes.Equal(f.deviceContent(t), f.newData) {
		t.Error("Device content differs from patched content")
	}
	if f.copier.writes != 1 {
		t.Errorf("Expected one device write, got %d", f.copier.writes)
	}

	updated, err := f.store.IsUpdated(context.Background(), "system")
	if err != nil {
		t.Fatalf("IsUpdated failed: %v", err)
	}
	if !updated {
		t.Error("Expected partition to be recorded as updated")
	}
	assertNoWorkFiles(t, f.workDir)
}

func TestImagePatchIntegrityGate(t *testing.T) {
	f := newFixture(t)
	inst := NewImagePatch(f.cfg)

	_, err := execute(t, inst, &testEnv{reader: f.reader}, f.patchInputs(sha([]byte("something else"))))
	if !errors.Is(err, script.ErrIntegrityMismatch) {
		t.Fatalf("Expected integrity mismatch, got %v", err)
	}

	if !bytes.Equal(f.deviceContent(t), f.oldData) {
		t.Error("Device must be unmodified after an integrity failure")
	}
	if f.copier.writes != 0 {
		t.Errorf("Expected no device writes, got %d", f.copier.writes)
	}
	if f.store.Marks() != 0 {
		t.Error("Partition must not be recorded after an integrity failure")
	}

	failures, err := f.store.ListFailures(context.Background(), -1)
	if err != nil {
		t.Fatalf("ListFailures failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected one failure record, got %d", len(failures))
	}
	got := failures[0]
	if got.Partition != "system" || got.Stage != string(StageVerifyDestination) ||
		got.Status != script.StatusIntegrityMismatch.String() || got.RunID != "run-1" {
		t.Errorf("Unexpected failure record: %+v", got)
	}
	assertNoWorkFiles(t, f.workDir)
}

func TestImagePatchRetryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	inst := NewImagePatch(f.cfg)
	inputs := f.patchInputs(sha(f.newData))

	if _, err := execute(t, inst, &testEnv{reader: f.reader}, inputs); err != nil {
		t.Fatalf("First image_patch failed: %v", err)
	}
	writes, lookups := f.copier.writes, f.reader.lookups

	if _, err := execute(t, inst, &testEnv{retry: true, reader: f.reader}, inputs); err != nil {
		t.Fatalf("Retried image_patch failed: %v", err)
	}
	if f.copier.writes != writes {
		t.Errorf("Retry wrote the device: %d writes, want %d", f.copier.writes, writes)
	}
	if f.reader.lookups != lookups {
		t.Error("Retry must not read the package")
	}
	if !bytes.Equal(f.deviceContent(t), f.newData) {
		t.Error("Device content changed on retry")
	}
}

func TestImagePatchRetryWithoutRecordRuns(t *testing.T) {
	f := newFixture(t)
	inst := NewImagePatch(f.cfg)

	if _, err := execute(t, inst, &testEnv{retry: true, reader: f.reader}, f.patchInputs(sha(f.newData))); err != nil {
		t.Fatalf("image_patch failed: %v", err)
	}
	if f.copier.writes != 1 {
		t.Errorf("Expected one device write, got %d", f.copier.writes)
	}
}

func TestImagePatchUsesMatchingBackup(t *testing.T) {
	f := newFixture(t)

	// An interrupted commit leaves a half-written device and the backup.
	if err := os.WriteFile(filepath.Join(f.workDir, "system.backup"), f.oldData, 0o600); err != nil {
		t.Fatalf("Failed to write backup: %v", err)
	}
	if err := os.WriteFile(f.device, f.newData[:100], 0o644); err != nil {
		t.Fatalf("Failed to corrupt device: %v", err)
	}

	inst := NewImagePatch(f.cfg)
	if _, err := execute(t, inst, &testEnv{retry: true, reader: f.reader}, f.patchInputs(sha(f.newData))); err != nil {
		t.Fatalf("image_patch failed: %v", err)
	}
	if !bytes.Equal(f.deviceContent(t), f.newData) {
		t.Error("Device content differs from patched content")
	}
	assertNoWorkFiles(t, f.workDir)
}

func TestImagePatchFailures(t *testing.T) {
	t.Run("parameter count", func(t *testing.T) {
		f := newFixture(t)
		_, err := execute(t, NewImagePatch(f.cfg), &testEnv{reader: f.reader}, f.patchInputs(sha(f.newData))[:5])
		if !errors.Is(err, script.ErrParameterCount) {
			t.Fatalf("Expected parameter count error, got %v", err)
		}
		if f.reader.lookups != 0 || f.copier.writes != 0 {
			t.Error("Parameter errors must not touch storage")
		}
	})

	t.Run("invalid size", func(t *testing.T) {
		f := newFixture(t)
		inputs := f.patchInputs(sha(f.newData))
		inputs[1] = script.StringValue("lots")
		_, err := execute(t, NewImagePatch(f.cfg), &testEnv{reader: f.reader}, inputs)
		if !errors.Is(err, script.ErrParameterType) {
			t.Fatalf("Expected parameter type error, got %v", err)
		}
	})

	t.Run("unknown partition", func(t *testing.T) {
		f := newFixture(t)
		inputs := f.patchInputs(sha(f.newData))
		inputs[0] = script.StringValue("vendor")
		_, err := execute(t, NewImagePatch(f.cfg), &testEnv{reader: f.reader}, inputs)
		if !errors.Is(err, script.ErrExecutionFailed) {
			t.Fatalf("Expected execution failure, got %v", err)
		}
		failures, _ := f.store.ListFailures(context.Background(), -1)
		if len(failures) != 1 || failures[0].Stage != string(StageParamCheck) {
			t.Errorf("Expected a param_check failure record, got %+v", failures)
		}
	})

	t.Run("missing patch entry", func(t *testing.T) {
		f := newFixture(t)
		inputs := f.patchInputs(sha(f.newData))
		inputs[5] = script.StringValue("missing.patch.dat")
		_, err := execute(t, NewImagePatch(f.cfg), &testEnv{reader: f.reader}, inputs)
		if !errors.Is(err, script.ErrExecutionFailed) {
			t.Fatalf("Expected execution failure, got %v", err)
		}
		if !bytes.Equal(f.deviceContent(t), f.oldData) {
			t.Error("Device must be unmodified")
		}
		failures, _ := f.store.ListFailures(context.Background(), -1)
		if len(failures) != 1 || failures[0].Stage != string(StageLocatePatchFile) {
			t.Errorf("Expected a locate_patch_file failure record, got %+v", failures)
		}
	})

	t.Run("corrupt patch", func(t *testing.T) {
		f := newFixture(t)
		f.reader.entries["system.patch.dat"] = []byte("not a patch")
		_, err := execute(t, NewImagePatch(f.cfg), &testEnv{reader: f.reader}, f.patchInputs(sha(f.newData)))
		if !errors.Is(err, script.ErrExecutionFailed) {
			t.Fatalf("Expected execution failure, got %v", err)
		}
		var codecErr *diffpatch.CodecError
		if !errors.As(err, &codecErr) {
			t.Errorf("Expected codec error to be propagated, got %v", err)
		}
		failures, _ := f.store.ListFailures(context.Background(), -1)
		if len(failures) != 1 || failures[0].Stage != string(StageApply) || failures[0].CodecError == "" {
			t.Errorf("Expected an apply failure record with codec error, got %+v", failures)
		}
		if f.copier.writes != 0 {
			t.Error("Device must not be written after a codec failure")
		}
		assertNoWorkFiles(t, f.workDir)
	})
}

func TestImageShaCheck(t *testing.T) {
	f := newFixture(t)
	inst := NewImageShaCheck(f.cfg)
	inputs := func(size int, hash string) []script.Value {
		return []script.Value{
			script.StringValue("system"),
			script.StringValue(strconv.Itoa(size)),
			script.StringValue(hash),
			script.StringValue(strconv.Itoa(len(f.newData))),
			script.StringValue(sha(f.newData)),
		}
	}

	t.Run("match", func(t *testing.T) {
		if _, err := execute(t, inst, &testEnv{}, inputs(len(f.oldData), sha(f.oldData))); err != nil {
			t.Errorf("Expected success, got %v", err)
		}
	})

	t.Run("size bounded", func(t *testing.T) {
		if _, err := execute(t, inst, &testEnv{}, inputs(100, sha(f.oldData[:100]))); err != nil {
			t.Errorf("Expected success for leading bytes, got %v", err)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		_, err := execute(t, inst, &testEnv{}, inputs(len(f.oldData), sha(f.newData)))
		if !errors.Is(err, script.ErrIntegrityMismatch) {
			t.Errorf("Expected integrity mismatch, got %v", err)
		}
	})

	t.Run("retry never reads the device", func(t *testing.T) {
		cfg := f.cfg
		cfg.Resolver = partition.TableResolver{}
		_, err := execute(t, NewImageShaCheck(cfg), &testEnv{retry: true}, inputs(len(f.oldData), "00"))
		if err != nil {
			t.Errorf("Expected success on retry, got %v", err)
		}
	})

	t.Run("parameter count", func(t *testing.T) {
		_, err := execute(t, inst, &testEnv{}, inputs(len(f.oldData), sha(f.oldData))[:4])
		if !errors.Is(err, script.ErrParameterCount) {
			t.Errorf("Expected parameter count error, got %v", err)
		}
	})

	t.Run("unknown partition", func(t *testing.T) {
		in := inputs(len(f.oldData), sha(f.oldData))
		in[0] = script.StringValue("vendor")
		_, err := execute(t, inst, &testEnv{}, in)
		if !errors.Is(err, script.ErrExecutionFailed) {
			t.Errorf("Expected execution failure, got %v", err)
		}
	})
}

func TestStage(t *testing.T) {
	for _, s := range []Stage{StageParamCheck, StageAlreadyDone, StageLocatePatchFile, StageLocateSourceFile,
		StageApply, StageVerifyDestination, StageCommit, StageCleanup, StageShaCheck} {
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%s) failed: %v", s, err)
		}
	}
	if err := Stage("bogus").Validate(); err == nil {
		t.Error("Expected unknown stage to be invalid")
	}
	if !StageCommit.WritesDevice() || StageVerifyDestination.WritesDevice() {
		t.Error("Only the commit stage writes the device")
	}
	if !StageAlreadyDone.IsTerminal() || StageApply.IsTerminal() {
		t.Error("Unexpected terminal stages")
	}
}
