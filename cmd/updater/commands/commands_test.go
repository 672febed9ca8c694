package commands

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/otaupdater/pkg/script"
	"github.com/openfroyo/otaupdater/pkg/uiproto"
)

func writePackage(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "update.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create package: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
		if _, err := w.Write([]byte(data)); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close package: %v", err)
	}
	return path
}

// execute runs the root command with args against a fresh work directory
// and record database.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	configPath, workDir, recordDB, jsonOutput = "", "", "", false

	root := newRootCommand("test", "abc", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"--workdir", filepath.Join(dir, "work"),
		"--db", filepath.Join(dir, "record.db"),
	}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseScriptFlag(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		prio    int
		wantErr bool
	}{
		{in: "vendor-script:2", name: "vendor-script", prio: 2},
		{in: "dir/a:b:1", name: "dir/a:b", prio: 1},
		{in: "noprio", wantErr: true},
		{in: ":1", wantErr: true},
		{in: "x:", wantErr: true},
		{in: "x:one", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, prio, err := parseScriptFlag(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseScriptFlag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && (name != tt.name || prio != tt.prio) {
				t.Errorf("parseScriptFlag(%q) = %q, %d", tt.in, name, prio)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("Expected 0 for nil")
	}
	if got := ExitCode(os.ErrNotExist); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
	err := script.NewError(script.StatusAborted, "aborted", nil)
	if got := ExitCode(err); got != 10+int(script.StatusAborted) {
		t.Errorf("Unexpected exit code %d", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "updater test (commit: abc") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestInstructionsCommand(t *testing.T) {
	out, err := execute(t, t.TempDir(), "instructions")
	if err != nil {
		t.Fatalf("instructions failed: %v", err)
	}
	for _, name := range script.ReservedNames() {
		if !strings.Contains(out, name+" (reserved)") {
			t.Errorf("Missing %s in output %q", name, out)
		}
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "work"), 0o755); err != nil {
		t.Fatal(err)
	}
	pkg := writePackage(t, map[string]string{
		"updater-script": "show_progress(0.0, 0.5)\nui_print(\"hello\")\nset_progress(1.0)\n",
		"extra":          "ui_print(\"extra\")\n",
	})
	uiOut := filepath.Join(dir, "ui.jsonl")

	if _, err := execute(t, dir, "run", pkg, "--ui-out", uiOut, "--script", "extra:1"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	f, err := os.Open(uiOut)
	if err != nil {
		t.Fatalf("Failed to open UI output: %v", err)
	}
	defer f.Close()

	var cmds []string
	var result *uiproto.Message
	dec := uiproto.NewDecoder(f)
	for {
		msg, err := dec.Decode()
		if err != nil {
			break
		}
		if msg.Type == uiproto.MessageTypeResult {
			result = msg
			continue
		}
		cmds = append(cmds, msg.Command+"="+msg.Content)
	}

	want := "show_progress=0,0.5 ui_log=hello set_progress=1 ui_log=extra"
	if got := strings.Join(cmds, " "); got != want {
		t.Errorf("UI messages = %q, want %q", got, want)
	}
	if result == nil || result.Status != script.StatusSuccess.String() {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestRunCommandAbort(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "work"), 0o755); err != nil {
		t.Fatal(err)
	}
	pkg := writePackage(t, map[string]string{"updater-script": "abort(0)\n"})

	_, err := execute(t, dir, "run", pkg)
	if script.StatusOf(err) != script.StatusAborted {
		t.Fatalf("Expected Aborted, got %v", err)
	}
	if ExitCode(err) != 10+int(script.StatusAborted) {
		t.Errorf("Unexpected exit code %d", ExitCode(err))
	}

	if _, err := execute(t, dir, "run", pkg, "--script", "missing:1"); script.StatusOf(err) != script.StatusInvalidScript {
		t.Errorf("Expected InvalidScript, got %v", err)
	}
}

func TestRecordCommands(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "boot.img")
	if err := os.WriteFile(device, []byte("boot"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "updater.yaml")
	if err := os.WriteFile(cfgPath, []byte("partitions:\n  boot: "+device+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, dir, "--config", cfgPath, "check", "boot", "4", strings.Repeat("0", 64))
	if script.StatusOf(err) != script.StatusIntegrityMismatch {
		t.Fatalf("Expected IntegrityMismatch, got %v", err)
	}

	out, err := execute(t, dir, "--json", "record", "failures")
	if err != nil {
		t.Fatalf("record failures failed: %v", err)
	}
	var failures []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &failures); err != nil {
		t.Fatalf("Invalid JSON %q: %v", out, err)
	}
	if len(failures) != 1 || failures[0]["partition"] != "boot" || failures[0]["status"] != "IntegrityMismatch" {
		t.Errorf("Unexpected failures %v", failures)
	}

	out, err = execute(t, dir, "record", "list")
	if err != nil {
		t.Fatalf("record list failed: %v", err)
	}
	if !strings.Contains(out, "PARTITION") {
		t.Errorf("Unexpected list output %q", out)
	}

	if _, err := execute(t, dir, "record", "clear"); err != nil {
		t.Fatalf("record clear failed: %v", err)
	}
}
