package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/otaupdater/pkg/script"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	eng := newTestEngine(t, Config{})
	policies := eng.ListPolicies()
	if len(policies) != 1 || policies[0].Name != "library-admission" {
		t.Errorf("Unexpected built-in policies: %+v", policies)
	}
}

func TestAdmit(t *testing.T) {
	pluginDir := canonicalDir(t.TempDir())
	otherDir := canonicalDir(t.TempDir())

	eng := newTestEngine(t, Config{
		AllowedDirs:   []string{pluginDir},
		ReservedNames: script.ReservedNames(),
	})

	tests := []struct {
		name      string
		req       script.AdmissionRequest
		wantAllow bool
		wantMsg   string
	}{
		{
			name: "allowed directory",
			req: script.AdmissionRequest{
				Path: filepath.Join(pluginDir, "sample.wasm"), Dir: pluginDir,
				Checksum: "sha256:00", Instruction: "uppercase",
			},
			wantAllow: true,
		},
		{
			name: "nested directory",
			req: script.AdmissionRequest{
				Path: filepath.Join(pluginDir, "vendor", "sample.wasm"), Dir: filepath.Join(pluginDir, "vendor"),
				Checksum: "sha256:00", Instruction: "uppercase",
			},
			wantAllow: true,
		},
		{
			name: "sibling with shared prefix",
			req: script.AdmissionRequest{
				Path: pluginDir + "-evil/sample.wasm", Dir: pluginDir + "-evil",
				Checksum: "sha256:00", Instruction: "uppercase",
			},
			wantMsg: "outside the allowed plugin directories",
		},
		{
			name: "other directory",
			req: script.AdmissionRequest{
				Path: filepath.Join(otherDir, "sample.wasm"), Dir: otherDir,
				Checksum: "sha256:00", Instruction: "uppercase",
			},
			wantMsg: "outside the allowed plugin directories",
		},
		{
			name: "reserved name",
			req: script.AdmissionRequest{
				Path: filepath.Join(pluginDir, "sample.wasm"), Dir: pluginDir,
				Checksum: "sha256:00", Instruction: script.NameImagePatch,
			},
			wantMsg: "reserved name",
		},
		{
			name: "empty name",
			req: script.AdmissionRequest{
				Path: filepath.Join(pluginDir, "sample.wasm"), Dir: pluginDir,
				Checksum: "sha256:00",
			},
			wantMsg: "instruction name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Admit(context.Background(), tt.req)
			if tt.wantAllow {
				if err != nil {
					t.Errorf("Expected load to be admitted, got %v", err)
				}
				return
			}

			var denied *DeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("Expected DeniedError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected %q in %v", tt.wantMsg, err)
			}
		})
	}
}

func TestAdmitWithoutDirectoriesDeniesEverything(t *testing.T) {
	eng := newTestEngine(t, Config{})
	err := eng.Admit(context.Background(), script.AdmissionRequest{
		Path: "/tmp/sample.wasm", Dir: "/tmp", Instruction: "uppercase",
	})
	if err == nil {
		t.Error("Expected denial with no allowed directories")
	}
}

func TestAdmitChecksumAllowList(t *testing.T) {
	dir := canonicalDir(t.TempDir())
	eng := newTestEngine(t, Config{
		AllowedDirs:      []string{dir},
		AllowedChecksums: []string{"SHA256:ABCD"},
	})

	req := script.AdmissionRequest{Path: filepath.Join(dir, "a.wasm"), Dir: dir, Instruction: "x", Checksum: "sha256:abcd"}
	if err := eng.Admit(context.Background(), req); err != nil {
		t.Errorf("Expected allow-listed checksum to be admitted, got %v", err)
	}

	req.Checksum = "sha256:ffff"
	if err := eng.Admit(context.Background(), req); err == nil {
		t.Error("Expected unknown checksum to be denied")
	}
}

func TestLoadPolicies(t *testing.T) {
	dir := canonicalDir(t.TempDir())
	policyDir := t.TempDir()
	custom := `# Forbids the debug instruction.
package froyo.updater.custom

import rego.v1

deny contains msg if {
	input.instruction == "debug"
	msg := "debug instructions are not allowed"
}
`
	if err := os.WriteFile(filepath.Join(policyDir, "nodebug.rego"), []byte(custom), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(policyDir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	eng := newTestEngine(t, Config{AllowedDirs: []string{dir}})
	if err := eng.LoadPolicies(context.Background(), []string{policyDir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	for _, p := range policies {
		if p.Name == "nodebug" && p.Description != "Forbids the debug instruction." {
			t.Errorf("Unexpected description %q", p.Description)
		}
	}

	req := script.AdmissionRequest{Path: filepath.Join(dir, "a.wasm"), Dir: dir, Instruction: "debug"}
	decision, err := eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Allowed || len(decision.Violations) != 1 || decision.Violations[0].Policy != "nodebug" {
		t.Errorf("Unexpected decision: %+v", decision)
	}

	if err := eng.SetEnabled("nodebug", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	if err := eng.Admit(context.Background(), req); err != nil {
		t.Errorf("Disabled policy must not deny, got %v", err)
	}
	if err := eng.SetEnabled("missing", true); err == nil {
		t.Error("Expected unknown policy error")
	}
}

func TestLoadPoliciesInvalidRego(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(path, []byte("package broken\n\ndeny contains"), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	eng := newTestEngine(t, Config{})
	if err := eng.LoadPolicies(context.Background(), []string{path}); err == nil {
		t.Error("Expected compile error")
	}
}

func TestRegistryAdmission(t *testing.T) {
	pluginDir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "rogue.wasm")
	if err := os.WriteFile(outside, []byte("\x00asm\x01\x00\x00\x00"), 0o644); err != nil {
		t.Fatalf("Failed to write library: %v", err)
	}

	eng := newTestEngine(t, Config{AllowedDirs: []string{pluginDir}, ReservedNames: script.ReservedNames()})
	reg := script.NewRegistry(script.WithAdmitter(eng), script.WithLibraryLoader(failingLoader{}))

	err := reg.LoadExternalInstruction(context.Background(), outside, "uppercase")
	if script.StatusOf(err) != script.StatusExecutionFailed {
		t.Fatalf("Expected ExecutionFailed, got %v", err)
	}
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Errorf("Expected the denial to be wrapped, got %v", err)
	}
}

type failingLoader struct{}

func (failingLoader) Open(context.Context, string) (script.Library, error) {
	return nil, errors.New("loader must not be reached")
}
