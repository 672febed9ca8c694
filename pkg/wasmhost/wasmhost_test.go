package wasmhost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/otaupdater/pkg/script"
)

var (
	// emptyModule is a valid WASM module without any exports.
	emptyModule = []byte("\x00asm\x01\x00\x00\x00")

	// memoryOnlyModule exports one page of memory and nothing else.
	memoryOnlyModule = append(append([]byte("\x00asm\x01\x00\x00\x00"),
		0x05, 0x03, 0x01, 0x00, 0x01),
		0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00)
)

func writeLibrary(t *testing.T, dir, name string, module []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, module, 0o644); err != nil {
		t.Fatalf("Failed to write library: %v", err)
	}
	return path
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func TestParseManifest(t *testing.T) {
	valid := checksum([]byte("module"))

	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "complete",
			yaml: "name: sample\nversion: 1.0.0\ninstructions: [uppercase]\nchecksum: " + valid + "\n",
		},
		{
			name: "no checksum",
			yaml: "name: sample\nversion: 1.0.0\n",
		},
		{
			name:    "missing name",
			yaml:    "version: 1.0.0\n",
			wantErr: true,
		},
		{
			name:    "checksum without algorithm",
			yaml:    "name: sample\nversion: 1.0.0\nchecksum: " + strings.TrimPrefix(valid, "sha256:") + "\n",
			wantErr: true,
		},
		{
			name:    "checksum not hex",
			yaml:    "name: sample\nversion: 1.0.0\nchecksum: sha256:" + strings.Repeat("z", 64) + "\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "name: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManifestVerifyAndDeclares(t *testing.T) {
	module := []byte("module bytes")
	m := &Manifest{Name: "sample", Version: "1", Checksum: checksum(module), Instructions: []string{"uppercase"}}

	if err := m.Verify(module); err != nil {
		t.Errorf("Verify failed for matching module: %v", err)
	}
	if err := m.Verify([]byte("tampered")); err == nil {
		t.Error("Expected checksum mismatch")
	}
	if !m.Declares("uppercase") || m.Declares("lowercase") {
		t.Error("Declares does not follow the instruction list")
	}
	if !(&Manifest{}).Declares("anything") {
		t.Error("A manifest without instructions declares every name")
	}
}

func TestManifestPath(t *testing.T) {
	if got := ManifestPath("/plugins/sample.wasm"); got != "/plugins/sample.yaml" {
		t.Errorf("Unexpected manifest path %s", got)
	}
}

func TestLoaderRejectsIncompleteModules(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	loader := NewLoader(Config{}, zerolog.Nop())

	tests := []struct {
		name    string
		module  []byte
		wantMsg string
	}{
		{"no memory", emptyModule, "memory"},
		{"no factory exports", memoryOnlyModule, exportMalloc},
		{"not wasm", []byte("#!/bin/sh\n"), "instantiate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeLibrary(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".wasm", tt.module)
			lib, err := loader.Open(ctx, path)
			if err == nil {
				lib.Close(ctx)
				t.Fatal("Expected Open to fail")
			}
			if !errors.Is(err, script.ErrExecutionFailed) {
				t.Errorf("Expected execution failure, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error to mention %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestLoaderManifestChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("checksum mismatch", func(t *testing.T) {
		dir := t.TempDir()
		path := writeLibrary(t, dir, "sample.wasm", emptyModule)
		manifest := "name: sample\nversion: 1.0.0\nchecksum: " + checksum([]byte("other")) + "\n"
		if err := os.WriteFile(filepath.Join(dir, "sample.yaml"), []byte(manifest), 0o644); err != nil {
			t.Fatalf("Failed to write manifest: %v", err)
		}

		_, err := NewLoader(Config{}, zerolog.Nop()).Open(ctx, path)
		if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
			t.Errorf("Expected checksum mismatch, got %v", err)
		}
	})

	t.Run("manifest required", func(t *testing.T) {
		path := writeLibrary(t, t.TempDir(), "sample.wasm", emptyModule)
		_, err := NewLoader(Config{RequireManifest: true}, zerolog.Nop()).Open(ctx, path)
		if err == nil || !strings.Contains(err.Error(), "no manifest") {
			t.Errorf("Expected missing manifest error, got %v", err)
		}
	})

	t.Run("missing library", func(t *testing.T) {
		_, err := NewLoader(Config{}, zerolog.Nop()).Open(ctx, filepath.Join(t.TempDir(), "absent.wasm"))
		if !errors.Is(err, script.ErrExecutionFailed) {
			t.Errorf("Expected execution failure, got %v", err)
		}
	})
}

func TestRegistryWithIncompleteLibrary(t *testing.T) {
	ctx := context.Background()
	path := writeLibrary(t, t.TempDir(), "sample.wasm", memoryOnlyModule)

	reg := script.NewRegistry(script.WithLibraryLoader(NewLoader(Config{}, zerolog.Nop())))
	err := reg.LoadExternalInstruction(ctx, path, "uppercase")
	if script.StatusOf(err) != script.StatusExecutionFailed {
		t.Fatalf("Expected ExecutionFailed, got %v", err)
	}
	if reg.LibraryPath() != "" {
		t.Error("A library that failed to open must not become active")
	}
	if _, ok := reg.Lookup("uppercase"); ok {
		t.Error("No instruction should be registered")
	}
}

func TestCodec(t *testing.T) {
	req, err := encodeRequest(true, []script.Value{
		script.StringValue("a"), script.IntegerValue(1 << 40), script.FloatValue(0.5),
	})
	if err != nil {
		t.Fatalf("encodeRequest failed: %v", err)
	}
	want := `{"retry":true,"inputs":[{"type":"string","value":"a"},{"type":"integer","value":1099511627776},{"type":"float","value":0.5}]}`
	if string(req) != want {
		t.Errorf("Unexpected request:\n got %s\nwant %s", req, want)
	}

	resp, outputs, err := decodeResponse([]byte(`{"status":0,"outputs":[{"type":"string","value":"A"},{"type":"integer","value":9007199254740993}],"messages":[{"cmd":"ui_log","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("decodeResponse failed: %v", err)
	}
	if len(outputs) != 2 || outputs[0] != script.StringValue("A") || outputs[1] != script.IntegerValue(9007199254740993) {
		t.Errorf("Unexpected outputs %v", outputs)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Command != "ui_log" {
		t.Errorf("Unexpected messages %+v", resp.Messages)
	}

	if _, _, err := decodeResponse([]byte(`{"status":0,"outputs":[{"type":"integer","value":1.5}]}`)); err == nil {
		t.Error("Expected fractional integer to be rejected")
	}
	if _, _, err := decodeResponse([]byte(`{"status":0,"outputs":[{"type":"bool","value":true}]}`)); err == nil {
		t.Error("Expected unknown type to be rejected")
	}
}
