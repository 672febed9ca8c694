package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.WorkDir != "/data/updater" {
		t.Errorf("Unexpected work dir %q", cfg.WorkDir)
	}
	if cfg.PriorityLevels != 4 {
		t.Errorf("Expected 4 priority levels, got %d", cfg.PriorityLevels)
	}
	if len(cfg.ByNameDirs) != 1 || cfg.ByNameDirs[0] != "/dev/block/by-name" {
		t.Errorf("Unexpected by-name dirs %v", cfg.ByNameDirs)
	}
	if cfg.Plugins.TimeoutDuration() != 30*time.Second {
		t.Errorf("Unexpected plugin timeout %v", cfg.Plugins.TimeoutDuration())
	}
	if cfg.Plugins.MemoryLimitPages != 256 {
		t.Errorf("Unexpected memory limit %d", cfg.Plugins.MemoryLimitPages)
	}
	if cfg.Logging.Level != "info" || cfg.Tracing.Exporter != "none" {
		t.Errorf("Unexpected logging/tracing defaults %+v %+v", cfg.Logging, cfg.Tracing)
	}
	if cfg.Partitions == nil {
		t.Error("Expected non-nil partitions map")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "updater.yaml", `
work_dir: /tmp/work
retry: true
partitions:
  system: /dev/block/mmcblk0p3
  vendor: /dev/block/mmcblk0p4
scripts:
  - name: vendor-script
    priority: 2
plugins:
  library: /system/lib/updater/vendor.wasm
  instructions: [vendor_check]
  timeout: 5s
logging:
  level: debug
  format: json
tracing:
  export_timeout: 2s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WorkDir != "/tmp/work" || !cfg.Retry {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.RecordDB != "/data/updater/record.db" {
		t.Errorf("Expected default record db, got %q", cfg.RecordDB)
	}
	if cfg.Partitions["vendor"] != "/dev/block/mmcblk0p4" {
		t.Errorf("Unexpected partitions %v", cfg.Partitions)
	}
	if len(cfg.Scripts) != 1 || cfg.Scripts[0].Priority != 2 {
		t.Errorf("Unexpected scripts %v", cfg.Scripts)
	}
	if cfg.Plugins.TimeoutDuration() != 5*time.Second {
		t.Errorf("Unexpected timeout %v", cfg.Plugins.TimeoutDuration())
	}

	tc := cfg.TelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" || tc.Logging.Level != "debug" || tc.Logging.Format != "json" {
		t.Errorf("Unexpected telemetry config %+v", tc.Logging)
	}
	if tc.Tracing.ExportTimeout != 2*time.Second {
		t.Errorf("Unexpected export timeout %v", tc.Tracing.ExportTimeout)
	}
}

func TestLoadCUE(t *testing.T) {
	path := writeConfig(t, "updater.cue", `
work_dir: "/tmp/cue"
priority_levels: 8
partitions: boot: "/dev/block/boot"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PriorityLevels != 8 || cfg.Partitions["boot"] != "/dev/block/boot" {
		t.Errorf("Unexpected config %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "priority levels out of range",
			file:    "a.yaml",
			content: "priority_levels: 0\n",
			want:    "priority_levels",
		},
		{
			name:    "unknown field",
			file:    "b.yaml",
			content: "bogus: 1\n",
			want:    "bogus",
		},
		{
			name:    "relative device path",
			file:    "c.yaml",
			content: "partitions:\n  system: dev/sda\n",
			want:    "system",
		},
		{
			name:    "invalid log level",
			file:    "d.cue",
			content: `logging: level: "loud"`,
			want:    "level",
		},
		{
			name:    "otlp without endpoint",
			file:    "e.yaml",
			content: "tracing:\n  exporter: otlp\n",
			want:    "Endpoint",
		},
		{
			name:    "malformed checksum",
			file:    "f.yaml",
			content: "plugins:\n  allowed_checksums: [md5:abc]\n",
			want:    "allowed_checksums",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Expected error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Expected ValidationErrors, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	if _, err := Load(writeConfig(t, "updater.toml", "x = 1")); err == nil {
		t.Error("Expected error for unsupported format")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
