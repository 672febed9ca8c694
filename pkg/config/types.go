package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/otaupdater/pkg/telemetry"
)

// Updater is the updater configuration.
type Updater struct {
	// WorkDir holds extracted patches and partition backups.
	WorkDir string `json:"work_dir" yaml:"work_dir" validate:"required"`

	// RecordDB is the SQLite database of the Partition Record.
	RecordDB string `json:"record_db" yaml:"record_db" validate:"required"`

	// Retry marks the run as resuming an interrupted attempt.
	Retry bool `json:"retry" yaml:"retry"`

	// PriorityLevels bounds script priorities to [0, PriorityLevels).
	PriorityLevels int `json:"priority_levels" yaml:"priority_levels" validate:"min=1,max=16"`

	// Partitions maps partition names to device paths.
	Partitions map[string]string `json:"partitions" yaml:"partitions" validate:"dive,keys,required,excludesall=/,endkeys,startswith=/"`

	// ByNameDirs are searched for partitions missing from Partitions.
	ByNameDirs []string `json:"by_name_dirs" yaml:"by_name_dirs" validate:"dive,required"`

	// Scripts are package entries run in addition to updater-script.
	Scripts []ScriptConfig `json:"scripts" yaml:"scripts" validate:"dive"`

	Plugins PluginConfig  `json:"plugins" yaml:"plugins"`
	UI      UIConfig      `json:"ui" yaml:"ui"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ScriptConfig names a package script and its priority.
type ScriptConfig struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Priority int    `json:"priority" yaml:"priority" validate:"min=0"`
}

// PluginConfig configures external instruction libraries.
type PluginConfig struct {
	// Library is the WASM library to load instructions from.
	Library string `json:"library" yaml:"library"`

	// Instructions are loaded from Library at startup.
	Instructions []string `json:"instructions" yaml:"instructions" validate:"dive,required"`

	// AllowedDirs restricts where libraries may be loaded from.
	AllowedDirs []string `json:"allowed_dirs" yaml:"allowed_dirs" validate:"dive,required"`

	// AllowedChecksums, when set, restricts libraries to these digests.
	AllowedChecksums []string `json:"allowed_checksums" yaml:"allowed_checksums"`

	// PolicyPaths are additional Rego admission policies.
	PolicyPaths []string `json:"policy_paths" yaml:"policy_paths"`

	// RequireManifest rejects libraries without a sidecar manifest.
	RequireManifest bool `json:"require_manifest" yaml:"require_manifest"`

	// Timeout bounds every call into a library.
	Timeout string `json:"timeout" yaml:"timeout"`

	// MemoryLimitPages is the guest memory limit in 64KiB pages.
	MemoryLimitPages uint32 `json:"memory_limit_pages" yaml:"memory_limit_pages" validate:"min=1"`
}

// TimeoutDuration returns Timeout as a duration.
func (p PluginConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// UIConfig configures the UI message stream.
type UIConfig struct {
	// Output is "" for none, "-" for stdout, or a file or fifo path.
	Output string `json:"output" yaml:"output"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=console json"`
	Output string `json:"output" yaml:"output"`
}

// MetricsConfig configures metrics.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
	TextfilePath  string `json:"textfile_path" yaml:"textfile_path"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	Exporter      string  `json:"exporter" yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint      string  `json:"endpoint" yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate  float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"min=0,max=1"`
	ExportTimeout string  `json:"export_timeout" yaml:"export_timeout"`
	Insecure      bool    `json:"insecure" yaml:"insecure"`
}

// TelemetryConfig maps the configuration onto telemetry.Config.
func (u *Updater) TelemetryConfig(serviceVersion string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = serviceVersion

	cfg.Logging.Level = u.Logging.Level
	cfg.Logging.Format = u.Logging.Format
	cfg.Logging.Output = u.Logging.Output

	cfg.Metrics.Enabled = u.Metrics.Enabled
	cfg.Metrics.ListenAddress = u.Metrics.ListenAddress
	cfg.Metrics.TextfilePath = u.Metrics.TextfilePath

	cfg.Tracing.Enabled = u.Tracing.Enabled
	cfg.Tracing.Exporter = u.Tracing.Exporter
	cfg.Tracing.Endpoint = u.Tracing.Endpoint
	cfg.Tracing.SamplingRate = u.Tracing.SamplingRate
	cfg.Tracing.Insecure = u.Tracing.Insecure
	if d, err := time.ParseDuration(u.Tracing.ExportTimeout); err == nil {
		cfg.Tracing.ExportTimeout = d
	}
	return cfg
}

// ValidationError is one configuration error with its source position.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "%s: ", e.Path)
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a configuration does not satisfy the
// schema.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.String())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
