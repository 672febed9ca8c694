package wasmhost

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const checksumPrefix = "sha256:"

// Manifest is the sidecar description of an instruction library.
type Manifest struct {
	Name         string   `yaml:"name" validate:"required"`
	Version      string   `yaml:"version" validate:"required"`
	Author       string   `yaml:"author,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	Instructions []string `yaml:"instructions,omitempty" validate:"dive,required"`
	Checksum     string   `yaml:"checksum,omitempty" validate:"omitempty,startswith=sha256:,len=71,hexadecimal_suffix"`

	// Path is the file the manifest was loaded from.
	Path string `yaml:"-"`
}

var manifestValidator = newManifestValidator()

func newManifestValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hexadecimal_suffix", func(fl validator.FieldLevel) bool {
		_, err := hex.DecodeString(strings.TrimPrefix(fl.Field().String(), checksumPrefix))
		return err == nil
	})
	return v
}

// ManifestPath returns the sidecar manifest path of a library: the library
// path with its extension replaced by ".yaml".
func ManifestPath(libraryPath string) string {
	return strings.TrimSuffix(libraryPath, filepath.Ext(libraryPath)) + ".yaml"
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// LoadSidecar loads the manifest next to libraryPath. It returns nil and no
// error when there is none.
func LoadSidecar(libraryPath string) (*Manifest, error) {
	path := ManifestPath(libraryPath)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return LoadManifest(path)
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := manifestValidator.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Verify checks module against the manifest checksum, if one is set.
func (m *Manifest) Verify(module []byte) error {
	if m.Checksum == "" {
		return nil
	}
	sum := sha256.Sum256(module)
	computed := hex.EncodeToString(sum[:])
	expected := strings.ToLower(strings.TrimPrefix(m.Checksum, checksumPrefix))
	if computed != expected {
		return fmt.Errorf("library checksum mismatch: expected %s, got %s", expected, computed)
	}
	return nil
}

// Declares reports whether the manifest lists the instruction. A manifest
// without an instruction list declares every name.
func (m *Manifest) Declares(name string) bool {
	if len(m.Instructions) == 0 {
		return true
	}
	for _, n := range m.Instructions {
		if n == name {
			return true
		}
	}
	return false
}
