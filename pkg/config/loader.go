package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader evaluates configuration documents against the #Updater schema.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a loader with the compiled schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(updaterSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile configuration schema: %w", err)
	}
	return &Loader{
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#Updater")),
		validator: validator.New(),
	}, nil
}

// Default returns the configuration obtained from an empty document.
func Default() (*Updater, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.evaluate(l.ctx.CompileString("{}"))
}

// Load reads the configuration at path. An empty path yields Default.
func Load(path string) (*Updater, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.LoadBytes(path, data)
}

// LoadBytes evaluates data as the configuration file named filename. The
// extension of filename selects the format.
func (l *Loader) LoadBytes(filename string, data []byte) (*Updater, error) {
	var val cue.Value
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		val = l.ctx.CompileBytes(data, cue.Filename(filename))
	case ".yaml", ".yml", ".json":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, ValidationErrors{{File: filename, Message: err.Error()}}
		}
		if doc == nil {
			doc = map[string]any{}
		}
		val = l.ctx.Encode(doc)
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", filepath.Ext(filename))
	}
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return l.evaluate(val)
}

func (l *Loader) evaluate(doc cue.Value) (*Updater, error) {
	val := l.schema.Unify(doc)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var cfg Updater
	if err := val.Decode(&cfg); err != nil {
		return nil, convertCUEErrors(err)
	}
	if cfg.Partitions == nil {
		cfg.Partitions = map[string]string{}
	}

	if err := l.validator.Struct(&cfg); err != nil {
		return nil, convertValidatorErrors(err)
	}
	return &cfg, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		v := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		out = ValidationErrors{{Message: err.Error()}}
	}
	return out
}

func convertValidatorErrors(err error) ValidationErrors {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{
			Path:    fe.Namespace(),
			Message: msg,
		})
	}
	return out
}
