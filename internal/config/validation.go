package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "https://imbridge.invalid/schema/config-v1.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateConfig checks c against the configuration schema and then
// against the rules a schema cannot express.
func ValidateConfig(c *Config) error {
	errs, err := validateSchema(c)
	if err != nil {
		return err
	}

	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateSchema validates the JSON form of c. Only a broken schema
// yields a non-nil error.
func validateSchema(c *Config) (ValidationErrors, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	err = s.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("validate schema: %w", err)
	}

	var errs ValidationErrors
	collectLeaves(ve, &errs)
	return errs, nil
}

func collectLeaves(ve *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(ve.Causes) == 0 {
		*errs = append(*errs, ValidationError{
			Field:   fieldName(ve.InstanceLocation),
			Message: ve.Message,
		})
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, errs)
	}
}

// fieldName turns a JSON pointer such as /logging/level into
// logging.level.
func fieldName(pointer string) string {
	field := strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
	if field == "" {
		return "(root)"
	}
	return field
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	var errs ValidationErrors

	if k.KeymapPath != "" {
		info, err := os.Stat(k.KeymapPath)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{
				Field:   "keyboard.keymap_path",
				Message: fmt.Sprintf("keymap not readable: %v", err),
			})
		case info.IsDir():
			errs = append(errs, ValidationError{
				Field:   "keyboard.keymap_path",
				Message: "keymap path is a directory",
			})
		case info.Size() == 0:
			errs = append(errs, ValidationError{
				Field:   "keyboard.keymap_path",
				Message: "keymap is empty",
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "file path is required when output includes a file",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return nil
	}
	if _, port, err := net.SplitHostPort(m.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.Listen, err),
		})
	} else if port == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: "listen address needs a port",
		})
	}

	return errs
}
