package manifest

import (
	"fmt"
	"regexp"
)

// Result is the outcome of validating a manifest.
type Result struct {
	Valid  bool
	Errors []string
}

// Validator checks a normalized manifest for structural correctness.
// The publish path consumes only its boolean-plus-errors result.
type Validator interface {
	Validate(m Manifest) Result
}

// serverTypes are the runtimes the registry accepts.
var serverTypes = map[string]bool{
	"python": true,
	"node":   true,
	"binary": true,
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// SchemaValidator is the built-in Validator.
type SchemaValidator struct{}

// NewSchemaValidator returns the standard manifest validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate collects every schema violation rather than stopping at the
// first, so callers can surface the full list.
func (v *SchemaValidator) Validate(m Manifest) Result {
	var errs []string

	if m.Name == "" {
		errs = append(errs, "name is required")
	}
	if m.Version == "" {
		errs = append(errs, "version is required")
	} else if !versionPattern.MatchString(m.Version) {
		errs = append(errs, fmt.Sprintf("version %q is not a valid semantic version", m.Version))
	}
	if m.ServerType == "" {
		errs = append(errs, "server type is required")
	} else if !serverTypes[m.ServerType] {
		errs = append(errs, fmt.Sprintf("server type %q is not one of python, node, binary", m.ServerType))
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}
