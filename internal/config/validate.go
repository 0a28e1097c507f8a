package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// Error codes of LoadError.
const (
	ErrCodeRead              = "CONFIG_READ"
	ErrCodeSyntax            = "CONFIG_SYNTAX"
	ErrCodeSchema            = "CONFIG_SCHEMA"
	ErrCodeDuplicatePhase    = "CONFIG_DUPLICATE_PHASE"
	ErrCodeUnknownPhase      = "CONFIG_UNKNOWN_PHASE"
	ErrCodeDuplicateSystem   = "CONFIG_DUPLICATE_SYSTEM"
	ErrCodeUnknownDependency = "CONFIG_UNKNOWN_DEPENDENCY"
)

// LoadError reports an invalid configuration file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Path    string    // config path if known, e.g. "systems[2]"
}

func (e *LoadError) Error() string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Validate checks a YAML document against the embedded CUE schema.
func Validate(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fromCUEError(ErrCodeSyntax, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fromCUEError(ErrCodeSyntax, err)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fromCUEError(ErrCodeSchema, err)
	}
	return nil
}

// fromCUEError keeps the first CUE error with its position.
func fromCUEError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
