package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/recfield/internal/compiler"
	"github.com/roach88/recfield/internal/model"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading specs from a directory.
type LoadResult struct {
	Specs     []compiler.ModelSpec
	CUEValue  cue.Value
	FileCount int
}

// Count returns how many declarations of kind were loaded.
func (r *LoadResult) Count(kind compiler.Kind) int {
	n := 0
	for _, spec := range r.Specs {
		if spec.Kind == kind {
			n++
		}
	}
	return n
}

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpecs loads the CUE package in dir and compiles its declarations.
// In LoadModeFailFast it returns on the first compile error; in
// LoadModeCollectAll every declaration is attempted.
func LoadSpecs(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{CUEValue: value, FileCount: len(cueFiles)}
	var errs []error
	for _, kind := range compiler.Kinds {
		section := value.LookupPath(cue.MakePath(cue.Str(string(kind))))
		if !section.Exists() {
			continue
		}
		iter, err := section.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", kind, err)})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		for iter.Next() {
			name := iter.Selector().Unquoted()
			spec, err := compiler.CompileModel(kind, name, iter.Value())
			if err != nil {
				errs = append(errs, convertCompileError(err, string(kind)+"."+name))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Specs = append(result.Specs, *spec)
		}
	}

	if len(result.Specs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoModels, Message: "no models, mixins or extensions found in specs"})
	}
	return result, errs
}

// BuildRegistry validates loaded specs, registers them and sets the
// registry up. Validation errors are returned as a list; a registration or
// setup failure is returned as err.
func BuildRegistry(specs []compiler.ModelSpec, logger *slog.Logger) (*model.Registry, []compiler.ValidationError, error) {
	if verrs := compiler.Validate(specs); len(verrs) > 0 {
		return nil, verrs, nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reg := model.NewRegistry(model.WithRegistryLogger(logger))
	if err := compiler.Register(reg, specs); err != nil {
		return nil, nil, err
	}
	if err := reg.Setup(); err != nil {
		return nil, nil, err
	}
	return reg, nil, nil
}

// loadRegistry loads dir fail-fast and builds a set-up registry, turning
// every failure into a LoadError.
func loadRegistry(dir string, logger *slog.Logger) (*model.Registry, *LoadResult, error) {
	loadResult, loadErrors := LoadSpecs(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return nil, loadResult, loadErr
		}
		return nil, loadResult, &LoadError{Code: ErrCodeGeneric, Message: loadErrors[0].Error()}
	}
	reg, verrs, err := BuildRegistry(loadResult.Specs, logger)
	if len(verrs) > 0 {
		return nil, loadResult, &LoadError{Code: verrs[0].Code, Message: verrs[0].Field + ": " + verrs[0].Message}
	}
	if err != nil {
		return nil, loadResult, &LoadError{Code: ErrCodeSetupFailed, Message: err.Error()}
	}
	return reg, loadResult, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapCompileErrorToCode(compileErr),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants shared by all commands. Declaration errors found by
// compiler.Validate keep the compiler's own E1xx codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeNoModels    = "E008" // Specs declare nothing
	ErrCodeSetupFailed = "E009" // Registry setup failed
	ErrCodeStoreFailed = "E010" // Database error
	ErrCodeUnknownName = "E011" // Unknown record type or attribute
	ErrCodeTestFailed  = "E012" // Scenarios failed

	// Compile errors
	ErrCodeUnknownKey   = "E201" // Unknown declaration key
	ErrCodeInvalidField = "E202" // Attribute could not be decoded
	ErrCodeNoFields     = "E203" // Record type declares no fields
	ErrCodeBadSelection = "E204" // Malformed selection values
)

// MapCompileErrorToCode maps a compiler error to an error code.
func MapCompileErrorToCode(err *compiler.CompileError) string {
	switch {
	case err.Field == "fields":
		return ErrCodeNoFields
	case err.Field == "cue":
		return ErrCodeBuildFailed
	case strings.HasPrefix(err.Message, "unknown key"):
		return ErrCodeUnknownKey
	case strings.HasPrefix(err.Message, "selection"):
		return ErrCodeBadSelection
	case strings.HasSuffix(err.Field, ".type"):
		return ErrCodeInvalidField
	default:
		return ErrCodeGeneric
	}
}
