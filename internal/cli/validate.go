package cli

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/recfield/internal/compiler"
	"github.com/roach88/recfield/internal/depgraph"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Models   int                        `json:"models,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []depgraph.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate model specs and their dependency graph",
		Long: `Validate CUE model specs without writing output.

Compiles every declaration, checks each one on its own, then registers
them and sets the registry up, which resolves comodels, inverses and
dependency paths. Dependency cycles between derived attributes are
reported as warnings.

Specs that name Go functions (compute, inverse, default_func) fail setup
here, since only a program can bind them. Builtin derivations such as
"sum:line_ids.amount" are checked in full.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result, err := ValidateSpecsDir(specsDir, formatter)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// ValidateSpecsDir validates all specs in a directory. The error is set
// only when the directory could not be loaded at all; declaration problems
// are listed in the result.
func ValidateSpecsDir(specsDir string, formatter *OutputFormatter) (*ValidationResult, error) {
	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	result := &ValidationResult{}
	for _, err := range loadErrors {
		code, message := parseCompileError(err)
		verr := compiler.ValidationError{Field: "load", Message: message, Code: code}
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			verr.Line = lineOf(loadErr.Pos)
		}
		result.Errors = append(result.Errors, verr)
	}
	if len(result.Errors) > 0 {
		return result, nil
	}

	for _, spec := range loadResult.Specs {
		formatter.VerboseLog("Validating %s: %s", spec.Kind, spec.Decl.Name)
	}
	reg, verrs, err := BuildRegistry(loadResult.Specs, formatter.Logger())
	if len(verrs) > 0 {
		result.Errors = verrs
		return result, nil
	}
	if err != nil {
		result.Errors = []compiler.ValidationError{{Field: "setup", Message: err.Error(), Code: ErrCodeSetupFailed}}
		return result, nil
	}

	warnings, err := reg.Cycles()
	if err != nil {
		result.Errors = []compiler.ValidationError{{Field: "depends", Message: err.Error(), Code: ErrCodeSetupFailed}}
		return result, nil
	}
	result.Valid = true
	result.Models = len(reg.Models())
	result.Warnings = warnings
	return result, nil
}

func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

func outputValidateSuccess(formatter *OutputFormatter, result *ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All specs valid (%d model(s))\n", result.Models)
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
	}
	return nil
}

func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputValidationErrors(formatter *OutputFormatter, result *ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
