package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recfield/internal/depgraph"
)

// DepsResult describes how one attribute takes part in the dependency
// graph.
type DepsResult struct {
	Field      string   `json:"field"`
	Paths      []string `json:"paths,omitempty"`
	Chains     []string `json:"chains,omitempty"`
	Triggers   []string `json:"triggers,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

// NewDepsCommand creates the deps command.
func NewDepsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps <specs-dir> <model.field>",
		Short: "Show the dependencies and triggers of an attribute",
		Long: `Show how an attribute takes part in the dependency graph.

Paths and chains list what the attribute is derived from. Triggers list
the invalidations fired when the attribute is modified, and dependents
the attributes those invalidations reach.

Examples:
  recfield deps ./specs sale.order.total
  recfield deps ./specs sale.line.qty --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runDeps(opts *RootOptions, specsDir, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	reg, _, err := loadRegistry(specsDir, formatter.Logger())
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return outputValidateError(formatter, ErrCodeUnknownName, fmt.Sprintf("expected model.field, got %q", name), nil)
	}
	f, ok := reg.Field(name[:dot], name[dot+1:])
	if !ok {
		return outputValidateError(formatter, ErrCodeUnknownName, fmt.Sprintf("unknown attribute %s", name), nil)
	}

	chains, err := depgraph.Resolve(reg, f)
	if err != nil {
		return outputValidateError(formatter, ErrCodeSetupFailed, err.Error(), nil)
	}

	result := DepsResult{
		Field:      f.FullName(),
		Paths:      depgraph.Paths(f),
		Dependents: depgraph.Dependents(reg.TriggerTree(), f),
	}
	for _, chain := range chains {
		result.Chains = append(result.Chains, chain.String())
	}
	for _, trig := range reg.Triggers(f) {
		result.Triggers = append(result.Triggers, trig.String())
	}
	formatter.VerboseLog("%s: %d chain(s), %d trigger(s)", result.Field, len(result.Chains), len(result.Triggers))

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return outputDepsText(formatter, result)
}

func outputDepsText(formatter *OutputFormatter, result DepsResult) error {
	w := formatter.Writer
	fmt.Fprintln(w, result.Field)

	sections := []struct {
		title string
		items []string
	}{
		{"Depends on", result.Chains},
		{"Modification triggers", result.Triggers},
		{"Dependents", result.Dependents},
	}
	for _, s := range sections {
		fmt.Fprintf(w, "\n%s:\n", s.title)
		if len(s.items) == 0 {
			fmt.Fprintln(w, "  (none)")
			continue
		}
		for _, item := range s.items {
			fmt.Fprintf(w, "  %s\n", item)
		}
	}
	return nil
}
