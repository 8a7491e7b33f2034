package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds the persistent flags shared by every command.
type RootOptions struct {
	Verbose bool
	Format  string // "text" or "json"
}

// ValidFormats lists the values accepted by --format.
var ValidFormats = []string{"text", "json"}

// NewRootCommand returns the recfield command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:   "recfield",
		Short: "recfield - reactive attribute runtime",
		Long: `Tooling for declarative record type specs.

Specs are CUE files declaring record types, their attributes and how
derived attributes are computed. The commands compile and validate specs,
inspect the dependency graph, create storage tables and run conformance
scenarios against the runtime.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return checkFormat(opts.Format)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log diagnostics to stderr")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	for _, newCmd := range []func(*RootOptions) *cobra.Command{
		NewCompileCommand,
		NewValidateCommand,
		NewDepsCommand,
		NewSchemaCommand,
		NewTestCommand,
	} {
		root.AddCommand(newCmd(opts))
	}
	return root
}

func checkFormat(format string) error {
	if !isValidFormat(format) {
		return fmt.Errorf("invalid format %q: must be one of %v", format, ValidFormats)
	}
	return nil
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
