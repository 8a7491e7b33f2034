package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recfield/internal/store"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	DBPath string
}

// SchemaColumn is one stored column in the schema output.
type SchemaColumn struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Index bool   `json:"index,omitempty"`
}

// SchemaTable is one table in the schema output.
type SchemaTable struct {
	Name     string         `json:"name"`
	Relation bool           `json:"relation,omitempty"`
	Columns  []SchemaColumn `json:"columns"`
}

// SchemaResult holds the storage tables derived from the specs.
type SchemaResult struct {
	Tables   []SchemaTable `json:"tables"`
	Hash     string        `json:"hash"`
	Database string        `json:"database,omitempty"`
	Previous string        `json:"previous_hash,omitempty"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema <specs-dir>",
		Short: "Show or apply the storage schema of the specs",
		Long: `Show the record and relation tables the specs store into.

With --db the tables are created in the SQLite database, adding missing
tables and columns. Existing columns are never altered or dropped.

Examples:
  recfield schema ./specs
  recfield schema ./specs --db ./data.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "SQLite database to create the tables in")

	return cmd
}

func runSchema(ctx context.Context, opts *SchemaOptions, specsDir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	reg, _, err := loadRegistry(specsDir, formatter.Logger())
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	tables := reg.Tables()
	hash, err := store.SchemaHash(tables)
	if err != nil {
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	result := SchemaResult{Hash: hash}
	for _, t := range tables {
		st := SchemaTable{Name: t.Name, Relation: t.Relation, Columns: []SchemaColumn{}}
		for _, c := range t.Columns {
			st.Columns = append(st.Columns, SchemaColumn{Name: c.Name, Type: c.Type, Index: c.Index})
		}
		result.Tables = append(result.Tables, st)
	}

	if opts.DBPath != "" {
		previous, err := applySchemaTo(ctx, opts.DBPath, tables, formatter)
		if err != nil {
			return outputValidateError(formatter, ErrCodeStoreFailed, err.Error(), nil)
		}
		result.Database = opts.DBPath
		result.Previous = previous
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return outputSchemaText(formatter, result)
}

// applySchemaTo ensures tables in the database at path and returns the
// schema hash recorded before.
func applySchemaTo(ctx context.Context, path string, tables []store.Table, formatter *OutputFormatter) (string, error) {
	st, err := store.Open(path, store.WithLogger(formatter.Logger()))
	if err != nil {
		return "", err
	}
	defer st.Close()

	previous, err := st.SchemaHash(ctx)
	if err != nil {
		return "", err
	}
	if err := st.EnsureSchema(ctx, tables); err != nil {
		return "", err
	}
	return previous, nil
}

func outputSchemaText(formatter *OutputFormatter, result SchemaResult) error {
	w := formatter.Writer
	for _, t := range result.Tables {
		kind := "table"
		if t.Relation {
			kind = "relation"
		}
		fmt.Fprintf(w, "%s %s\n", kind, t.Name)
		for _, c := range t.Columns {
			index := ""
			if c.Index {
				index = " (indexed)"
			}
			fmt.Fprintf(w, "  %s %s%s\n", c.Name, c.Type, index)
		}
	}
	fmt.Fprintf(w, "\nSchema hash: %s\n", result.Hash)

	if result.Database != "" {
		switch result.Previous {
		case result.Hash:
			fmt.Fprintf(w, "✓ %s is up to date\n", result.Database)
		case "":
			fmt.Fprintf(w, "✓ Created schema in %s\n", result.Database)
		default:
			fmt.Fprintf(w, "✓ Updated schema in %s\n", result.Database)
		}
	}
	return nil
}
