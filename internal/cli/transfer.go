package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "export <table> <file>",
		Short: "Write every row of a table to a JSONL file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(env)
			if err != nil {
				return err
			}
			defer ws.Close()

			meta, err := ws.provider.Table(args[0])
			if err != nil {
				return err
			}
			n, err := ws.backend.Export(meta, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows of %s to %s\n", n, meta.Name, args[1])
			return nil
		},
	}
}

func newImportCmd(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "import <table> <file>",
		Short: "Load the rows of a JSONL file into a table",
		Long: `Import inserts every record of a JSONL file in one transaction.
Malformed lines are skipped and unknown keys are ignored. Rows are written
directly and do not pass the integrity checks of the cursor engine.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(env)
			if err != nil {
				return err
			}
			defer ws.Close()

			meta, err := ws.provider.Table(args[0])
			if err != nil {
				return err
			}
			if meta.IsQuery() {
				return userErrorf("%s is a query and cannot be imported into", meta.Name)
			}
			n, err := ws.backend.Import(meta, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows into %s\n", n, meta.Name)
			return nil
		},
	}
}
