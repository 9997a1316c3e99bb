package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/recnav/internal/cursor"
)

func newInsertCmd(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <table> [field=value...]",
		Short: "Insert a row",
		Long: `Insert primes a new row with the declared defaults, applies the
assignments and commits it. An empty value stands for NULL. Integrity
violations are printed and nothing is written.

Example:
  recnav insert customers name=Ann region=N`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			ws, err := openWorkspace(env)
			if err != nil {
				return err
			}
			defer ws.Close()

			c, err := ws.session.Open(args[0])
			if err != nil {
				return err
			}
			if err := c.Select("", ""); err != nil {
				return err
			}
			if err := c.Insert(); err != nil {
				return err
			}
			return commitAndPrint(env, cmd, c, assignments)
		},
	}
}

func newEditCmd(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <table> <pk> field=value...",
		Short: "Update a row by primary key",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			ws, err := openWorkspace(env)
			if err != nil {
				return err
			}
			defer ws.Close()

			c, err := ws.openAt(args[0], args[1])
			if err != nil {
				return err
			}
			if err := c.Edit(); err != nil {
				return err
			}
			return commitAndPrint(env, cmd, c, assignments)
		},
	}
}

func newDeleteCmd(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <pk>",
		Short: "Delete a row by primary key",
		Long: `Delete removes a row after checking that no other table references
it. Dependent rows whose M1 relation declares delete_cascade are deleted
with it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(env)
			if err != nil {
				return err
			}
			defer ws.Close()

			c, err := ws.openAt(args[0], args[1])
			if err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			if err := commit(c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func commitAndPrint(env *cmdEnv, cmd *cobra.Command, c *cursor.Cursor, assignments [][2]string) error {
	if err := assign(c, assignments); err != nil {
		return err
	}
	if err := commit(c); err != nil {
		return err
	}
	return printRows(env, cmd.OutOrStdout(), c.Metadata(), []map[string]any{c.Values()})
}
