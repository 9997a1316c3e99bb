package cli

import (
	"github.com/spf13/cobra"
)

func newBrowseCmd(env *cmdEnv) *cobra.Command {
	var filter, sort string
	var limit int

	cmd := &cobra.Command{
		Use:   "browse <table>",
		Short: "List the rows of a table through a cursor",
		Long: `Browse selects the rows of a table or query and walks them with a
cursor from the first row. The filter is an SQL condition and may carry its
own ORDER BY clause; --sort takes precedence over it.

Example:
  recnav browse customers
  recnav browse customers --filter "region = 'N'" --sort "name DESC"
  recnav browse customers --limit 10 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(env)
			if err != nil {
				return err
			}
			defer ws.Close()

			c, err := ws.session.Open(args[0])
			if err != nil {
				return err
			}
			if err := c.Select(filter, sort); err != nil {
				return err
			}

			var rows []map[string]any
			ok, err := c.First()
			for ok && err == nil && (limit <= 0 || len(rows) < limit) {
				rows = append(rows, c.Values())
				ok, err = c.Next()
			}
			if err != nil {
				return err
			}
			return printRows(env, cmd.OutOrStdout(), c.Metadata(), rows)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "SQL condition restricting the rows")
	cmd.Flags().StringVar(&sort, "sort", "", "sort order, e.g. \"name DESC, id\"")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows to print (0 for all)")
	return cmd
}
