package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize recnav storage",
		Long: `Create the configuration and data directories, write a default
config.yaml and schema.yaml when missing, and create every table of the
schema that does not exist yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureDefaultFile(env.cfg.engine.Schema, defaultSchemaYAML); err != nil {
				return fmt.Errorf("write schema: %w", err)
			}
			ws, err := openWorkspace(env)
			if err != nil {
				return err
			}
			defer ws.Close()

			created := 0
			for _, m := range ws.provider.Tables() {
				if m.IsQuery() {
					continue
				}
				if err := ws.backend.CreateTable(m); err != nil {
					return err
				}
				created++
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "recnav initialized successfully")
			fmt.Fprintln(out, "  config:", env.cfg.configDir)
			fmt.Fprintln(out, "  data:  ", env.cfg.dataDir)
			fmt.Fprintln(out, "  tables:", created)
			return nil
		},
	}
}
