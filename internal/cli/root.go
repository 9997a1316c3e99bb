// Package cli implements the recnav command-line interface: a thin shell
// over cursor sessions for browsing and editing the tables of a schema.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/recnav/internal/logging"
	"github.com/mesh-intelligence/recnav/internal/paths"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// NewRootCmd creates the top-level "recnav" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	var flags rootFlags
	var cfg settings

	root := &cobra.Command{
		Use:           "recnav",
		Short:         "Navigate and edit database tables through cursors",
		Long:          "recnav opens cursors over the tables of a YAML schema and commits\nrow edits through integrity checks and nested transactions.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			s, err := setup(flags)
			if err != nil {
				return err
			}
			cfg = s
			return logging.Init(cfg.log)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: ./.recnav in a local project, else the platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: ./.recnav-db in a local project, else the platform data dir)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	env := &cmdEnv{flags: &flags, cfg: &cfg}
	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(env))
	root.AddCommand(newBrowseCmd(env))
	root.AddCommand(newInsertCmd(env))
	root.AddCommand(newEditCmd(env))
	root.AddCommand(newDeleteCmd(env))
	root.AddCommand(newExportCmd(env))
	root.AddCommand(newImportCmd(env))
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	err := root.Execute()
	if err == nil {
		os.Exit(exitSuccess)
	}
	reportError(os.Stderr, err)
	os.Exit(exitCode(err))
}

// cmdEnv gives subcommands access to the flags and the settings resolved
// by the root's pre-run hook.
type cmdEnv struct {
	flags *rootFlags
	cfg   *settings
}

// setup resolves the config and data directories and loads config.yaml.
func setup(flags rootFlags) (settings, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return settings{}, fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return settings{}, err
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return settings{}, fmt.Errorf("resolve data dir: %w", err)
	}
	return resolveSettings(v, configDir, dataDir)
}

// exitCode maps user-facing failures (integrity violations, unknown tables
// or fields, bad arguments) to exitUserError and everything else to
// exitSysError.
func exitCode(err error) int {
	var ue *userError
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &ue),
		errors.Is(err, types.ErrIntegrity),
		errors.Is(err, types.ErrTableNotFound),
		errors.Is(err, types.ErrFieldNotFound),
		errors.Is(err, types.ErrReadOnly),
		errors.Is(err, types.ErrCoerce),
		errors.Is(err, types.ErrHookFailed):
		return exitUserError
	}
	return exitSysError
}

// reportError prints err to w. Integrity violations print the checker's
// message verbatim.
func reportError(w io.Writer, err error) {
	var ie *types.IntegrityError
	if errors.As(err, &ie) {
		fmt.Fprintln(w, strings.TrimPrefix(ie.Message, "\n"))
		return
	}
	fmt.Fprintln(w, "recnav:", err)
}

// userError marks an error caused by the command line rather than the
// environment.
type userError struct {
	msg string
}

func (e *userError) Error() string { return e.msg }

func userErrorf(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}
