package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var admin string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database schema and the admin user",
		Long: `Open (and migrate) the configured database and create the admin user
if it does not exist. Running init twice is harmless.

Examples:
  memberprop init --db ./memberprop.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			u, err := env.ensureAdmin(cmd.Context(), admin)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create admin", err)
			}
			return rootOpts.formatter(cmd).Success(initSummary{
				Database: rootOpts.settings().Database,
				Admin:    u.ID,
			})
		},
	}

	cmd.Flags().StringVar(&admin, "admin", "admin", "admin user ID")
	return cmd
}

type initSummary struct {
	Database string `json:"database"`
	Admin    string `json:"admin"`
}

func (s initSummary) String() string {
	return fmt.Sprintf("Initialized %s (admin: %s)", s.Database, s.Admin)
}
