package cli

import (
	"github.com/spf13/cobra"
)

// DeprovisionOptions holds flags for the deprovision command.
type DeprovisionOptions struct {
	*RootOptions
	Actor            string
	AlternativeOwner string
}

// NewDeprovisionCommand creates the deprovision command.
func NewDeprovisionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeprovisionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deprovision <user-name>",
		Short: "Remove a user from every group",
		Long: `Remove a deprovisioned user from every group.

Groups owned by the user are handed to the alternative owner, who is
added as GROUP_MANAGER. Owning a group without an alternative owner is
an error.

Examples:
  memberprop deprovision alice --alternative-owner bob`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeprovision(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "admin", "acting user ID")
	cmd.Flags().StringVar(&opts.AlternativeOwner, "alternative-owner", "", "user name that takes over owned groups")
	return cmd
}

func runDeprovision(opts *DeprovisionOptions, userName string, cmd *cobra.Command) error {
	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, err := env.actorContext(cmd.Context(), opts.Actor)
	if err != nil {
		return err
	}
	res, err := env.engine.DeprovisionUser(ctx, userName, opts.AlternativeOwner)
	jobs := env.drain(cmd.Context())

	f := opts.formatter(cmd)
	f.VerboseLog("ran %d background job(s)", jobs)
	return reportBatch(f, res, err)
}
