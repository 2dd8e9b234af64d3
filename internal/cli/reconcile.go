package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <group-id>",
		Short: "Force the document system's copy of a group to match local membership",
		Long: `Compare a group's direct members with the document system's member
listing. Members missing remotely are pushed; remote members unknown
locally are removed.

The CLI talks to an in-process document system, so a fresh process sees
an empty remote group and pushes every direct member.

Examples:
  memberprop reconcile eng`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			res, err := env.engine.ReconcileGroup(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "reconcile failed", err)
			}
			return rootOpts.formatter(cmd).Success(reconcileSummary{
				GroupID: args[0],
				Added:   res.Added,
				Removed: res.Removed,
			})
		},
	}
	return cmd
}

type reconcileSummary struct {
	GroupID string   `json:"group_id"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

func (s reconcileSummary) String() string {
	if len(s.Added) == 0 && len(s.Removed) == 0 {
		return fmt.Sprintf("%s is in sync.", s.GroupID)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reconciled %s:", s.GroupID)
	if len(s.Added) > 0 {
		fmt.Fprintf(&sb, "\n  pushed: %s", strings.Join(s.Added, ", "))
	}
	if len(s.Removed) > 0 {
		fmt.Fprintf(&sb, "\n  removed: %s", strings.Join(s.Removed, ", "))
	}
	return sb.String()
}
