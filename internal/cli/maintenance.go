package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewResetIndexCommand creates the reset-index command.
func NewResetIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-index <group-id>",
		Short: "Zero indexing-thread counters for a group's conversations",
		Long: `Zero the indexing-thread counters of every conversation reachable from
a group or its ancestors. Use after a background reindex died without
decrementing.

Examples:
  memberprop reset-index g1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			ids, err := env.engine.ResetIndexingCounters(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "reset failed", err)
			}
			return rootOpts.formatter(cmd).Success(resetSummary{GroupID: args[0], Conversations: ids})
		},
	}
	return cmd
}

type resetSummary struct {
	GroupID       string   `json:"group_id"`
	Conversations []string `json:"conversations"`
}

func (s resetSummary) String() string {
	if len(s.Conversations) == 0 {
		return fmt.Sprintf("No conversations reset for %s.", s.GroupID)
	}
	return fmt.Sprintf("Reset %d conversation(s) for %s: %s", len(s.Conversations), s.GroupID, strings.Join(s.Conversations, ", "))
}
