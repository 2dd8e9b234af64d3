package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/store"
)

// BacklogOptions holds flags for the backlog command.
type BacklogOptions struct {
	*RootOptions
	Group     string
	Status    string
	Operation string
}

// backlogRecordView is the printable form of a sync backlog record.
type backlogRecordView struct {
	Seq             int64    `json:"seq"`
	ID              string   `json:"id"`
	GroupID         string   `json:"group_id"`
	ExternalGroupID string   `json:"external_group_id"`
	Operation       string   `json:"operation"`
	Members         []string `json:"members"`
	Status          string   `json:"status"`
	StatusMessage   string   `json:"status_message,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

func newBacklogRecordView(r model.SyncBacklogRecord) backlogRecordView {
	members := roleStrings(r.MemberRoles())
	if members == nil {
		members = []string{}
	}
	return backlogRecordView{
		Seq:             r.Seq,
		ID:              r.ID,
		GroupID:         r.GroupID,
		ExternalGroupID: r.ExternalGroupID,
		Operation:       string(r.Operation),
		Members:         members,
		Status:          r.StatusCode,
		StatusMessage:   r.StatusMessage,
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type backlogList []backlogRecordView

func (l backlogList) String() string {
	if len(l) == 0 {
		return "No backlog records."
	}
	var b strings.Builder
	for i, r := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%4d  %-13s %-8s %s  %s", r.Seq, r.Operation, r.Status, r.GroupID, strings.Join(r.Members, " "))
		if r.StatusMessage != "" {
			fmt.Fprintf(&b, "  (%s)", r.StatusMessage)
		}
	}
	return b.String()
}

// NewBacklogCommand creates the backlog command.
func NewBacklogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BacklogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "List sync backlog records",
		Long: `List the sync backlog records owed to the external document system,
in creation order.

Examples:
  memberprop backlog --group g1
  memberprop backlog --status FAILED --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacklog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Group, "group", "", "filter by group ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (INIT|SUCCESS|FAILED)")
	cmd.Flags().StringVar(&opts.Operation, "operation", "", "filter by operation (CREATE|MEMBER_ADD|MEMBER_MODIFY|MEMBER_REMOVE)")
	return cmd
}

func runBacklog(opts *BacklogOptions, cmd *cobra.Command) error {
	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	recs, err := env.store.BacklogRecords(cmd.Context(), store.BacklogFilter{
		GroupID:    opts.Group,
		StatusCode: strings.ToUpper(opts.Status),
		Operation:  model.SyncOperation(strings.ToUpper(opts.Operation)),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list backlog", err)
	}

	list := make(backlogList, len(recs))
	for i, r := range recs {
		list[i] = newBacklogRecordView(r)
	}
	return opts.formatter(cmd).Success(list)
}
