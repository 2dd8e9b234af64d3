package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/memberprop/internal/engine"
	"github.com/roach88/memberprop/internal/model"
)

// BatchFile is the YAML form of one ChangeMembers call.
//
//	options:
//	  skip_on_exception: true
//	changes:
//	  g1:
//	    - member_id: u1
//	      role: MANAGER
//	    - user_name: bob
//	      delete: true
type BatchFile struct {
	// Options replace the engine defaults when present.
	Options *engine.Options                  `yaml:"options,omitempty"`
	Changes map[string][]model.ChangeRequest `yaml:"changes"`
}

// LoadBatchFile reads and parses a batch file, rejecting unknown fields.
func LoadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var bf BatchFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("batch file %s is empty", path)
		}
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(bf.Changes) == 0 {
		return nil, fmt.Errorf("batch file %s has no changes", path)
	}
	return &bf, nil
}

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Actor string
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <batch.yaml>",
		Short: "Apply a batch of membership changes",
		Long: `Apply a batch of membership changes in one transaction.

Direct members, exploded membership, conversation roles and the sync
backlog are updated together. Background reindexing and sync replay run
before the command exits.

Exit codes:
  0 - Batch committed
  1 - Batch rejected (fully, or partially for cycles)
  2 - Command error

Examples:
  memberprop apply changes.yaml --actor admin
  memberprop apply changes.yaml --actor alice --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "admin", "acting user ID")
	return cmd
}

func runApply(opts *ApplyOptions, path string, cmd *cobra.Command) error {
	bf, err := LoadBatchFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid batch", err)
	}

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, err := env.actorContext(cmd.Context(), opts.Actor)
	if err != nil {
		return err
	}

	batchOpts := env.engine.DefaultOptions()
	if bf.Options != nil {
		batchOpts = *bf.Options
	}
	res, err := env.engine.ChangeMembers(ctx, engine.Batch(bf.Changes), batchOpts)
	jobs := env.drain(cmd.Context())
	opts.formatter(cmd).VerboseLog("ran %d background job(s)", jobs)

	return reportBatch(opts.formatter(cmd), res, err)
}

// reportBatch prints a batch outcome and maps it to an exit error.
func reportBatch(f *OutputFormatter, res *engine.BatchResult, err error) error {
	if res == nil {
		if outErr := f.Error(errorCode(err), err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "batch rejected", err)
	}
	if outErr := f.Batch(res, err); outErr != nil {
		return outErr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "batch partially rejected", err)
	}
	return nil
}

// batchView is the printable form of a BatchResult.
type batchView struct {
	Batch      int64               `json:"batch"`
	Groups     []groupView         `json:"groups"`
	Affected   []string            `json:"affected"`
	Inline     []string            `json:"inline_conversations,omitempty"`
	Background []string            `json:"background_conversations,omitempty"`
	Records    []backlogRecordView `json:"records,omitempty"`
}

type groupView struct {
	GroupID         string   `json:"group_id"`
	Added           []string `json:"added,omitempty"`
	Modified        []string `json:"modified,omitempty"`
	Removed         []string `json:"removed,omitempty"`
	AccessibleUsers int      `json:"accessible_users"`
	Rejected        bool     `json:"rejected,omitempty"`
	Failures        []string `json:"failures,omitempty"`
}

func newBatchView(res *engine.BatchResult) batchView {
	v := batchView{
		Batch:      res.Batch,
		Affected:   res.Affected,
		Inline:     res.Inline,
		Background: res.Background,
	}
	ids := make([]string, 0, len(res.Groups))
	for id := range res.Groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		g := res.Groups[id]
		gv := groupView{
			GroupID:         id,
			Added:           roleStrings(g.Added),
			Modified:        roleStrings(g.Modified),
			Removed:         roleStrings(g.Removed),
			AccessibleUsers: g.AccessibleUsers,
			Rejected:        g.Rejected,
		}
		for _, f := range g.Failures {
			gv.Failures = append(gv.Failures, fmt.Sprintf("%s: %v", f.Request, f.Err))
		}
		v.Groups = append(v.Groups, gv)
	}
	for _, r := range res.Records {
		v.Records = append(v.Records, newBacklogRecordView(r))
	}
	return v
}

// String renders the view for text output.
func (v batchView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %d\n", v.Batch)
	for _, g := range v.Groups {
		status := ""
		if g.Rejected {
			status = " (rejected)"
		}
		fmt.Fprintf(&b, "  %s%s: %d accessible user(s)\n", g.GroupID, status, g.AccessibleUsers)
		writeList(&b, "added", g.Added)
		writeList(&b, "modified", g.Modified)
		writeList(&b, "removed", g.Removed)
		writeList(&b, "skipped", g.Failures)
	}
	if len(v.Inline)+len(v.Background) > 0 {
		fmt.Fprintf(&b, "  reindexed: %d inline, %d background\n", len(v.Inline), len(v.Background))
	}
	for _, r := range v.Records {
		fmt.Fprintf(&b, "  backlog %d: %s %s %s\n", r.Seq, r.Operation, r.GroupID, strings.Join(r.Members, " "))
	}
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "    %s: %s\n", label, strings.Join(items, ", "))
}

func roleStrings(s model.RoleSet) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, a := range s.Sorted() {
		out = append(out, a.Member.ID+"="+string(a.Role))
	}
	return out
}
