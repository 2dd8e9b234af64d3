package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/memberprop/internal/harness"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Admin string
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <directory.yaml>",
		Short: "Load users, groups and conversations into the database",
		Long: `Load a directory file into the database.

The file has the shape of a scenario's setup section: users, groups,
hierarchies, conversations and memberships. Memberships are applied as
the admin user, which is created if missing.

Examples:
  memberprop seed directory.yaml --db ./memberprop.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Admin, "admin", "admin", "admin user ID")
	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read directory file", err)
	}
	var setup harness.Setup
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&setup); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse directory file", err)
	}

	env, err := openEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	admin, err := env.ensureAdmin(ctx, opts.Admin)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create admin", err)
	}
	if err := harness.Seed(ctx, env.engine, admin, setup); err != nil {
		return WrapExitError(ExitFailure, "seed failed", err)
	}
	jobs := env.drain(ctx)

	f := opts.formatter(cmd)
	f.VerboseLog("ran %d background job(s)", jobs)
	return f.Success(seedSummary{
		Users:         len(setup.Users),
		Groups:        len(setup.Groups),
		Hierarchies:   len(setup.Hierarchies),
		Conversations: len(setup.Conversations),
		Memberships:   len(setup.Memberships),
	})
}

type seedSummary struct {
	Users         int `json:"users"`
	Groups        int `json:"groups"`
	Hierarchies   int `json:"hierarchies"`
	Conversations int `json:"conversations"`
	Memberships   int `json:"membership_groups"`
}

func (s seedSummary) String() string {
	return fmt.Sprintf("Seeded %d user(s), %d group(s), %d hierarchy(ies), %d conversation(s); memberships for %d group(s)",
		s.Users, s.Groups, s.Hierarchies, s.Conversations, s.Memberships)
}
