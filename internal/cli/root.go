package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/memberprop/internal/config"
	"github.com/roach88/memberprop/internal/engine"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the config's database

	// Config is loaded by the root command before any subcommand runs.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the memberprop CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "memberprop",
		Short: "memberprop - membership change propagation",
		Long: `Apply group membership changes and propagate them through nested
groups, conversation roles and the external document-system backlog.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (.yaml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewDeprovisionCommand(opts))
	cmd.AddCommand(NewBacklogCommand(opts))
	cmd.AddCommand(NewResetIndexCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load validates global flags, reads the config and installs the default
// logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	o.Config = cfg

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log level", err)
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// env is an opened store and the engine over it.
type env struct {
	store  *store.Store
	engine *engine.Engine
}

// settings returns the loaded config. Subcommands constructed without the
// root command fall back to config.Default().
func (o *RootOptions) settings() config.Config {
	cfg := o.Config
	if cfg.Database == "" {
		cfg = config.Default()
		if o.Database != "" {
			cfg.Database = o.Database
		}
	}
	return cfg
}

// openEnv opens the configured database.
func openEnv(o *RootOptions) (*env, error) {
	cfg := o.settings()
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return &env{store: st, engine: engine.New(st, engine.WithConfig(cfg))}, nil
}

// Close closes the store.
func (e *env) Close() error {
	return e.store.Close()
}

// actorContext attaches the named user as the acting user.
func (e *env) actorContext(ctx context.Context, actorID string) (context.Context, error) {
	u, err := e.store.User(ctx, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("actor %q not found", actorID))
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load actor", err)
	}
	return session.WithActor(ctx, u), nil
}

// drain runs the background jobs queued by the last operation.
func (e *env) drain(ctx context.Context) int {
	return e.engine.Worker().RunPending(ctx)
}

// ensureAdmin creates the admin user when it does not exist yet.
func (e *env) ensureAdmin(ctx context.Context, id string) (model.User, error) {
	u, err := e.store.User(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.User{}, err
	}
	u = model.User{ID: id, Name: id, Enabled: true, Admin: true}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
