// Package config loads engine settings from YAML or CUE files.
//
// A missing path yields Default(). YAML files are decoded over the defaults.
// CUE files are unified with the embedded #Config schema, which supplies
// defaults and rejects unknown fields.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config holds engine settings.
type Config struct {
	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database"`
	// SyncEnabled turns sync backlog emission on.
	SyncEnabled bool `yaml:"sync_enabled" json:"sync_enabled"`
	// SyncGroupMembers is the default for emitting MEMBER_ADD records.
	SyncGroupMembers bool `yaml:"sync_group_members" json:"sync_group_members"`
	// MailOnGroupAddedConversations sends accessibility mail when a
	// conversation gains users through a group.
	MailOnGroupAddedConversations bool `yaml:"mail_on_group_added_conversations" json:"mail_on_group_added_conversations"`
	// ConsolidateFollowupClosedEmail is carried on every ConversationReindexed
	// event for the mail sender.
	ConsolidateFollowupClosedEmail bool `yaml:"consolidate_followup_closed_email" json:"consolidate_followup_closed_email"`
	// WorkerQueueSize pre-sizes the background job queue.
	WorkerQueueSize int    `yaml:"worker_queue_size" json:"worker_queue_size"`
	LogLevel        string `yaml:"log_level" json:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database:                       "memberprop.db",
		SyncEnabled:                    true,
		SyncGroupMembers:               true,
		MailOnGroupAddedConversations:  false,
		ConsolidateFollowupClosedEmail: true,
		WorkerQueueSize:                64,
		LogLevel:                       "info",
	}
}

// Error is a configuration error with an optional source position.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Load reads settings from path. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = parseYAML(path, data)
	case ".cue":
		cfg, err = parseCUE(path, data)
	default:
		return Config{}, &Error{Path: path, Message: "unsupported config format (want .yaml, .yml or .cue)"}
	}
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Path: path, Message: err.Error()}
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.WorkerQueueSize < 0 {
		return fmt.Errorf("worker_queue_size must be >= 0, got %d", c.WorkerQueueSize)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", s)
	}
}

func parseYAML(path string, data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, &Error{Path: path, Message: err.Error()}
	}
	return cfg, nil
}

func parseCUE(path string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return Config{}, cueError(path, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError(path, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, cueError(path, err)
	}
	return cfg, nil
}

// cueError keeps the first error and its position.
func cueError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Path: path, Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Path: path, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
