package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/memberprop/internal/engine"
	"github.com/roach88/memberprop/internal/model"
)

// Scenario defines a membership propagation scenario.
// Scenarios seed a directory, apply change batches and assert on the
// resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup establishes the initial directory. Setup memberships are applied
	// through the engine as an admin and are not part of the trace.
	Setup Setup `yaml:"setup"`

	// Steps are applied in order after setup.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup describes the initial directory.
type Setup struct {
	Users         []UserSpec                       `yaml:"users,omitempty"`
	Groups        []GroupSpec                      `yaml:"groups,omitempty"`
	Hierarchies   []HierarchySpec                  `yaml:"hierarchies,omitempty"`
	Conversations []ConversationSpec               `yaml:"conversations,omitempty"`
	Memberships   map[string][]model.ChangeRequest `yaml:"memberships,omitempty"`
}

// UserSpec seeds one user. Users are enabled unless Disabled is set.
type UserSpec struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name,omitempty"`
	RealmID  string `yaml:"realm_id,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
	Outsider bool   `yaml:"outsider,omitempty"`
	Admin    bool   `yaml:"admin,omitempty"`
}

// GroupSpec seeds one group. Name and GroupID default to ID.
type GroupSpec struct {
	ID            string `yaml:"id"`
	GroupID       string `yaml:"group_id,omitempty"`
	Name          string `yaml:"name,omitempty"`
	Type          string `yaml:"type,omitempty"`
	Origin        string `yaml:"origin,omitempty"`
	Owner         string `yaml:"owner,omitempty"`
	RealmExternal bool   `yaml:"realm_external,omitempty"`
	Disabled      bool   `yaml:"disabled,omitempty"`
}

// HierarchySpec seeds a Hierarchical-Members object. Members maps a user
// or group ID to its role.
type HierarchySpec struct {
	ID      string                `yaml:"id"`
	Members map[string]model.Role `yaml:"members,omitempty"`
}

// ConversationSpec seeds a conversation and its direct members.
type ConversationSpec struct {
	ID          string                `yaml:"id"`
	Name        string                `yaml:"name,omitempty"`
	Scoping     bool                  `yaml:"scoping,omitempty"`
	HierarchyID string                `yaml:"hierarchy_id,omitempty"`
	Members     map[string]model.Role `yaml:"members,omitempty"`
}

// Step is one engine call. Exactly one of Changes and Deprovision is set.
type Step struct {
	Name string `yaml:"name,omitempty"`

	// Actor is the acting user ID. Empty means the scenario admin.
	Actor string `yaml:"actor,omitempty"`

	// Changes is a ChangeMembers batch keyed by group ID.
	Changes map[string][]model.ChangeRequest `yaml:"changes,omitempty"`

	// Options replace the engine defaults when present.
	Options *engine.Options `yaml:"options,omitempty"`

	Deprovision *DeprovisionSpec `yaml:"deprovision,omitempty"`

	// ExpectError is the error code the step must fail with. Empty means
	// the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// DeprovisionSpec names the user to deprovision by name.
type DeprovisionSpec struct {
	User             string `yaml:"user"`
	AlternativeOwner string `yaml:"alternative_owner,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event for Group (and Member) appears
	// - "trace_order": events appear in order
	// - "trace_count": an event appears exactly Count times
	// - "direct_members": a group's direct members and roles
	// - "exploded_members": a group's exploded member IDs
	// - "accessible_users": a group's accessible-user count
	// - "backlog": a group's backlog operations in order
	// - "owner": a group's owner
	// - "indexing_threads": a conversation's indexing-thread counter
	Type string `yaml:"type"`

	Group string `yaml:"group,omitempty"`

	// Member narrows trace_contains to one member.
	Member string `yaml:"member,omitempty"`

	// Event is the trace type (used by trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected order (used by trace_order).
	Events []string `yaml:"events,omitempty"`

	// Members maps member ID to role (used by direct_members).
	Members map[string]model.Role `yaml:"members,omitempty"`

	// IDs are the expected member IDs (used by exploded_members).
	IDs []string `yaml:"ids,omitempty"`

	// Count is the expected number (used by trace_count, accessible_users).
	Count int `yaml:"count,omitempty"`

	// Operations are the expected backlog operations (used by backlog).
	Operations []model.SyncOperation `yaml:"operations,omitempty"`

	// Status is the expected status of every matched backlog record.
	Status string `yaml:"status,omitempty"`

	// User is the expected owner ID (used by owner).
	User string `yaml:"user,omitempty"`

	// Conversation names the conversation (used by indexing_threads).
	Conversation string `yaml:"conversation,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertDirectMembers   = "direct_members"
	AssertExplodedMembers = "exploded_members"
	AssertAccessibleUsers = "accessible_users"
	AssertBacklog         = "backlog"
	AssertOwner           = "owner"
	AssertIndexingThreads = "indexing_threads"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, u := range s.Setup.Users {
		if u.ID == "" {
			return fmt.Errorf("setup.users[%d]: id is required", i)
		}
	}
	for i, g := range s.Setup.Groups {
		if g.ID == "" {
			return fmt.Errorf("setup.groups[%d]: id is required", i)
		}
		if _, err := model.ParseGroupType(g.Type); err != nil {
			return fmt.Errorf("setup.groups[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		switch {
		case step.Changes == nil && step.Deprovision == nil:
			return fmt.Errorf("steps[%d]: changes or deprovision is required", i)
		case step.Changes != nil && step.Deprovision != nil:
			return fmt.Errorf("steps[%d]: changes and deprovision are mutually exclusive", i)
		case step.Deprovision != nil && step.Deprovision.User == "":
			return fmt.Errorf("steps[%d].deprovision: user is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needGroup := func() error {
		if a.Group == "" {
			return fmt.Errorf("assertions[%d]: group is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertDirectMembers, AssertExplodedMembers, AssertBacklog:
		return needGroup()
	case AssertAccessibleUsers:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for accessible_users", index)
		}
		return needGroup()
	case AssertIndexingThreads:
		if a.Conversation == "" {
			return fmt.Errorf("assertions[%d]: conversation is required for indexing_threads", index)
		}
	case AssertOwner:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: user is required for owner", index)
		}
		return needGroup()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
