package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/config"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	if !result.Pass {
		t.Fatalf("scenario failed:\n%s", strings.Join(result.Errors, "\n"))
	}
}

// =============================================================================
// Golden traces
// =============================================================================

func TestRun_OwnerAddsMemberGolden(t *testing.T) {
	result, err := RunWithGolden(t, loadTestdata(t, "owner_adds_member"))
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "u1", result.Records[0].ActorID)
}

func TestRun_MutualNestingGolden(t *testing.T) {
	result, err := RunWithGolden(t, loadTestdata(t, "mutual_nesting"))
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Steps, 1)
	assert.Contains(t, result.Steps[0].Error, "CYCLE_DETECTED")
	assert.Empty(t, result.Trace)
}

// =============================================================================
// Scenario outcomes
// =============================================================================

func TestRun_DeprovisionOwner(t *testing.T) {
	result, err := Run(loadTestdata(t, "deprovision_owner"))
	require.NoError(t, err)
	requirePass(t, result)
}

func TestRun_HierarchyReindex(t *testing.T) {
	result, err := Run(loadTestdata(t, "hierarchy_reindex"))
	require.NoError(t, err)
	requirePass(t, result)

	var convs []string
	for _, l := range result.Trace {
		if l.Type == "CONVERSATION_REINDEXED" {
			convs = append(convs, l.Conversation)
		}
	}
	assert.Equal(t, []string{"c1", "c2", "c3", "c4", "c5"}, convs)
}

func TestRun_SyncDisabledConfig(t *testing.T) {
	cfg := config.Default()
	cfg.SyncEnabled = false

	s := loadTestdata(t, "owner_adds_member")
	s.Assertions = []Assertion{{Type: AssertTraceCount, Event: "BACKLOG_OBJECT_CREATED", Count: 0}}

	result, err := Run(s, WithConfig(cfg))
	require.NoError(t, err)
	requirePass(t, result)
	assert.Empty(t, result.Records)
}

func TestRun_ReportsUnexpectedStepError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: denied
description: "a plain member may not add others"
setup:
  users:
    - id: u1
    - id: u2
  groups:
    - id: g1
steps:
  - actor: u1
    changes:
      g1:
        - member_id: u2
assertions:
  - type: direct_members
    group: g1
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Contains(t, result.Errors[0], "PRIVILEGE_DENIED")
}

func TestRun_ExpectedErrorMustOccur(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expected_missing
description: "expects a failure that never happens"
setup:
  users:
    - id: u1
  groups:
    - id: g1
steps:
  - changes:
      g1:
        - member_id: u1
    expect_error: CYCLE_DETECTED
assertions:
  - type: exploded_members
    group: g1
    ids: [u1]
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected error CYCLE_DETECTED, got none")
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	s := loadTestdata(t, "owner_adds_member")
	s.Assertions = []Assertion{{Type: AssertOwner, Group: "g1", User: "u2"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `g1 owned by "u2"`)
}

func TestRun_SetupFailureIsAnError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_setup
description: "hierarchy member does not exist"
setup:
  hierarchies:
    - id: h1
      members:
        ghost: MEMBER
steps:
  - changes:
      g1: []
assertions:
  - type: trace_count
    event: GROUP_ACCESSIBLE
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute setup")
}
