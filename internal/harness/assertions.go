package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string               // Assertion type for categorization
	Expected string               // Human-readable expected outcome
	Actual   string               // Human-readable actual outcome
	Trace    []testutil.TraceLine // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", line.Seq, traceKey(line))
		}
	}
	return buf.String()
}

// AssertionContext provides the state needed by final-state assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns one message per
// failure. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(trace []testutil.TraceLine, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	}

	if actx == nil || actx.Store == nil {
		return fmt.Errorf("%s requires a store", a.Type)
	}
	switch a.Type {
	case AssertDirectMembers:
		return assertDirectMembers(actx, a)
	case AssertExplodedMembers:
		return assertExplodedMembers(actx, a)
	case AssertAccessibleUsers:
		return assertAccessibleUsers(actx, a)
	case AssertBacklog:
		return assertBacklog(actx, a)
	case AssertOwner:
		return assertOwner(actx, a)
	case AssertIndexingThreads:
		return assertIndexingThreads(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// traceKey renders a line as TYPE@group for messages and trace_order.
func traceKey(l testutil.TraceLine) string {
	if l.Group == "" {
		return l.Type
	}
	return l.Type + "@" + l.Group
}

// matchesKey reports whether l matches an expected entry, which is either a
// bare event type or TYPE@group.
func matchesKey(l testutil.TraceLine, want string) bool {
	if typ, group, ok := strings.Cut(want, "@"); ok {
		return l.Type == typ && l.Group == group
	}
	return l.Type == want
}

// assertTraceContains checks for an event, optionally narrowed to a group
// and member.
func assertTraceContains(trace []testutil.TraceLine, a Assertion) error {
	for _, l := range trace {
		if l.Type != a.Event {
			continue
		}
		if a.Group != "" && l.Group != a.Group {
			continue
		}
		if a.Member != "" && l.Member != a.Member && !containsAssignment(l.Added, a.Member) && !slices.Contains(l.Removed, a.Member) {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s group=%q member=%q", a.Event, a.Group, a.Member),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func containsAssignment(added []string, id string) bool {
	for _, s := range added {
		if got, _, _ := strings.Cut(s, "="); got == id {
			return true
		}
	}
	return false
}

// assertTraceOrder checks that the expected events appear as a subsequence
// of the trace. Intervening events are allowed and an entry may repeat.
func assertTraceOrder(trace []testutil.TraceLine, a Assertion) error {
	next := 0
	for _, l := range trace {
		if next < len(a.Events) && matchesKey(l, a.Events[next]) {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("events in order: %v", a.Events),
		Actual:   fmt.Sprintf("matched %d of %d, missing %s", next, len(a.Events), a.Events[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks if the event appears exactly the specified number
// of times, within Group when set.
func assertTraceCount(trace []testutil.TraceLine, a Assertion) error {
	count := 0
	for _, l := range trace {
		if l.Type == a.Event && (a.Group == "" || l.Group == a.Group) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertDirectMembers(actx *AssertionContext, a Assertion) error {
	got, err := actx.Store.DirectMembers(actx.Ctx, a.Group)
	if err != nil {
		return fmt.Errorf("direct members of %s: %w", a.Group, err)
	}
	gotRoles := make(map[string]model.Role, len(got))
	for id, ra := range got {
		gotRoles[id] = ra.Role
	}
	want := a.Members
	if want == nil {
		want = map[string]model.Role{}
	}
	if !mapsEqual(gotRoles, want) {
		return &AssertionError{
			Type:     AssertDirectMembers,
			Expected: fmt.Sprintf("%s: %s", a.Group, formatRoles(want)),
			Actual:   formatRoles(gotRoles),
		}
	}
	return nil
}

func assertExplodedMembers(actx *AssertionContext, a Assertion) error {
	got, err := actx.Store.ExplodedMembers(actx.Ctx, a.Group)
	if err != nil {
		return fmt.Errorf("exploded members of %s: %w", a.Group, err)
	}
	gotIDs := got.IDs()
	want := slices.Clone(a.IDs)
	sort.Strings(want)
	if !slices.Equal(gotIDs, want) {
		return &AssertionError{
			Type:     AssertExplodedMembers,
			Expected: fmt.Sprintf("%s: %v", a.Group, want),
			Actual:   fmt.Sprintf("%v", gotIDs),
		}
	}
	return nil
}

func assertAccessibleUsers(actx *AssertionContext, a Assertion) error {
	g, err := actx.Store.Group(actx.Ctx, a.Group)
	if err != nil {
		return fmt.Errorf("group %s: %w", a.Group, err)
	}
	if g.AccessibleUsers != a.Count {
		return &AssertionError{
			Type:     AssertAccessibleUsers,
			Expected: fmt.Sprintf("%s: %d", a.Group, a.Count),
			Actual:   fmt.Sprintf("%d", g.AccessibleUsers),
		}
	}
	return nil
}

func assertBacklog(actx *AssertionContext, a Assertion) error {
	recs, err := actx.Store.BacklogRecords(actx.Ctx, store.BacklogFilter{GroupID: a.Group})
	if err != nil {
		return fmt.Errorf("backlog of %s: %w", a.Group, err)
	}
	got := make([]model.SyncOperation, len(recs))
	for i, r := range recs {
		got[i] = r.Operation
		if a.Status != "" && r.StatusCode != a.Status {
			return &AssertionError{
				Type:     AssertBacklog,
				Expected: fmt.Sprintf("%s: every record %s", a.Group, a.Status),
				Actual:   fmt.Sprintf("record %d (%s) is %s", r.Seq, r.Operation, r.StatusCode),
			}
		}
	}
	if !slices.Equal(got, a.Operations) {
		return &AssertionError{
			Type:     AssertBacklog,
			Expected: fmt.Sprintf("%s: %v", a.Group, a.Operations),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertOwner(actx *AssertionContext, a Assertion) error {
	g, err := actx.Store.Group(actx.Ctx, a.Group)
	if err != nil {
		return fmt.Errorf("group %s: %w", a.Group, err)
	}
	if g.OwnerID != a.User {
		return &AssertionError{
			Type:     AssertOwner,
			Expected: fmt.Sprintf("%s owned by %q", a.Group, a.User),
			Actual:   fmt.Sprintf("%q", g.OwnerID),
		}
	}
	return nil
}

func assertIndexingThreads(actx *AssertionContext, a Assertion) error {
	c, err := actx.Store.Conversation(actx.Ctx, a.Conversation)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", a.Conversation, err)
	}
	if c.IndexingThreads != a.Count {
		return &AssertionError{
			Type:     AssertIndexingThreads,
			Expected: fmt.Sprintf("%s: %d", a.Conversation, a.Count),
			Actual:   fmt.Sprintf("%d", c.IndexingThreads),
		}
	}
	return nil
}

func mapsEqual(a, b map[string]model.Role) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func formatRoles(m map[string]model.Role) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
