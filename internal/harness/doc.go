// Package harness runs membership propagation scenarios end to end.
//
// A scenario seeds a directory, applies change batches (or deprovisions a
// user) through the real engine and checks the emitted trace and the final
// store state. Traces are compared against golden files, so any change to
// event order or content shows up as a diff.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: nested_propagation
//	description: "What this scenario validates"
//	setup:
//	  users:
//	    - id: u1
//	  groups:
//	    - id: g1
//	    - id: g2
//	  memberships:
//	    g1:
//	      - member_id: g2
//	steps:
//	  - name: add u1 to g2
//	    changes:
//	      g2:
//	        - member_id: u1
//	assertions:
//	  - type: exploded_members
//	    group: g1
//	    ids: [g2, u1]
//	  - type: trace_order
//	    events: [GROUP_ACCESSIBLE@g2, GROUP_ACCESSIBLE@g1]
//
// Unknown fields are rejected so that typos fail loudly.
//
// # Assertion Types
//
//   - trace_contains: an event appears, optionally for a group and member
//   - trace_order: events appear as a subsequence (TYPE or TYPE@group)
//   - trace_count: an event appears exactly N times
//   - direct_members: a group's direct members and roles
//   - exploded_members: a group's exploded member IDs
//   - accessible_users: a group's stored accessible-user count
//   - backlog: a group's backlog operations in order, optionally with status
//   - owner: a group's owner
//   - indexing_threads: a conversation's indexing-thread counter
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite database with a
// deterministic clock and sequential record IDs. The background worker is
// drained after setup and after each step, so background reindexing and
// external sync replay are part of the trace in a fixed order.
package harness
