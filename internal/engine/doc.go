// Package engine applies batches of group membership changes and propagates
// them to everything derived from membership.
//
// ARCHITECTURE:
//
// One Transaction Per Batch:
// ChangeMembers runs every phase inside one store transaction on the
// caller's goroutine:
//  1. snapshot: affected groups (changed groups and their ancestors), their
//     exploded membership, reachable conversations and their roles
//  2. mutate: resolve and apply each change request, group by group
//  3. cycle check against the post-batch graph; offending groups revert
//  4. closure: exploded membership, accessible-user counts, back-references
//     and notifications
//  5. reindex: inline conversations now, the rest after commit
//  6. backlog: durable sync records for the document system
//
// Work that must not observe an uncommitted state (background reindexing
// and sync replay) is registered with Tx.OnCommit and runs on the Worker.
//
// Batch Numbers:
// Each batch is stamped with Clock.Next(). Every log line of the batch and
// of its commit-time jobs carries the number.
//
// Deterministic Order:
// Groups are processed in ascending ID order, requests in submission order,
// conversations scoping-first then by ID. Backlog records are replayed in
// CREATE, MEMBER_ADD, MEMBER_MODIFY, MEMBER_REMOVE order.
package engine
