// Package store provides SQLite-backed durable storage for groups, users,
// conversations and the membership graph that connects them.
//
// The store holds:
//   - Directory entities: users, groups, conversations, hierarchies
//   - Direct membership edges (group -> member with role)
//   - Derived state: member back-references, accessible-user counts,
//     calculated conversation roles, indexing-thread counters
//   - The activity log and the sync backlog
//
// # Transactions
//
// Every membership batch runs inside one InTx call. Functions registered with
// Tx.OnCommit run, in registration order, only after the transaction has
// committed; nothing registered by a rolled-back transaction ever runs.
//
// Read and write helpers are defined once on an unexported queries type and
// promoted to both *Store (autocommit) and *Tx (transactional).
//
// # Deterministic Query Results
//
// Queries returning sets order by id ASC so that callers iterate members,
// groups and conversations in a stable order across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The pool is limited to a single connection. Code running inside InTx must
// use the *Tx it was given; calling *Store methods there would wait forever
// for the connection the transaction holds.
package store
