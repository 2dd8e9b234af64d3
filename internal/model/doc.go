// Package model provides the entity and value types shared by every other
// memberprop package.
//
// This package contains type definitions and small pure helpers only. All
// other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Member is a tagged variant over {User, Group}; equality is by ID only
//   - Role maps are keyed by member ID and iterate in sorted ID order
//   - All JSON/YAML tags use snake_case
//   - Names are NFC normalized before lookup or shadow creation
package model
