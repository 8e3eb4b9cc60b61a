// Package grid implements the attendance grid: the roster of known
// identities, the session header sequence, and one row of marks per
// identity.
//
// # Model
//
// A Grid is a table with one row per roster identity and one column per
// session slot. Each cell holds a Mark (Unset, Present, Absent). The header
// sequence labels the columns; an empty label means the slot has not been
// claimed yet.
//
// # Invariants
//
//   - Every row has exactly Headers().Len() marks. Rows and headers grow
//     together (AddSlot) and never independently.
//   - A row's present count is stored and recomputed from its marks after
//     every mutation (Apply, FromSnapshot, Rollback).
//   - A claimed header label is never overwritten.
//   - Rows exist only for roster identities. Labels outside the roster are
//     reported, never turned into rows.
//
// The grid is not safe for concurrent mutation. The engine package owns a
// grid and serializes all writes to it.
package grid
