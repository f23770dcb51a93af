// Package postgres archives resolved offers into a relational audit journal.
//
// The journal is an optional collaborator of the transfer engine: it records
// terminal offer states after they commit and never participates in the
// protocol's own state transitions.
package postgres
