// Package events defines offer lifecycle events and the publisher contract.
//
// Events are emitted after a state transition commits and are strictly
// best-effort: a publish failure is logged by the caller and never unwinds
// the transition that produced it.
package events
