// Package safe provides arithmetic helpers with explicit failure modes.
//
// Integer helpers guard int64 ledger amounts against overflow; decimal
// helpers guard rate calculations against division by zero.
package safe
