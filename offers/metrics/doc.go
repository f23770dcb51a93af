// Package metrics provides a lazy OpenTelemetry metrics factory for the
// offer protocol, plus derived rate helpers.
package metrics
