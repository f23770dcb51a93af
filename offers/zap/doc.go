// Package zap adapts go.uber.org/zap to the log.Logger interface and
// correlates log entries with active OpenTelemetry spans.
package zap
