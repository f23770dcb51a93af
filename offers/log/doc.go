// Package log defines the structured logging contract used across lib-offers.
// The zap subpackage provides the production implementation.
package log
