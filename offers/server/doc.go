// Package server provides server lifecycle and graceful shutdown helpers.
//
// Use this package to coordinate signal handling, shutdown deadlines, and
// ordered resource cleanup for the offer API daemon.
package server
