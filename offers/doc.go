// Package offers provides shared helpers for the offer protocol library:
// environment lookup and the business error envelope used at the HTTP edge.
//
// Specialized concerns live in subpackages: transfer holds the protocol
// engine, log and zap the logging stack, events and rabbitmq the lifecycle
// event pipeline, postgres the audit journal, and net/http the API surface.
package offers
