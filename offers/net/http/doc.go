// Package http exposes the offer engine over a Fiber HTTP API.
//
// Caller identity is taken from the trusted X-Account-Id header; the API is
// meant to sit behind an authenticating edge that sets it. Request bodies
// are validated with go-playground/validator and domain errors map to a
// stable JSON envelope with business codes.
package http
