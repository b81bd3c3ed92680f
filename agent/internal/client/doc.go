// Package client is a small HTTP client for the broker API, used by the
// consumer agent and by mqctl.
//
// Admission and request failures reported by the broker come back as
// *APIError carrying the HTTP status and the broker's error text. Transport
// failures are returned wrapped.
package client
