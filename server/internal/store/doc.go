// Package store implements the in-memory priority store at the heart of the
// broker. It admits messages under uniqueness, priority-range and
// monotonic-timestamp rules and serves them back highest priority first,
// oldest first among equal priorities.
package store
