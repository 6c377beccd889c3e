package userstore

import "log/slog"

// DefaultIndexName is the backing index used when none is configured.
const DefaultIndexName = "users"

// TraceFunc receives the diagnostic string of every store call result.
// This is the store's observability surface; it is invoked inline, so
// implementations must be fast and must not call back into the store.
type TraceFunc func(diagnostic string)

// Option configures a Store.
type Option func(*Store)

// WithIndexName sets the backing index name (default "users").
func WithIndexName(name string) Option {
	return func(s *Store) { s.indexName = name }
}

// WithForceRecreate drops and recreates the backing index during
// provisioning. Destructive; intended for tests and bootstrap only.
func WithForceRecreate() Option {
	return func(s *Store) { s.forceRecreate = true }
}

// WithStrictNotFound makes missing-document lookups return an
// ERR_201_NOT_FOUND error instead of a nil record.
func WithStrictNotFound() Option {
	return func(s *Store) { s.strictNotFound = true }
}

// WithTrace installs the trace hook.
func WithTrace(fn TraceFunc) Option {
	return func(s *Store) { s.trace = fn }
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}
