// Package docstore defines the document store contract consumed by the
// identity repository, and ships a bleve-backed engine implementing it.
//
// Every result carries a Debug diagnostic string; the repository offers
// it to the trace hook configured by the caller.
package docstore

import (
	"context"
	"encoding/json"
)

// DefaultPageSize is the store's default search page size. Match-all
// queries that do not set an explicit size are bounded by it.
const DefaultPageSize = 10

// OpType selects the write semantics of a Put.
type OpType int

const (
	// OpTypeCreate fails when a document with the given id already
	// exists. Used for first writes with caller- or code-generated ids.
	OpTypeCreate OpType = iota
	// OpTypeIndex replaces an existing document, but only when the
	// supplied version matches the store's current version.
	OpTypeIndex
)

// Document is a body to be written under an id. The body does not carry
// the id or version; both live in store metadata.
type Document struct {
	ID   string
	Body json.RawMessage
}

// PutOptions control write semantics and visibility.
type PutOptions struct {
	OpType OpType
	// Version is the version last observed by the caller. Only
	// consulted for OpTypeIndex.
	Version int64
	// Refresh requests that the write be visible to reads immediately,
	// trading write latency for read-your-writes consistency.
	Refresh bool
}

// DeleteOptions control delete semantics and visibility.
type DeleteOptions struct {
	Version int64
	Refresh bool
}

// DeleteResult reports the outcome of a successful delete.
type DeleteResult struct {
	Debug string
}

// ExistsResult reports an index-existence check.
type ExistsResult struct {
	Exists bool
	Debug  string
}

// IndexResult reports the outcome of an index-management call.
type IndexResult struct {
	Debug string
}

// PutResult reports the outcome of a successful write.
type PutResult struct {
	ID      string
	Version int64
	Debug   string
}

// GetResult reports a lookup by id. Found is false for a missing
// document; the other fields are only meaningful when Found is true.
type GetResult struct {
	Found   bool
	ID      string
	Source  json.RawMessage
	Version int64
	Debug   string
}

// Term is one exact-token clause of a conjunction query. The value must
// already be in the normalized form produced by the index analyzer.
type Term struct {
	Field string
	Value string
}

// Query describes a search. An empty Terms slice (or MatchAll) selects
// every document, bounded by Size.
type Query struct {
	Terms    []Term
	MatchAll bool
	// Size bounds the number of hits; 0 means DefaultPageSize.
	Size int
	// From skips that many hits, for offset pagination.
	From int
	// RequestVersion asks the store to include per-hit versions.
	// Versions are not returned unless explicitly requested.
	RequestVersion bool
}

// Hit is one search match. Version is zero unless the query set
// RequestVersion.
type Hit struct {
	ID      string
	Version int64
	Source  json.RawMessage
	Score   float64
}

// SearchResult reports a search. A partial response (TimedOut or
// TerminatedEarly) must not be trusted for exact-match resolution.
type SearchResult struct {
	Hits            []Hit
	Total           uint64
	TimedOut        bool
	TerminatedEarly bool
	Debug           string
}

// Client is the document store consumed by the repository: an external
// service storing versioned documents, queryable by field-exact-match
// search, with index-management primitives. Every call result carries a
// Debug diagnostic; failed calls carry theirs in the error's "debug"
// detail instead.
type Client interface {
	IndexExists(ctx context.Context, name string) (ExistsResult, error)
	CreateIndex(ctx context.Context, name string, schema Schema) (IndexResult, error)
	DeleteIndex(ctx context.Context, name string) (IndexResult, error)

	Get(ctx context.Context, index, id string) (GetResult, error)
	Search(ctx context.Context, index string, q Query) (SearchResult, error)
	Put(ctx context.Context, index string, doc Document, opts PutOptions) (PutResult, error)
	Delete(ctx context.Context, index, id string, opts DeleteOptions) (DeleteResult, error)
}
