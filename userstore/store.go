// Package userstore is a persistence adapter that keeps identity
// records as versioned documents in a search-indexed document store.
//
// One document per user. Every write presents the version the caller
// last observed and the store rejects it atomically on mismatch;
// conflicts surface immediately as ERR_202_VERSION_CONFLICT and are
// never retried here; the caller re-reads and retries. Writes request
// immediate-refresh visibility so a read in the same flow observes
// them.
package userstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mboberg/identistore/docstore"
	iderrors "github.com/mboberg/identistore/errors"
	"github.com/mboberg/identistore/identity"
	"github.com/mboberg/identistore/internal/normalize"
)

// Store is the versioned document repository for identity records.
type Store struct {
	client         docstore.Client
	indexName      string
	forceRecreate  bool
	strictNotFound bool
	trace          TraceFunc
	logger         *slog.Logger

	provisionOnce sync.Once
	provisionErr  error
	indexCreated  atomic.Bool
}

// New creates a store over the given document store client. The
// backing index is provisioned lazily on the first operation, not here:
// the first caller pays the setup latency.
func New(client docstore.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, iderrors.InvalidArgument("client is nil")
	}

	s := &Store{
		client:    client,
		indexName: DefaultIndexName,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.indexName == "" {
		return nil, iderrors.InvalidArgument("index name is empty")
	}
	return s, nil
}

// Create writes a new user document. The id is generated when absent;
// the write fails if a document with that id already exists, never
// silently overwriting. On success the record's ID and store-assigned
// version are patched in place.
func (s *Store) Create(ctx context.Context, u *identity.User) error {
	if u == nil {
		return iderrors.InvalidArgument("user is nil")
	}
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	body, err := json.Marshal(u)
	if err != nil {
		return iderrors.InvalidArgument("user is not serializable")
	}

	res, err := s.client.Put(ctx, s.indexName, docstore.Document{ID: u.ID, Body: body},
		docstore.PutOptions{OpType: docstore.OpTypeCreate, Refresh: true})
	s.offerTrace(res.Debug, err)
	if err != nil {
		return err
	}

	u.Version = res.Version
	s.logger.Debug("user_created",
		slog.String("id", u.ID), slog.Int64("version", u.Version))
	return nil
}

// Update replaces the user document, presenting the version the caller
// last read. A concurrent modification since that read fails with
// ERR_202_VERSION_CONFLICT and leaves the record untouched.
func (s *Store) Update(ctx context.Context, u *identity.User) error {
	if u == nil {
		return iderrors.InvalidArgument("user is nil")
	}
	if u.ID == "" {
		return iderrors.InvalidArgument("user id is empty")
	}
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(u)
	if err != nil {
		return iderrors.InvalidArgument("user is not serializable")
	}

	res, err := s.client.Put(ctx, s.indexName, docstore.Document{ID: u.ID, Body: body},
		docstore.PutOptions{OpType: docstore.OpTypeIndex, Version: u.Revision(), Refresh: true})
	s.offerTrace(res.Debug, err)
	if err != nil {
		return err
	}

	u.Version = res.Version
	s.logger.Debug("user_updated",
		slog.String("id", u.ID), slog.Int64("version", u.Version))
	return nil
}

// Delete removes the user document, presenting the current version.
// Deletion is immediate and final; there is no soft delete.
func (s *Store) Delete(ctx context.Context, u *identity.User) error {
	if u == nil {
		return iderrors.InvalidArgument("user is nil")
	}
	if u.ID == "" {
		return iderrors.InvalidArgument("user id is empty")
	}
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}

	res, err := s.client.Delete(ctx, s.indexName, u.ID,
		docstore.DeleteOptions{Version: u.Revision(), Refresh: true})
	s.offerTrace(res.Debug, err)
	if err != nil {
		return err
	}
	s.logger.Debug("user_deleted", slog.String("id", u.ID))
	return nil
}

// FindByID looks a user up by document id. A missing document returns
// (nil, nil), or ERR_201_NOT_FOUND in strict mode. The record's id and
// version come from store metadata; the stored body carries neither.
func (s *Store) FindByID(ctx context.Context, id string) (*identity.User, error) {
	if id == "" {
		return nil, iderrors.InvalidArgument("id is empty")
	}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}

	res, err := s.client.Get(ctx, s.indexName, id)
	s.offerTrace(res.Debug, err)
	if err != nil {
		return nil, err
	}

	if !res.Found {
		return nil, s.missing(id)
	}
	return decodeUser(res.Source, res.ID, res.Version)
}

// FindByName resolves a user by name, case-insensitively: the query
// value is normalized exactly like the stored projection. When more
// than one document matches, the first hit by the store's ranking wins;
// name uniqueness is caller discipline, not a schema constraint.
func (s *Store) FindByName(ctx context.Context, name string) (*identity.User, error) {
	if name == "" {
		return nil, iderrors.InvalidArgument("name is empty")
	}
	return s.findOne(ctx, name, docstore.Query{
		Terms:          []docstore.Term{{Field: "userName", Value: normalize.Key(name)}},
		RequestVersion: true,
	})
}

// FindByEmail resolves a user by email address, case-insensitively
// under the same normalization rule as FindByName.
func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	if email == "" {
		return nil, iderrors.InvalidArgument("email is empty")
	}
	return s.findOne(ctx, email, docstore.Query{
		Terms:          []docstore.Term{{Field: "email.address", Value: normalize.Key(email)}},
		RequestVersion: true,
	})
}

// FindByLogin resolves a user by external login pair. The query is an
// exact-match conjunction over all login entries; because object
// arrays are flattened in the index, the provider and key may match
// different entries of the same user. A false positive therefore
// requires the user to hold both values somewhere in their logins.
func (s *Store) FindByLogin(ctx context.Context, provider, providerKey string) (*identity.User, error) {
	if provider == "" || providerKey == "" {
		return nil, iderrors.InvalidArgument("provider and providerKey are required")
	}
	return s.findOne(ctx, provider+"/"+providerKey, docstore.Query{
		Terms: []docstore.Term{
			{Field: "logins.provider", Value: normalize.Key(provider)},
			{Field: "logins.providerKey", Value: normalize.Key(providerKey)},
		},
		RequestVersion: true,
	})
}

// All returns users via a match-all query bounded by the store's
// default page size. Larger collections are truncated; use Scan for
// full enumeration.
func (s *Store) All(ctx context.Context) ([]*identity.User, error) {
	users, _, err := s.page(ctx, 0, 0)
	return users, err
}

// Scan returns one page of users starting at the given offset, plus
// the offset of the next page, or -1 when the collection is exhausted.
// size <= 0 uses the store default.
func (s *Store) Scan(ctx context.Context, from, size int) ([]*identity.User, int, error) {
	if from < 0 {
		return nil, 0, iderrors.InvalidArgument("from is negative")
	}
	return s.page(ctx, from, size)
}

func (s *Store) page(ctx context.Context, from, size int) ([]*identity.User, int, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return nil, 0, err
	}

	res, err := s.client.Search(ctx, s.indexName, docstore.Query{
		MatchAll:       true,
		From:           from,
		Size:           size,
		RequestVersion: true,
	})
	s.offerTrace(res.Debug, err)
	if err != nil {
		return nil, 0, err
	}

	users := make([]*identity.User, 0, len(res.Hits))
	for _, hit := range res.Hits {
		u, err := decodeUser(hit.Source, hit.ID, hit.Version)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}

	next := from + len(res.Hits)
	if uint64(next) >= res.Total || len(res.Hits) == 0 {
		next = -1
	}
	return users, next, nil
}

// findOne runs an exact-match query and resolves it to the canonical
// document plus its version stamp. Partial responses (timed out or
// terminated early) and empty results collapse to a miss.
func (s *Store) findOne(ctx context.Context, key string, q docstore.Query) (*identity.User, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}

	res, err := s.client.Search(ctx, s.indexName, q)
	s.offerTrace(res.Debug, err)
	if err != nil {
		return nil, err
	}

	if res.TimedOut || res.TerminatedEarly || len(res.Hits) == 0 {
		return nil, s.missing(key)
	}

	hit := res.Hits[0]
	return decodeUser(hit.Source, hit.ID, hit.Version)
}

// missing implements the strict-not-found switch: nil by default, a
// typed error when the caller opted in.
func (s *Store) missing(key string) error {
	if s.strictNotFound {
		return iderrors.NotFound("no user for " + key)
	}
	return nil
}

// offerTrace hands the call's diagnostic to the subscriber. Refused
// calls carry their diagnostic in the error's "debug" detail; both
// outcomes are offered so the hook sees every store call result.
func (s *Store) offerTrace(diagnostic string, err error) {
	if s.trace == nil {
		return
	}
	if err != nil {
		diagnostic = iderrors.Detail(err, "debug")
	}
	if diagnostic != "" {
		s.trace(diagnostic)
	}
}

// decodeUser rebuilds a record from a stored body, patching in the id
// and version from store metadata.
func decodeUser(source json.RawMessage, id string, version int64) (*identity.User, error) {
	var u identity.User
	if err := json.Unmarshal(source, &u); err != nil {
		return nil, iderrors.Unavailable("stored user document is corrupt", err).WithDetail("id", id)
	}
	u.ID = id
	u.Version = version
	return &u, nil
}
