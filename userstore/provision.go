package userstore

import (
	"context"
	"log/slog"

	"github.com/mboberg/identistore/docstore"
	iderrors "github.com/mboberg/identistore/errors"
)

// usersSchema describes the backing index: a case-insensitive
// exact-match analyzer on the lookup fields, everything kept out of the
// catch-all aggregate so cross-field indexing cannot break exact-match
// determinism.
func usersSchema() docstore.Schema {
	return docstore.Schema{
		Analyzer: docstore.LowercaseKeywordAnalyzer(),
		Fields: []docstore.Field{
			{Path: "userName", Type: docstore.FieldKeyword},
			{Path: "email.address", Type: docstore.FieldKeyword},
			{Path: "phone.number", Type: docstore.FieldKeyword},
			{Path: "logins.provider", Type: docstore.FieldKeyword},
			{Path: "logins.providerKey", Type: docstore.FieldKeyword},
			{Path: "roles", Type: docstore.FieldKeyword},
		},
		DisableCatchAll: true,
	}
}

// ensureIndex runs provisioning exactly once per store lifetime,
// lazily, on the first real operation. Concurrent first callers all
// wait on the same in-flight attempt; a failure is cached as a terminal
// state for this instance and is not retried (a new Store retries).
func (s *Store) ensureIndex(ctx context.Context) error {
	s.provisionOnce.Do(func() {
		s.provisionErr = s.provision(ctx)
	})
	return s.provisionErr
}

func (s *Store) provision(ctx context.Context) error {
	check, err := s.client.IndexExists(ctx, s.indexName)
	s.offerTrace(check.Debug, err)
	if err != nil {
		return iderrors.SetupFailure("cannot check index existence", err)
	}
	exists := check.Exists

	if exists && s.forceRecreate {
		s.logger.Warn("index_recreate",
			slog.String("index", s.indexName),
			slog.String("note", "dropping existing index"))
		dropped, err := s.client.DeleteIndex(ctx, s.indexName)
		s.offerTrace(dropped.Debug, err)
		if err != nil {
			return iderrors.SetupFailure("cannot drop index for recreate", err)
		}
		exists = false
	}

	if !exists {
		created, err := s.client.CreateIndex(ctx, s.indexName, usersSchema())
		s.offerTrace(created.Debug, err)
		if err != nil {
			if iderrors.IsCode(err, iderrors.ErrCodeIndexExists) {
				// Another instance won the create race; the index is
				// not this instance's to tear down, so indexCreated
				// stays false.
				return nil
			}
			if iderrors.GetCode(err) == iderrors.ErrCodeIndexSetup {
				return err
			}
			return iderrors.SetupFailure("cannot create index", err)
		}
		s.indexCreated.Store(true)
		s.logger.Info("index_provisioned", slog.String("index", s.indexName))
	}

	return nil
}

// IndexCreated reports whether this store instance created the backing
// index during provisioning. False when the index pre-existed, when
// another instance won the create race, or when setup failed. Test
// fixtures use it to decide whether DropIndex is theirs to call.
func (s *Store) IndexCreated() bool {
	return s.indexCreated.Load()
}

// DropIndex deletes the backing index and everything in it.
// Destructive; exists for test fixture teardown.
func (s *Store) DropIndex(ctx context.Context) error {
	res, err := s.client.DeleteIndex(ctx, s.indexName)
	s.offerTrace(res.Debug, err)
	return err
}
