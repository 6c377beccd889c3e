package userstore

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mboberg/identistore/docstore"
	iderrors "github.com/mboberg/identistore/errors"
	"github.com/mboberg/identistore/identity"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	engine, err := docstore.NewEngine(docstore.DefaultEngineConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	s, err := New(engine, opts...)
	require.NoError(t, err)
	return s
}

func TestStore_CreateThenFindByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a new user with every lookup field populated
	u := identity.New("Testuser")
	u.SetEmail("hello@world.com")
	u.SetPhoneNumber("555 123 1234")
	require.NoError(t, u.ConfirmPhoneNumber())

	// When: creating and re-reading it
	require.NoError(t, s.Create(ctx, u))
	got, err := s.FindByID(ctx, u.ID)

	// Then: the record round-trips post-normalization, at the smallest
	// valid version
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "testuser", got.UserName)
	assert.Equal(t, "hello@world.com", got.EmailAddress())
	assert.Equal(t, "555 123 1234", got.PhoneNumber())
	assert.True(t, got.Phone.Confirmed)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_Create_GeneratesIDAndPatchesVersion(t *testing.T) {
	s := newTestStore(t)

	u := identity.New("testuser")
	require.Empty(t, u.ID)

	require.NoError(t, s.Create(context.Background(), u))

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, int64(1), u.Version)
}

func TestStore_Create_DuplicateIDNeverOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))

	// When: creating another record with the same explicit id
	dup := identity.New("impostor")
	dup.ID = u.ID
	err := s.Create(ctx, dup)

	// Then: the write conflicts and the original is untouched
	require.Error(t, err)
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeDuplicateID))

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "testuser", got.UserName)
}

func TestStore_FindByName_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("Testuser")
	require.NoError(t, s.Create(ctx, u))

	for _, q := range []string{"testuser", "TESTUSER", "TestUser"} {
		got, err := s.FindByName(ctx, q)
		require.NoError(t, err, q)
		require.NotNil(t, got, q)
		assert.Equal(t, u.ID, got.ID, q)
		assert.Equal(t, int64(1), got.Version, q)
	}
}

func TestStore_FindByEmail_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("testuser")
	u.SetEmail("hello@world.com")
	require.NoError(t, s.Create(ctx, u))

	got, err := s.FindByEmail(ctx, "HELLO@WORLD.com")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hello@world.com", got.EmailAddress())
}

func TestStore_FindByLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("testuser")
	u.AddLogin("google", "key-123")
	require.NoError(t, s.Create(ctx, u))

	got, err := s.FindByLogin(ctx, "google", "key-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	// A half-matching pair does not resolve.
	got, err = s.FindByLogin(ctx, "google", "other-key")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Update_StaleVersionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))

	// Given: two copies read at version 1
	fresh, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	stale, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)

	// When: the first copy wins the write
	fresh.AddToRole("admin")
	require.NoError(t, s.Update(ctx, fresh))
	assert.Equal(t, int64(2), fresh.Version)

	// Then: the stale copy is rejected and its mutation never lands
	stale.AddToRole("bad_role")
	err = s.Update(ctx, stale)
	require.Error(t, err)
	assert.True(t, iderrors.IsVersionConflict(err))

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsInRole("admin"))
	assert.False(t, got.IsInRole("bad_role"))
}

func TestStore_ConcurrentUpdates_ExactlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))

	// Given: two callers holding copies read before either write
	a, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	b, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)

	a.AddToRole("from_a")
	b.AddToRole("from_b")

	// When: both write concurrently
	errs := make([]error, 2)
	var g errgroup.Group
	g.Go(func() error { errs[0] = s.Update(ctx, a); return nil })
	g.Go(func() error { errs[1] = s.Update(ctx, b); return nil })
	require.NoError(t, g.Wait())

	// Then: exactly one write succeeds and the other conflicts
	conflicts := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, iderrors.IsVersionConflict(err))
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts)

	// And: only the winning mutation is applied
	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.NotEqual(t, got.IsInRole("from_a"), got.IsInRole("from_b"))
}

func TestStore_Delete_ThenLookupsAreEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))
	require.NoError(t, s.Delete(ctx, u))

	byID, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, byID)

	byName, err := s.FindByName(ctx, "testuser")
	require.NoError(t, err)
	assert.Nil(t, byName)
}

func TestStore_Delete_StaleVersionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))

	// Another copy advances the document.
	other, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	other.AddToRole("admin")
	require.NoError(t, s.Update(ctx, other))

	// The stale copy may not delete it.
	err = s.Delete(ctx, u)
	require.Error(t, err)
	assert.True(t, iderrors.IsVersionConflict(err))
}

func TestStore_MissingUser_NilWhenNotStrict(t *testing.T) {
	s := newTestStore(t)

	got, err := s.FindByID(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_MissingUser_ErrorInStrictMode(t *testing.T) {
	s := newTestStore(t, WithStrictNotFound())
	ctx := context.Background()

	_, err := s.FindByID(ctx, "missing")
	assert.True(t, iderrors.IsNotFound(err))

	_, err = s.FindByName(ctx, "nobody")
	assert.True(t, iderrors.IsNotFound(err))
}

func TestStore_All_BoundedByDefaultPageSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < docstore.DefaultPageSize+2; i++ {
		require.NoError(t, s.Create(ctx, identity.New(fmt.Sprintf("user%d", i))))
	}

	users, err := s.All(ctx)

	require.NoError(t, err)
	assert.Len(t, users, docstore.DefaultPageSize)
}

func TestStore_Scan_EnumeratesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 12
	for i := 0; i < total; i++ {
		require.NoError(t, s.Create(ctx, identity.New(fmt.Sprintf("user%d", i))))
	}

	seen := make(map[string]bool)
	from := 0
	for from != -1 {
		users, next, err := s.Scan(ctx, from, 5)
		require.NoError(t, err)
		for _, u := range users {
			assert.False(t, seen[u.ID], "user %s repeated across pages", u.ID)
			seen[u.ID] = true
		}
		from = next
	}
	assert.Len(t, seen, total)
}

func TestStore_InvalidArguments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, iderrors.IsCode(s.Create(ctx, nil), iderrors.ErrCodeInvalidArgument))
	assert.True(t, iderrors.IsCode(s.Update(ctx, nil), iderrors.ErrCodeInvalidArgument))
	assert.True(t, iderrors.IsCode(s.Update(ctx, &identity.User{}), iderrors.ErrCodeInvalidArgument))
	assert.True(t, iderrors.IsCode(s.Delete(ctx, nil), iderrors.ErrCodeInvalidArgument))

	_, err := s.FindByID(ctx, "")
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeInvalidArgument))
	_, err = s.FindByName(ctx, "")
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeInvalidArgument))
	_, err = s.FindByEmail(ctx, "")
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeInvalidArgument))
	_, err = s.FindByLogin(ctx, "google", "")
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeInvalidArgument))
	_, _, err = s.Scan(ctx, -1, 5)
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeInvalidArgument))

	_, err = New(nil)
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeInvalidArgument))
}

func TestStore_TraceHookSeesStoreCalls(t *testing.T) {
	var diags []string
	s := newTestStore(t, WithTrace(func(d string) { diags = append(diags, d) }))
	ctx := context.Background()

	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))
	_, err := s.FindByName(ctx, "testuser")
	require.NoError(t, err)

	require.NotEmpty(t, diags)
	joined := strings.Join(diags, "\n")
	assert.Contains(t, joined, "create_index")
	assert.Contains(t, joined, "put")
	assert.Contains(t, diags[len(diags)-1], "search")
}

func TestStore_TraceHookSeesDeletes(t *testing.T) {
	var diags []string
	s := newTestStore(t, WithTrace(func(d string) { diags = append(diags, d) }))
	ctx := context.Background()

	// Given: a created then deleted user
	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))
	require.NoError(t, s.Delete(ctx, u))

	// Then: the subscriber saw the delete, not just the create
	joined := strings.Join(diags, "\n")
	assert.Contains(t, joined, "delete index=")
	assert.Contains(t, joined, u.ID)
}

func TestStore_TraceHookSeesRefusedWrites(t *testing.T) {
	var diags []string
	s := newTestStore(t, WithTrace(func(d string) { diags = append(diags, d) }))
	ctx := context.Background()

	u := identity.New("testuser")
	require.NoError(t, s.Create(ctx, u))

	// Given: a copy made stale by a later write
	stale, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	winner, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	winner.AddToRole("admin")
	require.NoError(t, s.Update(ctx, winner))

	// When: the stale copy is rejected
	err = s.Update(ctx, stale)
	require.Error(t, err)

	// Then: the refusal is offered to the subscriber too
	assert.Contains(t, diags[len(diags)-1], "version_conflict")
}

func TestStore_CustomIndexName(t *testing.T) {
	engine, err := docstore.NewEngine(docstore.DefaultEngineConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	ctx := context.Background()

	s, err := New(engine, WithIndexName("custom-index"))
	require.NoError(t, err)

	u := identity.New("elonmusk")
	require.NoError(t, s.Create(ctx, u))

	// The document lives in the custom index, nowhere else.
	check, err := engine.IndexExists(ctx, "custom-index")
	require.NoError(t, err)
	assert.True(t, check.Exists)
	check, err = engine.IndexExists(ctx, DefaultIndexName)
	require.NoError(t, err)
	assert.False(t, check.Exists)

	// Fixture-style teardown: the store created the index, so it drops it.
	require.True(t, s.IndexCreated())
	require.NoError(t, s.DropIndex(ctx))
	check, err = engine.IndexExists(ctx, "custom-index")
	require.NoError(t, err)
	assert.False(t, check.Exists)
}
