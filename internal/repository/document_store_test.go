package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/namesync/internal/model"
	"github.com/d60-Lab/namesync/internal/repository"
	"github.com/d60-Lab/namesync/internal/testutil"
)

func TestQueryByOwnerFiltersByUser(t *testing.T) {
	db := testutil.NewDB(t)
	store := repository.NewDocumentStore(db)
	ctx := context.Background()

	testutil.SeedPosts(t, db, model.CollectionWorks, "w-u1", "u1", "Alice", 2)
	testutil.SeedPosts(t, db, model.CollectionWorks, "w-u2", "u2", "Bob", 3)

	got, err := store.QueryByOwner(ctx, model.CollectionWorks, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, "Alice", p.DisplayName)
		assert.Equal(t, model.CollectionWorks, p.Ref.Collection)
	}

	cnt, err := store.CountByOwner(ctx, model.CollectionWorks, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cnt)
}

func TestQueryRejectsUnknownCollection(t *testing.T) {
	store := repository.NewDocumentStore(testutil.NewDB(t))

	_, err := store.QueryByOwner(context.Background(), "posts; DROP TABLE users", "u1")
	assert.ErrorIs(t, err, repository.ErrUnknownCollection)
}

func TestCommitBatchAppliesAllUpdates(t *testing.T) {
	db := testutil.NewDB(t)
	store := repository.NewDocumentStore(db)
	testutil.SeedPosts(t, db, model.CollectionQuestions, "q", "u1", "Alice", 3)

	writes := []repository.Write{
		{Ref: repository.DocRef{Collection: model.CollectionQuestions, ID: "q-0000"}, Fields: repository.Fields{"display_name": "Alicia", "updated_at": repository.ServerTimestamp}},
		{Ref: repository.DocRef{Collection: model.CollectionQuestions, ID: "q-0001"}, Fields: repository.Fields{"display_name": "Alicia", "updated_at": repository.ServerTimestamp}},
	}
	require.NoError(t, store.CommitBatch(context.Background(), writes))

	names := testutil.CachedNames(t, db, model.CollectionQuestions)
	assert.Equal(t, "Alicia", names["q-0000"])
	assert.Equal(t, "Alicia", names["q-0001"])
	assert.Equal(t, "Alice", names["q-0002"])
}

func TestCommitBatchIsAtomic(t *testing.T) {
	db := testutil.NewDB(t)
	store := repository.NewDocumentStore(db)
	testutil.SeedPosts(t, db, model.CollectionWorks, "w", "u1", "Alice", 1)

	writes := []repository.Write{
		{Ref: repository.DocRef{Collection: model.CollectionWorks, ID: "w-0000"}, Fields: repository.Fields{"display_name": "Alicia"}},
		{Ref: repository.DocRef{Collection: model.CollectionWorks, ID: "missing"}, Fields: repository.Fields{"display_name": "Alicia"}},
	}
	err := store.CommitBatch(context.Background(), writes)
	require.ErrorIs(t, err, repository.ErrDocumentNotFound)

	assert.Equal(t, "Alice", testutil.CachedNames(t, db, model.CollectionWorks)["w-0000"])
}

func TestCommitBatchRejectsOversizedBatch(t *testing.T) {
	store := repository.NewDocumentStore(testutil.NewDB(t))
	writes := make([]repository.Write, repository.MaxBatchWrites+1)
	for i := range writes {
		writes[i] = repository.Write{Ref: repository.DocRef{Collection: model.CollectionWorks, ID: "x"}}
	}
	assert.ErrorIs(t, store.CommitBatch(context.Background(), writes), repository.ErrBatchTooLarge)
}

func TestGetUserNotFound(t *testing.T) {
	db := testutil.NewDB(t)
	store := repository.NewDocumentStore(db)
	testutil.SeedUser(t, db, "u1", "Alice")

	u, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)

	_, err = store.GetUser(context.Background(), "nobody")
	assert.True(t, errors.Is(err, repository.ErrDocumentNotFound))
}

func TestStoreErrorOnClosedDB(t *testing.T) {
	db := testutil.NewDB(t)
	store := repository.NewDocumentStore(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = store.ListUsers(context.Background())
	var se *repository.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "list", se.Op)
}
