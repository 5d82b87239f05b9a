package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/testutil"
)

var testDB *testutil.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testutil.SetupTestDB(ctx)
	if err != nil {
		panic("failed to setup test database: " + err.Error())
	}

	code := m.Run()

	testDB.Teardown(ctx)
	os.Exit(code)
}

func newLink(id int64, code string) *model.ShortLink {
	return &model.ShortLink{
		ID:             id,
		Code:           code,
		DestinationURL: "https://example.com/" + code,
	}
}

func TestLinkRepository_CreateWithInitialVersion(t *testing.T) {
	repo := NewLinkRepository(testDB.Pool)
	versions := NewVersionRepository(testDB.Pool)
	ctx := context.Background()

	t.Run("creates link and version 1 atomically", func(t *testing.T) {
		testDB.Cleanup(ctx)

		link := newLink(1001, "abc123")
		require.NoError(t, repo.CreateWithInitialVersion(ctx, link))

		assert.Equal(t, 1, link.CurrentVersion)
		assert.False(t, link.CreatedAt.IsZero())

		v, err := versions.Get(ctx, link.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, link.DestinationURL, v.DestinationURL)
		assert.False(t, v.IsRollback)
	})

	t.Run("rejects duplicate code", func(t *testing.T) {
		testDB.Cleanup(ctx)

		require.NoError(t, repo.CreateWithInitialVersion(ctx, newLink(1001, "abc123")))
		err := repo.CreateWithInitialVersion(ctx, newLink(1002, "ABC123"))
		assert.ErrorIs(t, err, ErrKeyConflict)
	})

	t.Run("rejects duplicate alias", func(t *testing.T) {
		testDB.Cleanup(ctx)

		alias := "taken"
		first := newLink(1001, "abc123")
		first.Alias = &alias
		require.NoError(t, repo.CreateWithInitialVersion(ctx, first))

		upper := "TAKEN"
		second := newLink(1002, "def456")
		second.Alias = &upper
		assert.ErrorIs(t, repo.CreateWithInitialVersion(ctx, second), ErrKeyConflict)
	})
}

func TestLinkRepository_Lookups(t *testing.T) {
	repo := NewLinkRepository(testDB.Pool)
	ctx := context.Background()
	testDB.Cleanup(ctx)

	alias := "my-alias"
	link := newLink(2001, "xyz789")
	link.Alias = &alias
	require.NoError(t, repo.CreateWithInitialVersion(ctx, link))

	t.Run("by code case-insensitive", func(t *testing.T) {
		got, err := repo.GetByCode(ctx, "XYZ789")
		require.NoError(t, err)
		assert.Equal(t, link.ID, got.ID)
	})

	t.Run("by alias", func(t *testing.T) {
		got, err := repo.GetByAlias(ctx, "MY-ALIAS")
		require.NoError(t, err)
		assert.Equal(t, link.ID, got.ID)
	})

	t.Run("by code or alias", func(t *testing.T) {
		byCode, err := repo.GetByCodeOrAlias(ctx, "xyz789")
		require.NoError(t, err)
		byAlias, err := repo.GetByCodeOrAlias(ctx, "my-alias")
		require.NoError(t, err)
		assert.Equal(t, byCode.ID, byAlias.ID)
	})

	t.Run("by destination returns earliest", func(t *testing.T) {
		twin := newLink(2002, "qqq111")
		twin.DestinationURL = link.DestinationURL
		require.NoError(t, repo.CreateWithInitialVersion(ctx, twin))

		got, err := repo.GetByDestination(ctx, link.DestinationURL)
		require.NoError(t, err)
		assert.Equal(t, link.ID, got.ID)
	})

	t.Run("exists checks", func(t *testing.T) {
		exists, err := repo.ExistsCode(ctx, "xyz789")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.ExistsAlias(ctx, "my-alias")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.ExistsCode(ctx, "nothere")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByCode(ctx, "nothere")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list keys covers codes and aliases", func(t *testing.T) {
		keys, err := repo.ListKeys(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, "xyz789")
		assert.Contains(t, keys, "my-alias")
	})
}

func TestLinkRepository_Counters(t *testing.T) {
	repo := NewLinkRepository(testDB.Pool)
	ctx := context.Background()
	testDB.Cleanup(ctx)

	link := newLink(3001, "cnt001")
	require.NoError(t, repo.CreateWithInitialVersion(ctx, link))

	require.NoError(t, repo.IncrementClickCount(ctx, link.Code))
	require.NoError(t, repo.IncrementClickCount(ctx, link.Code))
	require.NoError(t, repo.IncrementUniqueVisitors(ctx, link.Code))

	got, err := repo.GetByCode(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ClickCount)
	assert.Equal(t, int64(1), got.UniqueVisitorCount)
}

func TestLinkRepository_Delete(t *testing.T) {
	repo := NewLinkRepository(testDB.Pool)
	versions := NewVersionRepository(testDB.Pool)
	ctx := context.Background()
	testDB.Cleanup(ctx)

	link := newLink(4001, "del001")
	require.NoError(t, repo.CreateWithInitialVersion(ctx, link))

	require.NoError(t, repo.Delete(ctx, link.Code))
	assert.ErrorIs(t, repo.Delete(ctx, link.Code), ErrNotFound)

	// History rows go with the link.
	_, err := versions.Get(ctx, link.ID, 1)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestVersionRepository_ApplyUpdate(t *testing.T) {
	repo := NewLinkRepository(testDB.Pool)
	versions := NewVersionRepository(testDB.Pool)
	ctx := context.Background()

	t.Run("appends next version and repoints the link", func(t *testing.T) {
		testDB.Cleanup(ctx)

		link := newLink(5001, "upd001")
		require.NoError(t, repo.CreateWithInitialVersion(ctx, link))

		updated := *link
		updated.DestinationURL = "https://example.com/changed"
		updated.CurrentVersion = 2
		updated.UpdatedAt = time.Now()

		next := &model.LinkVersion{
			LinkID:         link.ID,
			VersionNumber:  2,
			DestinationURL: updated.DestinationURL,
		}
		require.NoError(t, versions.ApplyUpdate(ctx, &updated, nil, next))

		got, err := repo.GetByCode(ctx, link.Code)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CurrentVersion)
		assert.Equal(t, "https://example.com/changed", got.DestinationURL)

		latest, err := versions.LatestVersionNumber(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, latest)
	})

	t.Run("writes backup and next in one transaction", func(t *testing.T) {
		testDB.Cleanup(ctx)

		link := newLink(5002, "upd002")
		require.NoError(t, repo.CreateWithInitialVersion(ctx, link))

		updated := *link
		updated.DestinationURL = "https://example.com/after"
		updated.CurrentVersion = 3

		backup := &model.LinkVersion{LinkID: link.ID, VersionNumber: 2, DestinationURL: "https://example.com/drifted"}
		next := &model.LinkVersion{LinkID: link.ID, VersionNumber: 3, DestinationURL: updated.DestinationURL}
		require.NoError(t, versions.ApplyUpdate(ctx, &updated, backup, next))

		list, err := versions.ListByLink(ctx, link.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, 3, list[0].VersionNumber)
		assert.Equal(t, "https://example.com/drifted", list[1].DestinationURL)
	})

	t.Run("delete version", func(t *testing.T) {
		testDB.Cleanup(ctx)

		link := newLink(5003, "upd003")
		require.NoError(t, repo.CreateWithInitialVersion(ctx, link))

		assert.ErrorIs(t, versions.Delete(ctx, link.ID, 5), ErrVersionNotFound)
		require.NoError(t, versions.Delete(ctx, link.ID, 1))
	})
}
