package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	ctx := context.Background()

	sqliteStore, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "kiosk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)
			require.Equal(t, "", Token(ctx, store))

			require.NoError(t, store.Save(ctx, "t1"))
			require.Equal(t, "t1", Token(ctx, store))

			require.NoError(t, store.Save(ctx, "t2"))
			token, err := store.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, "t2", token, "a new credential replaces the old one")

			require.Error(t, store.Save(ctx, ""))

			require.NoError(t, store.Clear(ctx))
			require.NoError(t, store.Clear(ctx), "clearing twice is harmless")
			_, err = store.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiosk.db")

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, "persisted"))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	require.Equal(t, "persisted", Token(ctx, second))
}
