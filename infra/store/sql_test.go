package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/factory"
	"github.com/kilianp07/tablebot/core/model"
	corestore "github.com/kilianp07/tablebot/core/store"
	"github.com/kilianp07/tablebot/core/store/storetest"
	"github.com/kilianp07/tablebot/infra/store"
	"github.com/kilianp07/tablebot/test/util"
)

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) corestore.Store {
		s, err := store.OpenSQLite(context.Background(), store.Config{DSN: ":memory:"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "tablebot.db")

	s, err := store.OpenSQLite(ctx, store.Config{DSN: dsn})
	require.NoError(t, err)
	hc := 3
	require.NoError(t, s.Update(ctx, func(tx corestore.Tx) error {
		return tx.CreateTable(ctx, &model.Table{ID: "t1", Number: 7, HeadCount: &hc, Occupied: true})
	}))
	require.NoError(t, s.Close())

	s, err = store.OpenSQLite(ctx, store.Config{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(tx corestore.Tx) error {
		tb, err := tx.GetTable(ctx, "t1")
		if err != nil {
			return err
		}
		assert.Equal(t, 7, tb.Number)
		assert.True(t, tb.Occupied)
		require.NotNil(t, tb.HeadCount)
		assert.Equal(t, 3, *tb.HeadCount)
		return nil
	}))
}

// The partial index on orders hardcodes the archived status value.
func TestArchivedStatusMatchesSchema(t *testing.T) {
	assert.Equal(t, 5, int(model.OrderArchived))
}

func TestPostgres(t *testing.T) {
	util.RequireDocker(t)
	ctx := context.Background()
	dsn, cleanup, err := util.StartPostgres(ctx)
	if err != nil {
		t.Skipf("unable to start postgres container: %v", err)
	}
	t.Cleanup(cleanup)

	storetest.Run(t, func(t *testing.T) corestore.Store {
		s, err := store.OpenPostgres(ctx, store.Config{DSN: dsn})
		require.NoError(t, err)
		require.NoError(t, s.Reset(ctx))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFactory_SQLite(t *testing.T) {
	s, err := corestore.NewStore(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"dsn": ":memory:"}})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*store.SQLStore)
	assert.True(t, ok)

	_, err = corestore.NewStore(factory.ModuleConfig{Type: "sqlite"})
	assert.Error(t, err, "dsn is required")
}
