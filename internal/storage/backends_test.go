package storage

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := b.Get(ctx, KeyPosts)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, KeyPosts, []byte(`[{"id":"1"}]`)))
	require.NoError(t, b.Set(ctx, KeyPosts, []byte(`[{"id":"2"}]`)))
	require.NoError(t, b.Set(ctx, KeyUsers, []byte(`[]`)))

	got, ok, err := b.Get(ctx, KeyPosts)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `[{"id":"2"}]`, string(got))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{KeyPosts, KeyUsers}, keys)

	require.NoError(t, b.Delete(ctx, KeyPosts))
	_, ok, err = b.Get(ctx, KeyPosts)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStore_SQLite(t *testing.T) {
	store, err := OpenGormStore("sqlite", filepath.Join(t.TempDir(), "forum.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	assert.Equal(t, "sqlite", store.Name())
	exerciseBackend(t, store)
}

func TestOpenGormStore_UnknownDialect(t *testing.T) {
	_, err := OpenGormStore("oracle", "")
	assert.Error(t, err)
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_PostgresQueries(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	t.Run("Get hit", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"entry_key", "payload"}).AddRow(KeyPosts, `[]`)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "kv_entries" WHERE entry_key = $1`)).
			WithArgs(KeyPosts, 1).
			WillReturnRows(rows)

		got, ok, err := store.Get(ctx, KeyPosts)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `[]`, string(got))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Get miss", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "kv_entries" WHERE entry_key = $1`)).
			WithArgs(KeyUsers, 1).
			WillReturnRows(sqlmock.NewRows([]string{"entry_key", "payload"}))

		_, ok, err := store.Get(ctx, KeyUsers)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Set upserts", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "kv_entries"`) + `.*ON CONFLICT \("entry_key"\) DO UPDATE`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Set(ctx, KeyPosts, []byte(`[]`)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Set failure rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "kv_entries"`)).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err := NewDurable(store).SaveRaw(ctx, KeyPosts, []byte(`[]`))
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	store := NewRedisStore(rdb, "forum:")
	exerciseBackend(t, store)

	require.NoError(t, store.Set(context.Background(), KeyDarkMode, []byte("true")))
	assert.True(t, mr.Exists("forum:"+KeyDarkMode))
}

func TestDial(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb, err := Dial("redis://" + mr.Addr())
	require.NoError(t, err)
	_ = rdb.Close()

	rdb, err = Dial(mr.Addr())
	require.NoError(t, err)
	_ = rdb.Close()

	_, err = Dial("redis://%zz")
	assert.Error(t, err)
}
