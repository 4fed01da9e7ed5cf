package storage

import (
	"context"
	"errors"
	"testing"

	"infinityforum/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type failingBackend struct {
	*MemoryStore
	err error
}

func (f *failingBackend) Set(context.Context, string, []byte) error { return f.err }
func (f *failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.err
}

func TestDurable_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := NewDurable(NewMemoryStore())

	in := []item{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}
	require.NoError(t, d.Save(ctx, KeyPosts, in))

	out := Load[item](ctx, d, KeyPosts)
	assert.Equal(t, in, out)
}

func TestLoad_EmptyFallbacks(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		raw  *string
	}{
		{name: "absent"},
		{name: "null", raw: ptr("null")},
		{name: "blank", raw: ptr("   ")},
		{name: "corrupt", raw: ptr("{not json")},
		{name: "wrong shape", raw: ptr(`{"id":"1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemoryStore()
			if tt.raw != nil {
				require.NoError(t, mem.Set(ctx, KeyUsers, []byte(*tt.raw)))
			}
			out := Load[item](ctx, NewDurable(mem), KeyUsers)
			assert.NotNil(t, out)
			assert.Empty(t, out)
		})
	}
}

func TestLoad_BackendErrorIsEmpty(t *testing.T) {
	d := NewDurable(&failingBackend{MemoryStore: NewMemoryStore(), err: errors.New("disk gone")})
	out := Load[item](context.Background(), d, KeyPosts)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestDurable_SaveFailureReturnsStorageError(t *testing.T) {
	d := NewDurable(&failingBackend{MemoryStore: NewMemoryStore(), err: errors.New("disk gone")})
	err := d.Save(context.Background(), KeyPosts, []item{{ID: "1"}})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeStorage))
}

func TestDurable_SaveUnencodable(t *testing.T) {
	d := NewDurable(NewMemoryStore())
	err := d.Save(context.Background(), KeyPosts, make(chan int))
	assert.True(t, models.HasCode(err, models.CodeStorage))
}

func TestDurable_Strings(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	d := NewDurable(mem)

	_, ok := d.LoadString(ctx, KeyCurrentUser)
	assert.False(t, ok)

	require.NoError(t, d.SaveString(ctx, KeyCurrentUser, "alice"))
	v, ok := d.LoadString(ctx, KeyCurrentUser)
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	// bare values written by other clients
	require.NoError(t, mem.Set(ctx, KeyLanguage, []byte("en")))
	v, _ = d.LoadString(ctx, KeyLanguage)
	assert.Equal(t, "en", v)

	require.NoError(t, d.Remove(ctx, KeyCurrentUser))
	require.NoError(t, d.Remove(ctx, KeyCurrentUser))
	_, ok = d.LoadString(ctx, KeyCurrentUser)
	assert.False(t, ok)
}

func TestQuota_RejectsWithoutOverwriting(t *testing.T) {
	ctx := context.Background()
	limited, err := WithQuota(ctx, NewMemoryStore(), 64)
	require.NoError(t, err)
	d := NewDurable(limited)

	small := []item{{ID: "1", Name: "x"}}
	require.NoError(t, d.Save(ctx, KeyPosts, small))

	big := []item{{ID: "1", Name: "this value is far too long to fit in the remaining quota"}}
	err = d.Save(ctx, KeyPosts, big)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeStorage))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	assert.Equal(t, small, Load[item](ctx, d, KeyPosts))
}

func TestQuota_TracksExistingAndDeletes(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Set(ctx, "k", []byte("0123456789")))

	limited, err := WithQuota(ctx, mem, 20)
	require.NoError(t, err)
	q := limited.(*quotaBackend)
	assert.Equal(t, int64(11), q.Used())

	assert.ErrorIs(t, limited.Set(ctx, "j", []byte("0123456789")), ErrQuotaExceeded)
	require.NoError(t, limited.Delete(ctx, "k"))
	assert.Equal(t, int64(0), q.Used())
	require.NoError(t, limited.Set(ctx, "j", []byte("0123456789")))
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, mem.Set(ctx, "k", buf))
	buf[0] = 'z'

	got, ok, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))

	keys, err := mem.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func ptr(s string) *string { return &s }
