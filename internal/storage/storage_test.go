package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStorage_PutGet(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	in := record{Name: "alpha", Count: 3}
	require.NoError(t, s.Put(ctx, []string{"session", "s1"}, in))

	var out record
	require.NoError(t, s.Get(ctx, []string{"session", "s1"}, &out))
	assert.Equal(t, in, out)
}

func TestStorage_GetNotFound(t *testing.T) {
	s := New(t.TempDir())

	var out record
	err := s.Get(context.Background(), []string{"session", "missing"}, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_PutOverwrites(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"k"}, record{Name: "old"}))
	require.NoError(t, s.Put(ctx, []string{"k"}, record{Name: "new"}))

	var out record
	require.NoError(t, s.Get(ctx, []string{"k"}, &out))
	assert.Equal(t, "new", out.Name)
}

func TestStorage_Delete(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"k"}, record{}))
	require.NoError(t, s.Delete(ctx, []string{"k"}))

	assert.False(t, s.Exists(ctx, []string{"k"}))

	// Deleting a missing key is a no-op.
	assert.NoError(t, s.Delete(ctx, []string{"k"}))
}

func TestStorage_List(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"message", "m1", "b"}, record{}))
	require.NoError(t, s.Put(ctx, []string{"message", "m1", "a"}, record{}))
	require.NoError(t, s.Put(ctx, []string{"message", "m2", "c"}, record{}))

	keys, err := s.List(ctx, []string{"message", "m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	// Listing a missing directory yields no keys, not an error.
	keys, err = s.List(ctx, []string{"message", "m3"})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStorage_Scan(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"part", "02"}, record{Name: "second"}))
	require.NoError(t, s.Put(ctx, []string{"part", "01"}, record{Name: "first"}))

	var names []string
	err := s.Scan(ctx, []string{"part"}, func(key string, data json.RawMessage) error {
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		names = append(names, r.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names, "scan visits keys in lexical order")
}
