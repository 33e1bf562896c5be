package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/stemflow/types"
)

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(&Config{InMemory: true})
	require.Nil(t, err)
	defer s.Close()

	ctx := context.Background()

	value, err := s.Get(ctx, "/session/", "missing")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Set(ctx, "/session/", "s2", []byte(`{"sessionId":"s2"}`)))
	assert.Nil(t, s.Set(ctx, "/session/", "s1", []byte(`{"sessionId":"s1"}`)))
	assert.Nil(t, s.Set(ctx, "/sessionx/", "s3", []byte(`{}`)))

	value, err = s.Get(ctx, "/session/", "s1")
	assert.Nil(t, err)
	assert.Equal(t, []byte(`{"sessionId":"s1"}`), value)

	keys := []string{}
	assert.Nil(t, s.List(ctx, "/session/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"s1", "s2"}, keys)

	assert.Nil(t, s.Remove(ctx, "/session/", "s1"))
	value, err = s.Get(ctx, "/session/", "s1")
	assert.Nil(t, err)
	assert.Nil(t, value)
}

func TestBadgerStorePersistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerStore(&Config{Path: dir, SyncWrites: true})
	require.Nil(t, err)
	assert.Nil(t, s.Set(ctx, "/session/", "keep", []byte("1")))
	assert.Nil(t, s.Close())

	s, err = NewBadgerStore(FromOptions(&types.BadgerConfig{Path: dir}))
	require.Nil(t, err)
	defer s.Close()
	value, err := s.Get(ctx, "/session/", "keep")
	assert.Nil(t, err)
	assert.Equal(t, []byte("1"), value)

	_, err = NewBadgerStore(&Config{})
	assert.NotNil(t, err)
}
