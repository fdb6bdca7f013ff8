package store_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	room string
}

func Test_Registry(t *testing.T) {
	t.Parallel()

	reg := store.NewRegistry[string, *session]()
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Keys())

	room := gofakeit.UUID()
	_, ok := reg.Get(room)
	assert.False(t, ok)

	s1, created, err := reg.GetOrCreate(room, func() (*session, error) {
		return &session{room: room}, nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, room, s1.room)

	s2, created, err := reg.GetOrCreate(room, func() (*session, error) {
		t.Fatal("factory must not be called for existing key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s1, s2)

	got, ok := reg.Get(room)
	assert.True(t, ok)
	assert.Same(t, s1, got)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{room}, reg.Keys())

	// failed factory stores nothing
	_, _, err = reg.GetOrCreate("broken", func() (*session, error) {
		return nil, errors.New("no model")
	})
	assert.EqualError(t, err, "no model")
	_, ok = reg.Get("broken")
	assert.False(t, ok)

	assert.True(t, reg.Delete(room))
	assert.False(t, reg.Delete(room))
	assert.Equal(t, 0, reg.Len())
}

func Test_Registry_Concurrent(t *testing.T) {
	t.Parallel()

	reg := store.NewRegistry[string, *session]()
	rooms := []string{gofakeit.UUID(), gofakeit.UUID(), gofakeit.UUID()}

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			_, _, err := reg.GetOrCreate(room, func() (*session, error) {
				calls.Add(1)
				return &session{room: room}, nil
			})
			assert.NoError(t, err)
		}(rooms[i%len(rooms)])
	}
	wg.Wait()

	assert.EqualValues(t, len(rooms), calls.Load())
	assert.Equal(t, len(rooms), reg.Len())
	assert.ElementsMatch(t, rooms, reg.Keys())
}
