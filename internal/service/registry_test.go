package service

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewConnectionRegistry()
	a, b := &RelaySession{AppID: 1}, &RelaySession{AppID: 1}
	c := &RelaySession{AppID: 2}

	r.Add("1", a)
	r.Add("1", b)
	r.Add("2", c)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 3, r.SessionCount())
	assert.Equal(t, []*RelaySession{a, b}, r.Sessions("1"))

	assert.True(t, r.Remove("1", a))
	assert.Equal(t, []*RelaySession{b}, r.Sessions("1"))
	assert.Equal(t, 2, r.Count())

	// last session for an id removes the key
	assert.True(t, r.Remove("1", b))
	assert.Equal(t, 1, r.Count())
	assert.Empty(t, r.Sessions("1"))
}

func TestRegistry_RemoveMissingIsNoop(t *testing.T) {
	r := NewConnectionRegistry()
	a, stranger := &RelaySession{AppID: 1}, &RelaySession{AppID: 1}
	r.Add("1", a)

	assert.False(t, r.Remove("1", stranger))
	assert.False(t, r.Remove("9", a))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, r.SessionCount())

	assert.True(t, r.Remove("1", a))
	assert.False(t, r.Remove("1", a))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_SnapshotUnaffectedByRemove(t *testing.T) {
	r := NewConnectionRegistry()
	a, b := &RelaySession{}, &RelaySession{}
	r.Add("1", a)
	r.Add("1", b)

	snap := r.Sessions("1")
	r.Remove("1", a)
	assert.Equal(t, []*RelaySession{a, b}, snap)
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := NewConnectionRegistry()
	const ids, perID = 8, 50

	sessions := make([][]*RelaySession, ids)
	for i := range sessions {
		for j := 0; j < perID; j++ {
			sessions[i] = append(sessions[i], &RelaySession{AppID: int64(i)})
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < ids; i++ {
		for _, s := range sessions[i] {
			wg.Add(1)
			go func(id string, s *RelaySession) {
				defer wg.Done()
				r.Add(id, s)
			}(strconv.Itoa(i), s)
		}
	}
	wg.Wait()
	assert.Equal(t, ids, r.Count())
	assert.Equal(t, ids*perID, r.SessionCount())

	for i := 0; i < ids; i++ {
		for _, s := range sessions[i] {
			wg.Add(1)
			go func(id string, s *RelaySession) {
				defer wg.Done()
				r.Remove(id, s)
			}(strconv.Itoa(i), s)
		}
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.SessionCount())
}
