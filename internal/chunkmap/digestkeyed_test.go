package chunkmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestKeyedClaimsAbsentChunk(t *testing.T) {
	m := NewDigestKeyed()
	key := Key{Digest: "deadbeef"}

	ready, err := m.IsReady(context.Background(), key, false)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, InFlight, m.IsReadyNowait(key))

	ready, err = m.IsReady(context.Background(), key, false)
	require.NoError(t, err)
	assert.False(t, ready, "a second caller must not re-claim an in-flight chunk")
}

func TestDigestKeyedSetReadyWakesWaiters(t *testing.T) {
	m := NewDigestKeyed()
	key := Key{Digest: "deadbeef"}

	_, err := m.IsReady(context.Background(), key, false)
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		ready, err := m.IsReady(context.Background(), key, true)
		require.NoError(t, err)
		done <- ready
	}()

	m.SetReady(key)
	assert.True(t, <-done)
}

func TestDigestKeyedResetDemotesToAbsent(t *testing.T) {
	m := NewDigestKeyed()
	key := Key{Digest: "deadbeef"}

	_, _ = m.IsReady(context.Background(), key, false)
	m.Reset(key)
	assert.Equal(t, Absent, m.IsReadyNowait(key))
}

func TestDigestKeyedAllReady(t *testing.T) {
	m := NewDigestKeyed()
	a, b := Key{Digest: "a"}, Key{Digest: "b"}
	_, _ = m.IsReady(context.Background(), a, false)
	_, _ = m.IsReady(context.Background(), b, false)
	assert.False(t, m.AllReady())

	m.SetReady(a)
	assert.False(t, m.AllReady())
	m.SetReady(b)
	assert.True(t, m.AllReady())
}
