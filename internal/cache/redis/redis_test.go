package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "wagerbot:lock:ledger:acct", joinKey("wagerbot", "lock", "ledger:acct"))
	assert.Equal(t, "lock:ledger:acct", joinKey("", "lock", "ledger:acct"))
	assert.Equal(t, "ns", joinKey("ns"))
}

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{URL: "redis://:secret@cache:6380/3", PoolSize: 20})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Nil(t, opts.TLSConfig)

	opts, err = options(ClientConfig{Addr: "localhost:6379", TLSEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.NotNil(t, opts.TLSConfig)

	_, err = options(ClientConfig{URL: "http://nope"})
	assert.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("wagers.*"))
	assert.False(t, hasPattern("wagers.placed"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes(map[string]any{"payload": "abc"})
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	_, ok = payloadBytes(map[string]any{"other": "x"})
	assert.False(t, ok)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}
