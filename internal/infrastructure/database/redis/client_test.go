package redis

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

func newMiniClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Addr: mr.Addr(), KeyPrefix: "test:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient_Success(t *testing.T) {
	client, _ := newMiniClient(t)
	assert.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "test:abc", client.Key("abc"))
}

func TestNewClient_ConnectionFailed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client, err := NewClient(Config{Addr: addr, DialTimeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.True(t, errors.IsCode(err, errors.CodeCacheError))
}

func TestClient_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "discovery:x", client.Key("x"))
}

func TestClient_Close(t *testing.T) {
	client, _ := newMiniClient(t)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.True(t, stderrors.Is(client.Ping(context.Background()), ErrClientClosed))
	_, err := client.Redis()
	assert.Error(t, err)
}
