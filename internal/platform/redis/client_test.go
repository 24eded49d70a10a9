package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate/internal/platform/config"
)

func TestNew_EmptyURLDisablesRedis(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNew_ConnectsAndReportsHealth(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), config.RedisConfig{
		URL:         "redis://" + mr.Addr(),
		PoolSize:    2,
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	})
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Health(context.Background()))

	mr.Close()
	err = c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
	assert.Contains(t, err.Error(), "conns idle")
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}

func TestNew_UnreachableServerFailsWithinDialTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err := New(context.Background(), config.RedisConfig{URL: "redis://" + addr, DialTimeout: 200 * time.Millisecond})

	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
	assert.Less(t, time.Since(start), 5*time.Second)
}
