package redisstore

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeIsRedis(t *testing.T) {
	s := &Store{key: "meilisync:progress"}
	assert.Equal(t, "redis", s.Type())
}

// TestSetThenGetRoundTrips talks to a real Redis instance and is skipped
// unless one is reachable at localhost:6379.
func TestSetThenGetRoundTrips(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	s := &Store{client: client, key: "meilisync:progress:test"}
	t.Cleanup(func() { client.Del(ctx, s.key) })

	require.NoError(t, s.Set(ctx, map[string]string{"resume_token": "abc"}))
	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", got["resume_token"])
}
