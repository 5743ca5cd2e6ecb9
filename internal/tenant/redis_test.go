package tenant

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

// Needs a live server: REDIS_ADDR=localhost:6379 go test ./internal/tenant
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("adarelay:test:%d:", time.Now().UnixNano())

	s, err := NewRedisStore(ctx, &redis.Options{Addr: addr}, prefix)
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, err := s.client.Keys(ctx, prefix+"*").Result()
		if err == nil && len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		_ = s.Close()
	})

	exerciseStore(t, s)
}
