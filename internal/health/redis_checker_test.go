package health

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/groundlink/internal/gateway"
	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/protocol"
	redisstorage "github.com/taoyao-code/groundlink/internal/storage/redis"
)

// 需要本地 Redis（DB 15）
func setupRedis(t *testing.T) *redisstorage.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skip("Redis not available, skipping test")
	}
	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		_ = rdb.Close()
	})
	return &redisstorage.Client{Client: rdb}
}

func TestRedisCheckerOverrideCounts(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, redisstorage.NewOverrideStore(client).Save(ctx, "INST_INT", protocol.Override{
		Target: "INST", Packet: "HEALTH", Item: "TEMP", Value: 1, Type: packet.Raw,
	}))

	res := NewRedisChecker(client, staticSource{
		ifaceStatus("INST_INT", true, gateway.StateClosed),
		ifaceStatus("PSU_INT", true, gateway.StateClosed),
	}).Check(ctx)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, map[string]int64{"INST_INT": 1, "PSU_INT": 0}, res.Details["overrides"])

	res = NewRedisChecker(client, nil).Check(ctx)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.NotContains(t, res.Details, "overrides")
}
