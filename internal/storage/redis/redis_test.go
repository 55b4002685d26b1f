package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/protocol"
)

// 使用测试用Redis客户端（需要真实Redis实例）
func setupTestRedis(t *testing.T) *Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 使用测试专用数据库
	})

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
	return &Client{Client: rdb}
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "TLM__INST__HEALTH", StreamKey(false, "INST", "HEALTH"))
	assert.Equal(t, "CMD__INST__COLLECT", StreamKey(true, "INST", "COLLECT"))
}

func TestPacketPublisher(t *testing.T) {
	c := setupTestRedis(t)
	ctx := context.Background()
	pub := NewPacketPublisher(c, 100)

	p := packet.New([]byte{0x1A, 0xCF, 0x00, 0x01})
	p.Target, p.Name = "INST", "HEALTH"
	p.ReceivedTime = time.Unix(1700000000, 42)

	id, err := pub.Publish(ctx, "INST_INT", false, p)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := c.XRange(ctx, "TLM__INST__HEALTH", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "INST_INT", msgs[0].Values["interface"])
	assert.Equal(t, "1700000000000000042", msgs[0].Values["received_time_ns"])
	assert.Equal(t, "false", msgs[0].Values["stored"])
	assert.Equal(t, string([]byte{0x1A, 0xCF, 0x00, 0x01}), msgs[0].Values["buffer"])
}

func TestOverrideStore(t *testing.T) {
	c := setupTestRedis(t)
	ctx := context.Background()
	store := NewOverrideStore(c)

	require.NoError(t, store.Save(ctx, "inst_int", protocol.Override{
		Target: "INST", Packet: "HEALTH", Item: "TEMP", Value: 12.5, Type: packet.Converted,
	}))
	require.NoError(t, store.Save(ctx, "INST_INT", protocol.Override{
		Target: "INST", Packet: "HEALTH", Item: "MODE", Value: 3, Type: packet.Raw,
	}))

	got, err := store.Load(ctx, "INST_INT")
	require.NoError(t, err)
	require.Len(t, got, 2)
	byItem := map[string]protocol.Override{}
	for _, o := range got {
		byItem[o.Item] = o
	}
	assert.Equal(t, packet.Converted, byItem["TEMP"].Type)
	assert.Equal(t, 12.5, byItem["TEMP"].Value)
	assert.Equal(t, packet.Raw, byItem["MODE"].Type)
	assert.Equal(t, float64(3), byItem["MODE"].Value)

	counts, err := store.Counts(ctx, []string{"inst_int", "PSU_INT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"INST_INT": 2, "PSU_INT": 0}, counts)

	require.NoError(t, store.Delete(ctx, "INST_INT", "INST", "HEALTH", "TEMP"))
	got, err = store.Load(ctx, "INST_INT")
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, store.Delete(ctx, "INST_INT", "", "", ""))
	got, err = store.Load(ctx, "INST_INT")
	require.NoError(t, err)
	assert.Empty(t, got)
}
