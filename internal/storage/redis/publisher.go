package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/groundlink/internal/packet"
)

const (
	tlmStreamPrefix = "TLM"
	cmdStreamPrefix = "CMD"
	defaultMaxLen   = 10000
)

// StreamKey 报文流 key：TLM__<TARGET>__<PACKET>，命令方向为 CMD 前缀
func StreamKey(command bool, target, name string) string {
	prefix := tlmStreamPrefix
	if command {
		prefix = cmdStreamPrefix
	}
	return prefix + "__" + target + "__" + name
}

// PacketPublisher 把接口收发的帧写入 Redis Stream，供下游解码与归档
type PacketPublisher struct {
	client *Client
	maxLen int64
}

// NewPacketPublisher 创建发布器，maxLen<=0 使用默认长度上限
func NewPacketPublisher(client *Client, maxLen int64) *PacketPublisher {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &PacketPublisher{client: client, maxLen: maxLen}
}

// Publish 以近似裁剪方式追加一帧，返回消息 ID
func (p *PacketPublisher) Publish(ctx context.Context, iface string, command bool, pkt *packet.Packet) (string, error) {
	key := StreamKey(command, pkt.Target, pkt.Name)
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"interface":        iface,
			"time":             pkt.ReceivedTime.UTC().Format("2006-01-02T15:04:05.000000000Z"),
			"received_time_ns": strconv.FormatInt(pkt.ReceivedTime.UnixNano(), 10),
			"stored":           strconv.FormatBool(pkt.Stored),
			"buffer":           pkt.Buffer(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", key, err)
	}
	return id, nil
}
