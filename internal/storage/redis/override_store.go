package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/groundlink/internal/protocol"
)

// OverrideStore 持久化接口的强制值，重启后恢复。
// 每个接口一个 Hash：<IFACE>__override，field 为 TARGET__PACKET__ITEM。
type OverrideStore struct {
	client *Client
}

// NewOverrideStore 创建强制值存储
func NewOverrideStore(client *Client) *OverrideStore {
	return &OverrideStore{client: client}
}

func overrideKey(iface string) string { return strings.ToUpper(iface) + "__override" }

func overrideField(target, pkt, item string) string {
	return target + "__" + pkt + "__" + item
}

// Save 写入或替换一项
func (s *OverrideStore) Save(ctx context.Context, iface string, o protocol.Override) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal override: %w", err)
	}
	return s.client.HSet(ctx, overrideKey(iface), overrideField(o.Target, o.Packet, o.Item), data).Err()
}

// Delete 删除一项；item 为空时删除该接口全部强制值
func (s *OverrideStore) Delete(ctx context.Context, iface, target, pkt, item string) error {
	if item == "" {
		return s.client.Del(ctx, overrideKey(iface)).Err()
	}
	return s.client.HDel(ctx, overrideKey(iface), overrideField(target, pkt, item)).Err()
}

// Load 读取接口全部强制值；无法解析的项跳过并返回首个错误
func (s *OverrideStore) Load(ctx context.Context, iface string) ([]protocol.Override, error) {
	m, err := s.client.HGetAll(ctx, overrideKey(iface)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Override, 0, len(m))
	var firstErr error
	for field, raw := range m {
		var o protocol.Override
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("override %s: %w", field, err)
			}
			continue
		}
		out = append(out, o)
	}
	return out, firstErr
}

// Counts 各接口已持久化的强制值数
func (s *OverrideStore) Counts(ctx context.Context, ifaces []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ifaces))
	if len(ifaces) == 0 {
		return out, nil
	}
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(ifaces))
	for _, name := range ifaces {
		cmds[strings.ToUpper(name)] = pipe.HLen(ctx, overrideKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for name, cmd := range cmds {
		out[name] = cmd.Val()
	}
	return out, nil
}
