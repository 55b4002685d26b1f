package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/protocol"
)

// OverrideStore 接口强制值持久化，主键 (interface, target, packet, item)
type OverrideStore struct {
	Pool *pgxpool.Pool
}

// NewOverrideStore 创建强制值存储
func NewOverrideStore(pool *pgxpool.Pool) *OverrideStore {
	return &OverrideStore{Pool: pool}
}

// Save 写入或替换一项
func (s *OverrideStore) Save(ctx context.Context, iface string, o protocol.Override) error {
	value, err := json.Marshal(o.Value)
	if err != nil {
		return fmt.Errorf("marshal override value: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO interface_overrides (interface, target, packet, item, value, value_type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (interface, target, packet, item)
		DO UPDATE SET value = EXCLUDED.value, value_type = EXCLUDED.value_type, updated_at = NOW()`,
		strings.ToUpper(iface), o.Target, o.Packet, o.Item, value, o.Type.String())
	return err
}

// Delete 删除一项；item 为空时删除该接口全部强制值
func (s *OverrideStore) Delete(ctx context.Context, iface, target, pkt, item string) error {
	iface = strings.ToUpper(iface)
	if item == "" {
		_, err := s.Pool.Exec(ctx, `DELETE FROM interface_overrides WHERE interface = $1`, iface)
		return err
	}
	_, err := s.Pool.Exec(ctx, `
		DELETE FROM interface_overrides
		WHERE interface = $1 AND target = $2 AND packet = $3 AND item = $4`,
		iface, target, pkt, item)
	return err
}

// Load 读取接口全部强制值；无法解析的项跳过并返回首个错误
func (s *OverrideStore) Load(ctx context.Context, iface string) ([]protocol.Override, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT target, packet, item, value, value_type
		FROM interface_overrides
		WHERE interface = $1
		ORDER BY target, packet, item`, strings.ToUpper(iface))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out      []protocol.Override
		firstErr error
	)
	for rows.Next() {
		var (
			o         protocol.Override
			raw       []byte
			valueType string
		)
		if err := rows.Scan(&o.Target, &o.Packet, &o.Item, &raw, &valueType); err != nil {
			return out, err
		}
		if err := json.Unmarshal(raw, &o.Value); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("override %s %s %s: %w", o.Target, o.Packet, o.Item, err)
			}
			continue
		}
		if o.Type, err = packet.ParseValueType(valueType); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	return out, firstErr
}
