// Package pg PostgreSQL 存储：报文归档（packet_log）与接口强制值（interface_overrides）。
package pg

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// PacketArchive 把接口收发的帧逐条写入 packet_log
type PacketArchive struct {
	Pool *pgxpool.Pool
}

// NewPacketArchive 创建报文归档
func NewPacketArchive(pool *pgxpool.Pool) *PacketArchive {
	return &PacketArchive{Pool: pool}
}

func direction(command bool) string {
	if command {
		return "CMD"
	}
	return "TLM"
}

// Publish 追加一帧，返回行 ID
func (a *PacketArchive) Publish(ctx context.Context, iface string, command bool, p *packet.Packet) (string, error) {
	received := p.ReceivedTime
	if received.IsZero() {
		received = time.Now()
	}
	var id int64
	err := a.Pool.QueryRow(ctx, `
		INSERT INTO packet_log (interface, direction, target, packet, received_time, stored, buffer)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		iface, direction(command), p.Target, p.Name, received, p.Stored, p.Buffer(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert packet_log %s %s: %w", p.Target, p.Name, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// ArchivedPacket packet_log 中的一行
type ArchivedPacket struct {
	ID           int64
	Interface    string
	Direction    string
	Target       string
	Packet       string
	ReceivedTime time.Time
	Stored       bool
	Buffer       []byte
}

// Recent 按接收时间倒序返回某报文最近 limit 条
func (a *PacketArchive) Recent(ctx context.Context, target, name string, limit int) ([]ArchivedPacket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.Pool.Query(ctx, `
		SELECT id, interface, direction, target, packet, received_time, stored, buffer
		FROM packet_log
		WHERE target = $1 AND packet = $2
		ORDER BY received_time DESC, id DESC
		LIMIT $3`, target, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedPacket
	for rows.Next() {
		var r ArchivedPacket
		if err := rows.Scan(&r.ID, &r.Interface, &r.Direction, &r.Target, &r.Packet,
			&r.ReceivedTime, &r.Stored, &r.Buffer); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
