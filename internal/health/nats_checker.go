package health

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSChecker NATS 连接检查器（遥测发布与命令订阅）
type NATSChecker struct {
	conn *nats.Conn
}

// NewNATSChecker 创建NATS检查器
func NewNATSChecker(conn *nats.Conn) *NATSChecker {
	return &NATSChecker{conn: conn}
}

// Name 返回检查器名称
func (c *NATSChecker) Name() string {
	return "nats"
}

// Check 按连接状态判断；重连中视为降级
func (c *NATSChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	st := c.conn.Status()

	status, message := StatusHealthy, "ok"
	switch st {
	case nats.CONNECTED:
	case nats.RECONNECTING, nats.CONNECTING:
		status, message = StatusDegraded, "reconnecting"
	default:
		status, message = StatusUnhealthy, "connection "+st.String()
	}

	stats := c.conn.Stats()
	return newResult(start, status, message, map[string]interface{}{
		"url":        c.conn.ConnectedUrl(),
		"out_msgs":   stats.OutMsgs,
		"in_msgs":    stats.InMsgs,
		"reconnects": stats.Reconnects,
	})
}
