package health

import (
	"context"
	"fmt"
	"time"

	redisstorage "github.com/taoyao-code/groundlink/internal/storage/redis"
)

// RedisChecker 报文流与强制值存储检查，附带各接口已持久化的强制值数
type RedisChecker struct {
	client    *redisstorage.Client
	overrides *redisstorage.OverrideStore
	source    InterfaceSource
}

// NewRedisChecker source 为 nil 时不统计强制值
func NewRedisChecker(client *redisstorage.Client, source InterfaceSource) *RedisChecker {
	return &RedisChecker{
		client:    client,
		overrides: redisstorage.NewOverrideStore(client),
		source:    source,
	}
}

// Name 返回检查器名称
func (c *RedisChecker) Name() string {
	return "redis"
}

// Check 连接池将满或强制值不可读时降级
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.client.HealthCheck(ctx); err != nil {
		return newResult(start, StatusUnhealthy, fmt.Sprintf("ping failed: %v", err), nil)
	}

	stats := c.client.Stats()
	utilization := 0.0
	if stats.TotalConns > 0 {
		utilization = float64(stats.TotalConns-stats.IdleConns) / float64(stats.TotalConns)
	}
	details := map[string]interface{}{
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"timeouts":    stats.Timeouts,
		"utilization": fmt.Sprintf("%.1f%%", utilization*100),
	}

	status, message := StatusHealthy, "ok"
	if utilization > 0.9 {
		status, message = StatusDegraded, "connection pool near limit"
	}

	if c.source != nil {
		statuses := c.source.Statuses()
		names := make([]string, 0, len(statuses))
		for _, st := range statuses {
			names = append(names, st.Name)
		}
		counts, err := c.overrides.Counts(ctx, names)
		if err != nil {
			status = Worse(status, StatusDegraded)
			message = fmt.Sprintf("override store unreadable: %v", err)
		} else {
			details["overrides"] = counts
		}
	}

	return newResult(start, status, message, details)
}
