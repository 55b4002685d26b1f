package health

import (
	"context"
	"time"
)

// Status 组件健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"  // 接口或存储部分受损，帧仍在流转
	StatusUnhealthy Status = "unhealthy" // 帧无法收发或无法落地
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// Worse 取两者中更差的状态
func Worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// CheckResult 单个组件的检查结果
type CheckResult struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Latency time.Duration          `json:"latency"`
}

// Checker 组件检查器：接口链路、报文流、归档库、消息总线
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// newResult 以 start 起算检查耗时
func newResult(start time.Time, status Status, message string, details map[string]interface{}) CheckResult {
	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
