package health

import (
	"context"
	"time"

	"github.com/taoyao-code/groundlink/internal/gateway"
)

// InterfaceSource 提供接口状态快照
type InterfaceSource interface {
	Statuses() []gateway.InterfaceStatus
}

// InterfaceChecker 接口链路健康检查器
type InterfaceChecker struct {
	source InterfaceSource
}

// NewInterfaceChecker 创建接口健康检查器
func NewInterfaceChecker(source InterfaceSource) *InterfaceChecker {
	return &InterfaceChecker{source: source}
}

// Name 返回检查器名称
func (c *InterfaceChecker) Name() string {
	return "interfaces"
}

// Check 熔断的接口使状态降级；全部接口熔断时不健康
func (c *InterfaceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	statuses := c.source.Statuses()

	connected := 0
	tripped := 0
	details := make(map[string]interface{}, len(statuses))
	for _, st := range statuses {
		if st.Connected {
			connected++
		}
		if st.Breaker.State == gateway.StateOpen.String() {
			tripped++
		}
		d := map[string]interface{}{
			"connected": st.Connected,
			"breaker":   st.Breaker.State,
		}
		if st.Clients != nil {
			d["clients"] = st.Clients.Active
			d["rejected_clients"] = st.Clients.Rejected()
		}
		details[st.Name] = d
	}

	status := StatusHealthy
	message := "ok"
	switch {
	case len(statuses) == 0:
		message = "no interfaces configured"
	case tripped == len(statuses):
		status = StatusUnhealthy
		message = "all interfaces in reconnect backoff"
	case tripped > 0:
		status = StatusDegraded
		message = "some interfaces in reconnect backoff"
	}
	details["connected"] = connected
	details["total"] = len(statuses)

	return newResult(start, status, message, details)
}
