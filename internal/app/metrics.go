package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/groundlink/internal/metrics"
)

// NewMetrics 初始化注册表与帧处理指标
func NewMetrics() (*prometheus.Registry, *metrics.FramingMetrics) {
	reg := metrics.NewRegistry()
	fm := metrics.NewFramingMetrics(reg)
	return reg, fm
}
