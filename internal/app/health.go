package app

import (
	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/groundlink/internal/health"
)

// NewHealthAggregator 创建健康检查聚合器，初始包含接口链路检查
func NewHealthAggregator(source health.InterfaceSource) *health.Aggregator {
	return health.NewAggregator(
		health.NewInterfaceChecker(source),
	)
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// NewReady 创建就绪状态
func NewReady() *health.Readiness { return health.New() }
