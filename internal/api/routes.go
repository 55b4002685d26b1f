package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/api/middleware"
)

// RegisterInterfaceRoutes 注册接口控制路由
func RegisterInterfaceRoutes(r *gin.Engine, ctl InterfaceController, authCfg middleware.AuthConfig, logger *zap.Logger) {
	if r == nil || ctl == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := NewInterfaceHandler(ctl, logger)

	api := r.Group("/api")
	api.Use(middleware.RequestTracing(logger))
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	ifaces := api.Group("/interfaces")
	{
		ifaces.GET("", handler.ListInterfaces)
		ifaces.GET("/:name", handler.GetInterface)
		ifaces.POST("/:name/connect", handler.Connect)
		ifaces.POST("/:name/disconnect", handler.Disconnect)
		ifaces.GET("/:name/overrides", handler.ListOverrides)
		ifaces.POST("/:name/overrides", handler.SetOverride)
		ifaces.DELETE("/:name/overrides", handler.ClearOverride)
		ifaces.POST("/:name/raw", handler.WriteRaw)
	}

	logger.Info("interface routes registered", zap.Int("endpoints", 8))
}
