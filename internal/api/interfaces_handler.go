// Package api 接口控制 HTTP API：查询状态、连接/断开、强制值与原始写入
package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/gateway"
	"github.com/taoyao-code/groundlink/internal/packet"
	"github.com/taoyao-code/groundlink/internal/protocol"
)

// InterfaceController 接口控制面，由 gateway.Manager 实现
type InterfaceController interface {
	Statuses() []gateway.InterfaceStatus
	Connect(name string) error
	Disconnect(name string) error
	Overrides(name string) ([]protocol.Override, error)
	SetOverride(ctx context.Context, name string, o protocol.Override) (protocol.Override, error)
	ClearOverride(ctx context.Context, name, target, pkt, item string) error
	WriteRaw(name string, data []byte) error
}

// InterfaceHandler 接口控制API处理器
type InterfaceHandler struct {
	ctl    InterfaceController
	logger *zap.Logger
}

// NewInterfaceHandler 创建接口控制Handler
func NewInterfaceHandler(ctl InterfaceController, logger *zap.Logger) *InterfaceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterfaceHandler{ctl: ctl, logger: logger}
}

// overrideRequest 设置强制值请求
type overrideRequest struct {
	Target string `json:"target" binding:"required"`
	Packet string `json:"packet" binding:"required"`
	Item   string `json:"item" binding:"required"`
	Value  any    `json:"value"`
	Type   string `json:"type"`
}

// rawRequest 原始写入请求，data 为十六进制字符串
type rawRequest struct {
	Data string `json:"data" binding:"required"`
}

// ListInterfaces 查询全部接口状态
// GET /api/interfaces
func (h *InterfaceHandler) ListInterfaces(c *gin.Context) {
	list := h.ctl.Statuses()
	c.JSON(http.StatusOK, gin.H{
		"count":      len(list),
		"interfaces": list,
	})
}

// GetInterface 查询单个接口状态
// GET /api/interfaces/:name
func (h *InterfaceHandler) GetInterface(c *gin.Context) {
	name := strings.ToUpper(c.Param("name"))
	for _, st := range h.ctl.Statuses() {
		if st.Name == name {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "interface not found"})
}

// Connect 请求连接
// POST /api/interfaces/:name/connect
func (h *InterfaceHandler) Connect(c *gin.Context) {
	name := c.Param("name")
	if err := h.ctl.Connect(name); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("interface connect requested", zap.String("interface", name))
	c.JSON(http.StatusAccepted, gin.H{"interface": strings.ToUpper(name), "action": "connect"})
}

// Disconnect 请求断开
// POST /api/interfaces/:name/disconnect
func (h *InterfaceHandler) Disconnect(c *gin.Context) {
	name := c.Param("name")
	if err := h.ctl.Disconnect(name); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("interface disconnect requested", zap.String("interface", name))
	c.JSON(http.StatusAccepted, gin.H{"interface": strings.ToUpper(name), "action": "disconnect"})
}

// ListOverrides 查询强制值
// GET /api/interfaces/:name/overrides
func (h *InterfaceHandler) ListOverrides(c *gin.Context) {
	list, err := h.ctl.Overrides(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "overrides": list})
}

// SetOverride 设置强制值
// POST /api/interfaces/:name/overrides
func (h *InterfaceHandler) SetOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if req.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}
	vt, err := packet.ParseValueType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value type", "detail": err.Error()})
		return
	}
	o, err := h.ctl.SetOverride(c.Request.Context(), c.Param("name"), protocol.Override{
		Target: req.Target,
		Packet: req.Packet,
		Item:   req.Item,
		Value:  req.Value,
		Type:   vt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ClearOverride 取消强制值；不带 item 参数时取消全部
// DELETE /api/interfaces/:name/overrides?target=&packet=&item=
func (h *InterfaceHandler) ClearOverride(c *gin.Context) {
	target, pkt, item := c.Query("target"), c.Query("packet"), c.Query("item")
	if item != "" && (target == "" || pkt == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target and packet are required with item"})
		return
	}
	if err := h.ctl.ClearOverride(c.Request.Context(), c.Param("name"), target, pkt, item); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// WriteRaw 原始字节写入
// POST /api/interfaces/:name/raw
func (h *InterfaceHandler) WriteRaw(c *gin.Context) {
	var req rawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	data, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(req.Data, " ", ""), "0x"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data must be hex", "detail": err.Error()})
		return
	}
	if err := h.ctl.WriteRaw(c.Param("name"), data); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": len(data)})
}

// fail 按错误类型映射 HTTP 状态码
func (h *InterfaceHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnknownInterface):
		c.JSON(http.StatusNotFound, gin.H{"error": "interface not found", "detail": err.Error()})
	case errors.Is(err, gateway.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "interface not connected"})
	case errors.Is(err, packet.ErrUnknownItem), errors.Is(err, packet.ErrUnknownPacket):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown telemetry item", "detail": err.Error()})
	default:
		h.logger.Error("interface api failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "detail": err.Error()})
	}
}
