package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// FramingMetrics 帧处理指标，标签 interface 为接口名
type FramingMetrics struct {
	FramesRead       *prometheus.CounterVec
	FramesWritten    *prometheus.CounterVec
	BytesRead        *prometheus.CounterVec
	BytesWritten     *prometheus.CounterVec
	BytesDiscarded   *prometheus.CounterVec
	CRCErrors        *prometheus.CounterVec
	UnknownPackets   *prometheus.CounterVec
	TemplateTimeouts *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	Connected        *prometheus.GaugeVec
	AcceptedConns    *prometheus.CounterVec
	RejectedConns    *prometheus.CounterVec
}

// NewFramingMetrics 注册并返回帧处理指标
func NewFramingMetrics(reg prometheus.Registerer) *FramingMetrics {
	byIface := []string{"interface"}
	m := &FramingMetrics{
		FramesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_frames_read_total",
			Help: "Frames delivered by the read protocol chain.",
		}, byIface),
		FramesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_frames_written_total",
			Help: "Frames written through the write protocol chain.",
		}, byIface),
		BytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_bytes_read_total",
			Help: "Raw bytes received from the transport.",
		}, byIface),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_bytes_written_total",
			Help: "Raw bytes written to the transport.",
		}, byIface),
		BytesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_bytes_discarded_total",
			Help: "Bytes dropped while searching for a sync pattern.",
		}, byIface),
		CRCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_crc_errors_total",
			Help: "Frames whose CRC did not verify.",
		}, byIface),
		UnknownPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_unknown_packets_total",
			Help: "Frames that could not be identified.",
		}, byIface),
		TemplateTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_template_timeouts_total",
			Help: "Template commands that timed out waiting for a response.",
		}, byIface),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_reconnect_attempts_total",
			Help: "Interface connect attempts after the first.",
		}, byIface),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "groundlink_interface_connected",
			Help: "1 when the interface is connected.",
		}, byIface),
		AcceptedConns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_tcp_accept_total",
			Help: "Total accepted TCP clients on server transports.",
		}, byIface),
		RejectedConns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundlink_tcp_reject_total",
			Help: "Total rejected TCP clients on server transports by reason.",
		}, []string{"interface", "reason"}),
	}
	reg.MustRegister(m.FramesRead, m.FramesWritten, m.BytesRead, m.BytesWritten, m.BytesDiscarded,
		m.CRCErrors, m.UnknownPackets, m.TemplateTimeouts, m.Reconnects, m.Connected, m.AcceptedConns,
		m.RejectedConns)
	return m
}

// Discarded 记录丢弃字节数（m 为 nil 时忽略）
func (m *FramingMetrics) Discarded(iface string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesDiscarded.WithLabelValues(iface).Add(float64(n))
}

// CRCError 记录一次 CRC 校验失败
func (m *FramingMetrics) CRCError(iface string) {
	if m == nil {
		return
	}
	m.CRCErrors.WithLabelValues(iface).Inc()
}

// Unknown 记录一次未识别报文
func (m *FramingMetrics) Unknown(iface string) {
	if m == nil {
		return
	}
	m.UnknownPackets.WithLabelValues(iface).Inc()
}

// TemplateTimeout 记录一次模板应答超时
func (m *FramingMetrics) TemplateTimeout(iface string) {
	if m == nil {
		return
	}
	m.TemplateTimeouts.WithLabelValues(iface).Inc()
}

// FrameRead 记录读取的帧与原始字节
func (m *FramingMetrics) FrameRead(iface string, rawBytes int) {
	if m == nil {
		return
	}
	m.FramesRead.WithLabelValues(iface).Inc()
	if rawBytes > 0 {
		m.BytesRead.WithLabelValues(iface).Add(float64(rawBytes))
	}
}

// FrameWritten 记录写出的帧与字节
func (m *FramingMetrics) FrameWritten(iface string, n int) {
	if m == nil {
		return
	}
	m.FramesWritten.WithLabelValues(iface).Inc()
	m.BytesWritten.WithLabelValues(iface).Add(float64(n))
}

// SetConnected 更新连接状态
func (m *FramingMetrics) SetConnected(iface string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.Connected.WithLabelValues(iface).Set(v)
}

// Reconnect 记录一次重连尝试
func (m *FramingMetrics) Reconnect(iface string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(iface).Inc()
}

// Accepted 记录 TCP 服务端接入的客户端
func (m *FramingMetrics) Accepted(iface string) {
	if m == nil {
		return
	}
	m.AcceptedConns.WithLabelValues(iface).Inc()
}

// Rejected 记录 TCP 服务端拒绝的客户端
func (m *FramingMetrics) Rejected(iface, reason string) {
	if m == nil {
		return
	}
	m.RejectedConns.WithLabelValues(iface, reason).Inc()
}
