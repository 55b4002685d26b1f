package health

import "sync/atomic"

// Readiness 就绪状态聚合（报文定义、接口启动）
type Readiness struct {
	packetsReady    atomic.Bool
	interfacesReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetPacketsReady(v bool)    { r.packetsReady.Store(v) }
func (r *Readiness) SetInterfacesReady(v bool) { r.interfacesReady.Store(v) }

// Ready 总体就绪：各子系统均为 true
func (r *Readiness) Ready() bool {
	return r.packetsReady.Load() && r.interfacesReady.Load()
}
