package protocol

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// Override 强制字段值
type Override struct {
	Target string           `json:"target"`
	Packet string           `json:"packet"`
	Item   string           `json:"item"`
	Value  any              `json:"value"`
	Type   packet.ValueType `json:"type"`
}

type overrideKey struct{ target, packet, item string }

// OverrideTable (target, packet, item) → 强制值，读写并发安全
type OverrideTable struct {
	mu sync.RWMutex
	m  map[overrideKey]Override
}

// NewOverrideTable 创建空覆盖表
func NewOverrideTable() *OverrideTable {
	return &OverrideTable{m: make(map[overrideKey]Override)}
}

// Set 设置或替换覆盖值
func (t *OverrideTable) Set(o Override) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[overrideKey{o.Target, o.Packet, o.Item}] = o
}

// Clear 删除一项覆盖，返回是否存在
func (t *OverrideTable) Clear(target, pkt, item string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := overrideKey{target, pkt, item}
	_, ok := t.m[k]
	delete(t.m, k)
	return ok
}

// ClearAll 清空
func (t *OverrideTable) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m = make(map[overrideKey]Override)
}

// Len 覆盖项数
func (t *OverrideTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// For 返回某报文的全部覆盖项
func (t *OverrideTable) For(target, pkt string) []Override {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Override
	for k, o := range t.m {
		if k.target == target && k.packet == pkt {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// List 全部覆盖项（按 target/packet/item 排序）
func (t *OverrideTable) List() []Override {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Override, 0, len(t.m))
	for _, o := range t.m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		if out[i].Packet != out[j].Packet {
			return out[i].Packet < out[j].Packet
		}
		return out[i].Item < out[j].Item
	})
	return out
}

// OverridePostProcessor 读后钩子：对识别出的报文应用覆盖表
type OverridePostProcessor struct {
	Base
}

// NewOverride 创建覆盖处理器
func NewOverride() *OverridePostProcessor {
	return &OverridePostProcessor{Base: Base{name: "override"}}
}

// PostRead RAW 覆盖写入缓冲区（转换前），CONVERTED 覆盖绕过转换
func (o *OverridePostProcessor) PostRead(p *packet.Packet) (*packet.Packet, Status, error) {
	if o.env == nil || o.env.Overrides == nil || o.env.Overrides.Len() == 0 || o.env.Packets == nil {
		return p, StatusFrame, nil
	}
	p, ok := o.env.Packets.Define(p, o.env.TlmTargets, false)
	if !ok {
		return p, StatusFrame, nil
	}
	for _, ov := range o.env.Overrides.For(p.Target, p.Name) {
		var err error
		if ov.Type == packet.Converted {
			err = p.SetConvertedOverride(ov.Item, ov.Value)
		} else {
			err = p.Write(ov.Item, ov.Value)
		}
		if err != nil {
			o.logger().Error("apply override failed",
				zap.String("interface", o.ifaceName()),
				zap.String("target", ov.Target),
				zap.String("packet", ov.Packet),
				zap.String("item", ov.Item),
				zap.Error(err))
		}
	}
	return p, StatusFrame, nil
}
