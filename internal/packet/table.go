package packet

import (
	"fmt"
	"sort"
	"sync"
)

const catchAllKey = "CATCHALL"

// Identifier 报文识别接口：由帧字节解析出目标/报文定义
type Identifier interface {
	Identify(buf []byte, targets []string, command bool) *Definition
	Definition(target, name string, command bool) (*Definition, error)
	Define(p *Packet, targets []string, command bool) (*Packet, bool)
}

type targetSet struct {
	order    []string
	byName   map[string]*Definition
	byKey    map[string]*Definition
	uniqueID bool
}

func newTargetSet() *targetSet {
	return &targetSet{byName: make(map[string]*Definition), byKey: make(map[string]*Definition)}
}

func (s *targetSet) rebuild() {
	s.byKey = make(map[string]*Definition)
	for _, name := range s.order {
		d := s.byName[name]
		if len(d.IDItems()) == 0 {
			s.byKey[catchAllKey] = d
			continue
		}
		s.byKey[d.declaredKey()] = d
	}
}

// Table 遥测与指令定义表，实现 Identifier
type Table struct {
	mu  sync.RWMutex
	tlm map[string]*targetSet
	cmd map[string]*targetSet
}

// NewTable 创建空定义表
func NewTable() *Table {
	return &Table{tlm: make(map[string]*targetSet), cmd: make(map[string]*targetSet)}
}

func (t *Table) sets(command bool) map[string]*targetSet {
	if command {
		return t.cmd
	}
	return t.tlm
}

// Add 注册报文定义，同名覆盖
func (t *Table) Add(d *Definition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sets := t.sets(d.Command)
	s, ok := sets[d.Target]
	if !ok {
		s = newTargetSet()
		sets[d.Target] = s
	}
	if _, exists := s.byName[d.Name]; !exists {
		s.order = append(s.order, d.Name)
	}
	s.byName[d.Name] = d
	s.rebuild()
}

// SetUniqueIDMode 开启后逐个报文匹配识别字段，而非按识别值哈希查找
func (t *Table) SetUniqueIDMode(target string, command, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sets := t.sets(command)
	s, ok := sets[target]
	if !ok {
		s = newTargetSet()
		sets[target] = s
	}
	s.uniqueID = on
}

// Definition 查找报文定义
func (t *Table) Definition(target, name string, command bool) (*Definition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.sets(command)[target]; ok {
		if d, ok := s.byName[name]; ok {
			return d, nil
		}
	}
	kind := "telemetry"
	if command {
		kind = "command"
	}
	return nil, fmt.Errorf("%w: %s %s %s", ErrUnknownPacket, kind, target, name)
}

// Targets 返回已注册目标（排序）
func (t *Table) Targets(command bool) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name := range t.sets(command) {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Identify 在给定目标（为空则全部目标）中识别 buf
func (t *Table) Identify(buf []byte, targets []string, command bool) *Definition {
	if len(targets) == 0 {
		targets = t.Targets(command)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, target := range targets {
		s, ok := t.sets(command)[target]
		if !ok || len(s.order) == 0 {
			continue
		}
		if s.uniqueID {
			for _, name := range s.order {
				if d := s.byName[name]; d.Identify(buf) {
					return d
				}
			}
			continue
		}
		// 非唯一模式下同一目标的报文共用识别字段布局，取首个定义读取键值
		var first *Definition
		for _, name := range s.order {
			if d := s.byName[name]; len(d.IDItems()) > 0 {
				first = d
				break
			}
		}
		if first != nil {
			if key, ok := first.idKey(buf); ok {
				if d, ok := s.byKey[key]; ok {
					return d
				}
			}
		}
		if d, ok := s.byKey[catchAllKey]; ok {
			return d
		}
	}
	return nil
}

// Define 为帧关联定义：已识别的按名称查找，否则按内容识别
func (t *Table) Define(p *Packet, targets []string, command bool) (*Packet, bool) {
	if p.Defined() {
		return p, true
	}
	var d *Definition
	if p.Identified() {
		var err error
		d, err = t.Definition(p.Target, p.Name, command)
		if err != nil {
			return p, false
		}
	} else {
		d = t.Identify(p.Buffer(), targets, command)
		if d == nil {
			return p, false
		}
	}
	p.Define(d)
	return p, true
}
