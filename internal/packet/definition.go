package packet

import (
	"fmt"
	"sort"

	"github.com/taoyao-code/groundlink/internal/bitfield"
)

// Definition 目标下一个报文（遥测或指令）的字段布局
type Definition struct {
	Target  string
	Name    string
	Command bool

	items []*Item
	index map[string]*Item
}

// NewDefinition 创建报文定义
func NewDefinition(target, name string, command bool) *Definition {
	return &Definition{Target: target, Name: name, Command: command, index: make(map[string]*Item)}
}

// AddItem 追加字段，同名字段覆盖
func (d *Definition) AddItem(it *Item) error {
	if it.Name == "" {
		return fmt.Errorf("%s %s: item without name", d.Target, d.Name)
	}
	if it.DataType != String && it.DataType != Block && it.BitSize <= 0 {
		return fmt.Errorf("%s %s %s: bit size %d", d.Target, d.Name, it.Name, it.BitSize)
	}
	if old, ok := d.index[it.Name]; ok {
		for i, cur := range d.items {
			if cur == old {
				d.items[i] = it
			}
		}
	} else {
		d.items = append(d.items, it)
	}
	d.index[it.Name] = it
	return nil
}

// Item 按名称查找字段
func (d *Definition) Item(name string) (*Item, bool) {
	it, ok := d.index[name]
	return it, ok
}

// Items 按定义顺序返回全部字段
func (d *Definition) Items() []*Item { return d.items }

// IDItems 识别字段（按位偏移排序）
func (d *Definition) IDItems() []*Item {
	var ids []*Item
	for _, it := range d.items {
		if it.IsID() {
			ids = append(ids, it)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool { return ids[i].BitOffset < ids[j].BitOffset })
	return ids
}

// DefinedLength 由非负偏移的定长字段推导出的报文字节数
func (d *Definition) DefinedLength() int {
	n := 0
	for _, it := range d.items {
		if it.BitOffset < 0 || it.BitSize <= 0 {
			continue
		}
		end := 0
		if it.Order == bitfield.LittleEndian && !bitfield.Aligned(it.BitOffset, it.BitSize) {
			end = it.BitOffset/8 + 1
		} else {
			end = (it.BitOffset+it.BitSize-1)/8 + 1
		}
		if end > n {
			n = end
		}
	}
	return n
}

// Identify 判断 buf 是否匹配全部识别字段；无识别字段时匹配任意数据
func (d *Definition) Identify(buf []byte) bool {
	if buf == nil {
		return false
	}
	for _, it := range d.IDItems() {
		v, err := it.read(buf)
		if err != nil || !it.idMatches(v) {
			return false
		}
	}
	return true
}

// idKey 识别字段取值拼接的哈希键
func (d *Definition) idKey(buf []byte) (string, bool) {
	key := ""
	for i, it := range d.IDItems() {
		v, err := it.read(buf)
		if err != nil {
			return "", false
		}
		if i > 0 {
			key += "|"
		}
		key += valueKey(v)
	}
	return key, true
}

// declaredKey 定义中声明的识别值拼接键
func (d *Definition) declaredKey() string {
	key := ""
	for i, it := range d.IDItems() {
		if i > 0 {
			key += "|"
		}
		key += valueKey(it.IDValue)
	}
	return key
}

// New 按定义创建零值报文，并填入识别字段
func (d *Definition) New() *Packet {
	p := &Packet{
		Target: d.Target,
		Name:   d.Name,
		buf:    make([]byte, d.DefinedLength()),
		def:    d,
	}
	p.FillIDValues()
	return p
}
