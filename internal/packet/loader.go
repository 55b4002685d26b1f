package packet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/groundlink/internal/bitfield"
)

// 定义文件结构
type itemFile struct {
	Name       string    `yaml:"name" toml:"name"`
	BitOffset  int       `yaml:"bit_offset" toml:"bit_offset"`
	BitSize    int       `yaml:"bit_size" toml:"bit_size"`
	Type       string    `yaml:"type" toml:"type"`
	Endianness string    `yaml:"endianness" toml:"endianness"`
	ID         any       `yaml:"id" toml:"id"`
	Conversion []float64 `yaml:"conversion" toml:"conversion"`
	Overflow   string    `yaml:"overflow" toml:"overflow"`
}

type packetFile struct {
	Name  string     `yaml:"name" toml:"name"`
	Items []itemFile `yaml:"items" toml:"items"`
}

type targetFile struct {
	Name            string       `yaml:"name" toml:"name"`
	TlmUniqueIDMode bool         `yaml:"tlm_unique_id_mode" toml:"tlm_unique_id_mode"`
	CmdUniqueIDMode bool         `yaml:"cmd_unique_id_mode" toml:"cmd_unique_id_mode"`
	Telemetry       []packetFile `yaml:"telemetry" toml:"telemetry"`
	Commands        []packetFile `yaml:"commands" toml:"commands"`
}

type schemaFile struct {
	Targets []targetFile `yaml:"targets" toml:"targets"`
}

// LoadFiles 依次加载定义文件到新表；.toml 按 TOML 解析，其余按 YAML
func LoadFiles(paths ...string) (*Table, error) {
	t := NewTable()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open schema %s: %w", p, err)
		}
		if strings.EqualFold(filepath.Ext(p), ".toml") {
			err = t.LoadTOML(f)
		} else {
			err = t.Load(f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", p, err)
		}
	}
	return t, nil
}

// Load 从 YAML 读取目标与报文定义
func (t *Table) Load(r io.Reader) error {
	var sf schemaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return t.apply(sf)
}

// LoadTOML 从 TOML 读取目标与报文定义，未知字段报错
func (t *Table) LoadTOML(r io.Reader) error {
	var sf schemaFile
	meta, err := toml.NewDecoder(r).Decode(&sf)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown field %s", undecoded[0])
	}
	return t.apply(sf)
}

func (t *Table) apply(sf schemaFile) error {
	for _, tf := range sf.Targets {
		target := strings.ToUpper(tf.Name)
		if target == "" {
			return fmt.Errorf("target without name")
		}
		t.SetUniqueIDMode(target, false, tf.TlmUniqueIDMode)
		t.SetUniqueIDMode(target, true, tf.CmdUniqueIDMode)
		for _, pf := range tf.Telemetry {
			d, err := buildDefinition(target, pf, false)
			if err != nil {
				return err
			}
			t.Add(d)
		}
		for _, pf := range tf.Commands {
			d, err := buildDefinition(target, pf, true)
			if err != nil {
				return err
			}
			t.Add(d)
		}
	}
	return nil
}

func buildDefinition(target string, pf packetFile, command bool) (*Definition, error) {
	d := NewDefinition(target, strings.ToUpper(pf.Name), command)
	for _, f := range pf.Items {
		dt, err := ParseDataType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s %s %s: %w", target, pf.Name, f.Name, err)
		}
		order := bitfield.BigEndian
		if f.Endianness != "" {
			if order, err = bitfield.ParseByteOrder(f.Endianness); err != nil {
				return nil, fmt.Errorf("%s %s %s: %w", target, pf.Name, f.Name, err)
			}
		}
		overflow := bitfield.OverflowError
		switch strings.ToUpper(f.Overflow) {
		case "", "ERROR":
		case "TRUNCATE":
			overflow = bitfield.OverflowTruncate
		case "SATURATE":
			overflow = bitfield.OverflowSaturate
		default:
			return nil, fmt.Errorf("%s %s %s: unknown overflow %q", target, pf.Name, f.Name, f.Overflow)
		}
		it := &Item{
			Name:       strings.ToUpper(f.Name),
			BitOffset:  f.BitOffset,
			BitSize:    f.BitSize,
			DataType:   dt,
			Order:      order,
			IDValue:    f.ID,
			Conversion: Polynomial(f.Conversion),
			Overflow:   overflow,
		}
		if err := d.AddItem(it); err != nil {
			return nil, err
		}
	}
	return d, nil
}
