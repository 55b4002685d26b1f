package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taoyao-code/groundlink/internal/packet"
)

const (
	flagStored = 0x80
	flagExtra  = 0x40

	unknownName = "UNKNOWN"
)

// Preidentified 自描述帧：
// [sync?][flags:1][(flags&0x40) extra_len:4 extra_json][seconds:4][microseconds:4]
// [tgt_len:1][tgt][pkt_len:1][pkt][body_len:4][body]，多字节整数均为大端。
type Preidentified struct {
	Burst
	maxLength int

	readTime   time.Time
	readTarget string
	readName   string
	readStored bool
	readExtra  map[string]any

	writeTime   time.Time
	writeTarget string
	writeName   string
	writeStored bool
	writeExtra  map[string]any
}

// NewPreidentified maxLength 为 0 时不限制正文长度
func NewPreidentified(sync []byte, maxLength int) (*Preidentified, error) {
	if maxLength < 0 {
		return nil, fmt.Errorf("%w: max_length %d", ErrBadArgs, maxLength)
	}
	p := &Preidentified{maxLength: maxLength}
	if err := p.init("preidentified", 0, sync, false); err != nil {
		return nil, err
	}
	p.reduce = p.reducePreidentified
	return p, nil
}

// reducePreidentified 每次从缓冲区起始处完整解析，数据不足时不改变状态
func (p *Preidentified) reducePreidentified() (DataResult, error) {
	buf := p.data
	pos := len(p.sync)

	if len(buf) < pos+1 {
		return Stop(), nil
	}
	flags := buf[pos]
	pos++

	var extra map[string]any
	if flags&flagExtra != 0 {
		if len(buf) < pos+4 {
			return Stop(), nil
		}
		n := int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
		if p.maxLength > 0 && n > p.maxLength {
			return DataResult{}, fmt.Errorf("%w: extra length %d > %d", ErrMaxLength, n, p.maxLength)
		}
		if len(buf) < pos+n {
			return Stop(), nil
		}
		if err := json.Unmarshal(buf[pos:pos+n], &extra); err != nil {
			return DataResult{}, fmt.Errorf("decode preidentified extra: %w", err)
		}
		pos += n
	}

	if len(buf) < pos+9 {
		return Stop(), nil
	}
	sec := binary.BigEndian.Uint32(buf[pos:])
	usec := binary.BigEndian.Uint32(buf[pos+4:])
	tlen := int(buf[pos+8])
	pos += 9
	if len(buf) < pos+tlen+1 {
		return Stop(), nil
	}
	target := string(buf[pos : pos+tlen])
	pos += tlen
	plen := int(buf[pos])
	pos++
	if len(buf) < pos+plen+4 {
		return Stop(), nil
	}
	name := string(buf[pos : pos+plen])
	pos += plen
	blen := int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if p.maxLength > 0 && blen > p.maxLength {
		return DataResult{}, fmt.Errorf("%w: length value received %d > %d", ErrMaxLength, blen, p.maxLength)
	}
	if len(buf) < pos+blen {
		return Stop(), nil
	}

	body := make([]byte, blen)
	copy(body, buf[pos:pos+blen])
	p.consume(pos + blen)

	p.readTime = time.Time{}
	if sec != 0 || usec != 0 {
		p.readTime = time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
	}
	p.readTarget, p.readName = target, name
	p.readStored = flags&flagStored != 0
	p.readExtra = extra
	return Frame(body, p.extra), nil
}

// PostRead 标记为已识别（未定义），由接口在交付时解析定义
func (p *Preidentified) PostRead(pkt *packet.Packet) (*packet.Packet, Status, error) {
	pkt.ReceivedTime = p.readTime
	pkt.Target, pkt.Name = p.readTarget, p.readName
	pkt.Stored = p.readStored
	if p.readExtra != nil {
		if pkt.Extra == nil {
			pkt.Extra = make(map[string]any, len(p.readExtra))
		}
		for k, v := range p.readExtra {
			pkt.Extra[k] = v
		}
	}
	return pkt, StatusFrame, nil
}

// WritePacket 记录报文元数据，WriteData 时编码为头部
func (p *Preidentified) WritePacket(pkt *packet.Packet) (*packet.Packet, Status, error) {
	p.writeTime = pkt.ReceivedTime
	if p.writeTime.IsZero() {
		p.writeTime = time.Now()
	}
	p.writeTarget, p.writeName = pkt.Target, pkt.Name
	if p.writeTarget == "" {
		p.writeTarget = unknownName
	}
	if p.writeName == "" {
		p.writeName = unknownName
	}
	p.writeStored = pkt.Stored
	p.writeExtra = pkt.Extra
	return pkt, StatusFrame, nil
}

// WriteData 编码头部与正文
func (p *Preidentified) WriteData(data []byte, extra Extra) (DataResult, error) {
	if p.maxLength > 0 && len(data) > p.maxLength {
		return DataResult{}, fmt.Errorf("%w: body length %d > %d", ErrMaxLength, len(data), p.maxLength)
	}
	if len(p.writeTarget) > 255 || len(p.writeName) > 255 {
		return DataResult{}, fmt.Errorf("%w: target/packet name longer than 255 bytes", ErrBadArgs)
	}

	var flags byte
	if p.writeStored {
		flags |= flagStored
	}
	var extraJSON []byte
	if len(p.writeExtra) > 0 {
		b, err := json.Marshal(p.writeExtra)
		if err != nil {
			return DataResult{}, fmt.Errorf("encode preidentified extra: %w", err)
		}
		extraJSON = b
		flags |= flagExtra
	}

	out := make([]byte, 0, len(p.sync)+1+len(extraJSON)+4+9+len(p.writeTarget)+1+len(p.writeName)+4+len(data))
	out = append(out, p.sync...)
	out = append(out, flags)
	if extraJSON != nil {
		out = binary.BigEndian.AppendUint32(out, uint32(len(extraJSON)))
		out = append(out, extraJSON...)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(p.writeTime.Unix()))
	out = binary.BigEndian.AppendUint32(out, uint32(p.writeTime.Nanosecond()/1000))
	out = append(out, byte(len(p.writeTarget)))
	out = append(out, p.writeTarget...)
	out = append(out, byte(len(p.writeName)))
	out = append(out, p.writeName...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	return Frame(out, extra), nil
}
