package protocol

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// reducer 从缓冲区切出一帧；返回 Stop 表示数据不足
type reducer func() (DataResult, error)

// Burst 一次传输读取即一帧，支持同步字搜索与前导字节丢弃。
// Fixed/LengthField/Terminated/Preidentified/Template 以它为基础，替换 reduce 完成各自的分帧。
type Burst struct {
	Base
	discard int
	sync    []byte
	fill    bool

	data      []byte
	extra     Extra
	syncFound bool
	reduce    reducer
}

// NewBurst discard 为丢弃的前导字节数，sync 为同步字（可为空），fill 表示写方向填充同步字
func NewBurst(discard int, sync []byte, fill bool) (*Burst, error) {
	b := &Burst{}
	if err := b.init("burst", discard, sync, fill); err != nil {
		return nil, err
	}
	b.reduce = b.reduceAll
	return b, nil
}

func (b *Burst) init(name string, discard int, sync []byte, fill bool) error {
	if discard < 0 {
		return fmt.Errorf("%w: discard_leading_bytes %d", ErrBadArgs, discard)
	}
	b.name = name
	b.discard = discard
	b.sync = append([]byte(nil), sync...)
	b.fill = fill
	return nil
}

// SyncPattern 同步字
func (b *Burst) SyncPattern() []byte { return b.sync }

// Buffered 当前缓存的未消费字节数
func (b *Burst) Buffered() int { return len(b.data) }

func (b *Burst) reset() {
	b.data = nil
	b.extra = nil
	b.syncFound = false
}

func (b *Burst) OnConnect()    { b.reset() }
func (b *Burst) OnDisconnect() { b.reset() }

// ReadData 追加数据，定位同步字后由 reduce 切帧，并去除前导丢弃字节
func (b *Burst) ReadData(data []byte, extra Extra) (DataResult, error) {
	b.data = append(b.data, data...)
	if extra != nil {
		b.extra = extra
	}

	if !b.handleSync() {
		if len(data) == 0 {
			return b.passEmpty(data, extra), nil
		}
		return Stop(), nil
	}

	res, err := b.reduce()
	if err != nil {
		return DataResult{}, err
	}
	if res.Status != StatusFrame {
		if len(data) == 0 && res.Status != StatusDisconnect {
			return b.passEmpty(data, extra), nil
		}
		return res, nil
	}

	b.syncFound = false
	if b.discard > 0 {
		if len(res.Data) <= b.discard {
			b.logger().Debug("frame shorter than leading discard, dropped",
				zap.String("interface", b.ifaceName()),
				zap.Int("count", len(res.Data)),
				zap.Int("discard", b.discard))
			if b.env != nil {
				b.env.Metrics.Discarded(b.env.Interface, len(res.Data))
			}
			return Stop(), nil
		}
		res.Data = res.Data[b.discard:]
	}
	return res, nil
}

// handleSync 定位同步字；返回 false 表示还需要更多数据。
// 候选首字节之后不匹配时只丢弃到该字节为止，后续字节仍参与搜索。
func (b *Burst) handleSync() bool {
	if len(b.sync) == 0 || b.syncFound {
		return true
	}
	for {
		if len(b.data) < len(b.sync) {
			return false
		}
		idx := bytes.IndexByte(b.data, b.sync[0])
		if idx < 0 {
			b.drop(len(b.data), false)
			continue
		}
		if len(b.data) < idx+len(b.sync) {
			return false
		}
		if bytes.Equal(b.data[idx:idx+len(b.sync)], b.sync) {
			if idx > 0 {
				b.drop(idx, true)
			}
			b.syncFound = true
			return true
		}
		b.drop(idx+1, false)
	}
}

func (b *Burst) drop(n int, found bool) {
	if n <= 0 {
		return
	}
	msg := "sync pattern not found, discarding bytes"
	if found {
		msg = "discarding bytes before sync pattern"
	}
	b.logger().Warn(msg,
		zap.String("interface", b.ifaceName()),
		zap.Int("count", n),
		zap.String("bytes", fmt.Sprintf("% X", b.data[:min(n, 64)])))
	if b.env != nil {
		b.env.Metrics.Discarded(b.env.Interface, n)
	}
	b.consume(n)
}

// take 复制前 n 字节作为帧并从缓冲区移除
func (b *Burst) take(n int) []byte {
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.consume(n)
	return out
}

func (b *Burst) consume(n int) {
	b.data = append(b.data[:0], b.data[n:]...)
}

// reduceAll 当前缓冲的全部字节即一帧
func (b *Burst) reduceAll() (DataResult, error) {
	if len(b.data) == 0 {
		return Stop(), nil
	}
	out := b.data
	b.data = nil
	return Frame(out, b.extra), nil
}

// WritePacket 同步字属于报文（不丢弃）时，覆盖报文开头字节
func (b *Burst) WritePacket(p *packet.Packet) (*packet.Packet, Status, error) {
	if b.fill && len(b.sync) > 0 && b.discard == 0 {
		buf := p.Buffer()
		if len(buf) < len(b.sync) {
			return nil, StatusFrame, fmt.Errorf("%w: buffer length %d less than sync pattern length %d",
				ErrBufferTooSmall, len(buf), len(b.sync))
		}
		copy(buf, b.sync)
	}
	return p, StatusFrame, nil
}

// WriteData 同步字位于丢弃区时，补回丢弃字节并写入同步字
func (b *Burst) WriteData(data []byte, extra Extra) (DataResult, error) {
	if b.fill && len(b.sync) > 0 && b.discard > 0 {
		out := make([]byte, b.discard+len(data))
		copy(out[b.discard:], data)
		copy(out, b.sync)
		data = out
	}
	return Frame(data, extra), nil
}
