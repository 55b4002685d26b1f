package protocol

import (
	"bytes"
	"fmt"
)

// Terminated 终止符分帧
type Terminated struct {
	Burst
	writeTerm []byte
	readTerm  []byte
	strip     bool
}

// NewTerminated 创建终止符协议；strip 表示读方向去掉终止符
func NewTerminated(writeTerm, readTerm []byte, strip bool, discard int, sync []byte, fill bool) (*Terminated, error) {
	t := &Terminated{}
	if err := t.initTerminated("terminated", writeTerm, readTerm, strip, discard, sync, fill); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Terminated) initTerminated(name string, writeTerm, readTerm []byte, strip bool, discard int, sync []byte, fill bool) error {
	if len(readTerm) == 0 {
		return fmt.Errorf("%w: empty read termination characters", ErrBadArgs)
	}
	if err := t.init(name, discard, sync, fill); err != nil {
		return err
	}
	t.writeTerm = append([]byte(nil), writeTerm...)
	t.readTerm = append([]byte(nil), readTerm...)
	t.strip = strip
	t.reduce = t.reduceTerminated
	return nil
}

func (t *Terminated) reduceTerminated() (DataResult, error) {
	idx := bytes.Index(t.data, t.readTerm)
	if idx < 0 {
		return Stop(), nil
	}
	end := idx
	if !t.strip {
		end += len(t.readTerm)
	}
	out := make([]byte, end)
	copy(out, t.data[:end])
	t.consume(idx + len(t.readTerm))
	return Frame(out, t.extra), nil
}

// WriteData 负载中出现终止符时报错，否则补同步字并追加终止符
func (t *Terminated) WriteData(data []byte, extra Extra) (DataResult, error) {
	if len(t.writeTerm) > 0 && bytes.Contains(data, t.writeTerm) {
		return DataResult{}, fmt.Errorf("%w: % X", ErrTerminatorInPayload, t.writeTerm)
	}
	res, err := t.Burst.WriteData(data, extra)
	if err != nil {
		return res, err
	}
	out := make([]byte, 0, len(res.Data)+len(t.writeTerm))
	out = append(out, res.Data...)
	res.Data = append(out, t.writeTerm...)
	return res, nil
}
