package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/groundlink/internal/packet"
)

// 指令报文中携带模板的字段
const (
	ItemCmdTemplate = "CMD_TEMPLATE"
	ItemRspTemplate = "RSP_TEMPLATE"
	ItemRspPacket   = "RSP_PACKET"
	ItemRspTarget   = "RSP_TARGET"
)

var placeholderRE = regexp.MustCompile(`<([^<>]+)>`)

// TemplateConfig 模板协议参数
type TemplateConfig struct {
	WriteTerm            []byte
	ReadTerm             []byte
	InitialReadDelay     time.Duration
	ConnectCompleteDelay time.Duration
	ResponseLines        int
	RaiseOnTimeout       bool
	ResponseTimeout      time.Duration // <=0 时一直等待，直到应答或断开
	IgnoreLines          int
	StripReadTerm        bool
	Discard              int
	Sync                 []byte
	Fill                 bool
}

// pendingResponse 一次写入后等待的应答
type pendingResponse struct {
	id       uuid.UUID
	template string
	target   string
	packet   string
	done     chan struct{}
	result   *packet.Packet
	err      error
}

func (r *pendingResponse) finish(p *packet.Packet, err error) {
	r.result, r.err = p, err
	close(r.done)
}

// Template ASCII 仪器的请求/应答协议：
// 写方向按 CMD_TEMPLATE 渲染指令并阻塞等待应答；读方向按 RSP_TEMPLATE 解析应答行写入应答报文。
type Template struct {
	Terminated
	initialReadDelay     time.Duration
	connectCompleteDelay time.Duration
	responseLines        int
	ignoreLines          int
	raiseOnTimeout       bool
	responseTimeout      time.Duration

	mu            sync.Mutex
	connectedAt   time.Time
	closed        chan struct{}
	readDelayDone bool
	pending       *pendingResponse
	lines         [][]byte
}

// NewTemplate 创建模板协议
func NewTemplate(c TemplateConfig) (*Template, error) {
	if c.ResponseLines < 0 || c.IgnoreLines < 0 {
		return nil, fmt.Errorf("%w: response_lines %d ignore_lines %d", ErrBadArgs, c.ResponseLines, c.IgnoreLines)
	}
	if c.InitialReadDelay < 0 || c.ConnectCompleteDelay < 0 {
		return nil, fmt.Errorf("%w: negative delay", ErrBadArgs)
	}
	t := &Template{
		initialReadDelay:     c.InitialReadDelay,
		connectCompleteDelay: c.ConnectCompleteDelay,
		responseLines:        c.ResponseLines,
		ignoreLines:          c.IgnoreLines,
		raiseOnTimeout:       c.RaiseOnTimeout,
		responseTimeout:      c.ResponseTimeout,
		closed:               make(chan struct{}),
		readDelayDone:        true,
	}
	if err := t.initTerminated("template", c.WriteTerm, c.ReadTerm, c.StripReadTerm, c.Discard, c.Sync, c.Fill); err != nil {
		return nil, err
	}
	return t, nil
}

// Attach 需要报文定义表以查找应答报文
func (t *Template) Attach(env *Env) error {
	if env == nil || env.Packets == nil {
		return fmt.Errorf("%w: template protocol needs a packet identifier", ErrBadArgs)
	}
	return t.Terminated.Attach(env)
}

// OnConnect 重置缓冲并开始初始读延迟
func (t *Template) OnConnect() {
	t.Terminated.OnConnect()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectedAt = time.Now()
	t.readDelayDone = t.initialReadDelay <= 0
	t.closed = make(chan struct{})
	t.lines = nil
	t.pending = nil
}

// OnDisconnect 取消所有等待中的写入
func (t *Template) OnDisconnect() {
	t.Terminated.OnDisconnect()
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	t.pending = nil
	t.lines = nil
}

// ReadData 初始读延迟期间丢弃收到的数据（欢迎语、提示符等）
func (t *Template) ReadData(data []byte, extra Extra) (DataResult, error) {
	if len(data) > 0 {
		t.mu.Lock()
		if !t.readDelayDone {
			if time.Since(t.connectedAt) < t.initialReadDelay {
				t.mu.Unlock()
				t.logger().Debug("dropping data during initial read delay",
					zap.String("interface", t.ifaceName()),
					zap.Int("len", len(data)))
				return Stop(), nil
			}
			t.readDelayDone = true
		}
		t.mu.Unlock()
	}
	return t.Terminated.ReadData(data, extra)
}

// PostRead 有待应答时收集应答行并解析为应答报文；否则原样交付
func (t *Template) PostRead(p *packet.Packet) (*packet.Packet, Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.pending
	if r == nil {
		return p, StatusFrame, nil
	}
	t.lines = append(t.lines, p.Buffer())
	if len(t.lines) < t.ignoreLines+t.responseLines {
		return nil, StatusStop, nil
	}
	lines := t.lines[t.ignoreLines : t.ignoreLines+t.responseLines]
	t.lines = nil
	t.pending = nil

	result, err := t.parseResponse(r, lines)
	if err != nil {
		t.logger().Error("template response rejected",
			zap.String("interface", t.ifaceName()),
			zap.String("request_id", r.id.String()),
			zap.Error(err))
		r.finish(nil, err)
		return nil, StatusStop, nil
	}
	r.finish(result, nil)
	return result, StatusFrame, nil
}

func (t *Template) parseResponse(r *pendingResponse, lines [][]byte) (*packet.Packet, error) {
	def, err := t.env.Packets.Definition(r.target, r.packet, false)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, l := range lines {
		sb.Write(l)
	}
	response := sb.String()

	names, re := compileResponse(r.template)
	m := re.FindStringSubmatch(response)
	if m == nil || len(m)-1 != len(names) {
		return nil, fmt.Errorf("%w: %q does not match %q", ErrUnexpectedResponse, response, r.template)
	}

	result := def.New()
	for i, name := range names {
		if err := result.Write(name, m[i+1]); err != nil {
			return nil, fmt.Errorf("%w: could not write value %q: %v", ErrUnexpectedResponse, m[i+1], err)
		}
	}
	if err := result.FillIDValues(); err != nil {
		return nil, err
	}
	return result, nil
}

// compileResponse 应答模板转为正则，每个占位符一个捕获组
func compileResponse(tmpl string) ([]string, *regexp.Regexp) {
	var names []string
	var sb strings.Builder
	sb.WriteString("^")
	last := 0
	for _, loc := range placeholderRE.FindAllStringSubmatchIndex(tmpl, -1) {
		sb.WriteString(regexp.QuoteMeta(tmpl[last:loc[0]]))
		sb.WriteString("(.*)")
		names = append(names, tmpl[loc[2]:loc[3]])
		last = loc[1]
	}
	sb.WriteString(regexp.QuoteMeta(tmpl[last:]))
	sb.WriteString("$")
	return names, regexp.MustCompile(sb.String())
}

// render 用报文字段原始值替换模板中的占位符
func render(tmpl string, p *packet.Packet) (string, error) {
	var firstErr error
	out := placeholderRE.ReplaceAllStringFunc(tmpl, func(ph string) string {
		name := ph[1 : len(ph)-1]
		v, err := p.Read(name, packet.Raw)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ph
		}
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		return fmt.Sprint(v)
	})
	return out, firstErr
}

func readString(p *packet.Packet, item string) string {
	v, err := p.Read(item, packet.Raw)
	if err != nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case []byte:
		return strings.TrimSpace(string(s))
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// waitConnectComplete 连接后等待初始延迟结束，断开时提前返回
func (t *Template) waitConnectComplete() error {
	t.mu.Lock()
	delay := max(t.initialReadDelay, t.connectCompleteDelay)
	wait := time.Until(t.connectedAt.Add(delay))
	closed := t.closed
	t.mu.Unlock()
	if delay <= 0 || wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-closed:
		return ErrResponseCanceled
	}
}

// WritePacket 渲染指令模板；声明了应答模板时登记待应答
func (t *Template) WritePacket(p *packet.Packet) (*packet.Packet, Status, error) {
	if err := t.waitConnectComplete(); err != nil {
		return nil, StatusFrame, err
	}

	tmpl := readString(p, ItemCmdTemplate)
	if tmpl == "" {
		return nil, StatusFrame, fmt.Errorf("%w: %s %s", ErrNoTemplate, p.Target, p.Name)
	}
	rendered, err := render(tmpl, p)
	if err != nil {
		return nil, StatusFrame, err
	}

	out := packet.New([]byte(rendered))
	out.Target, out.Name = p.Target, p.Name

	rspTemplate := readString(p, ItemRspTemplate)
	rspPacket := readString(p, ItemRspPacket)
	if rspTemplate != "" && rspPacket != "" {
		if rspPacket, err = render(rspPacket, p); err != nil {
			return nil, StatusFrame, err
		}
		target := readString(p, ItemRspTarget)
		if target == "" && len(t.env.TlmTargets) > 0 {
			target = t.env.TlmTargets[0]
		}
		if target == "" {
			target = p.Target
		}
		r := &pendingResponse{
			id:       uuid.New(),
			template: rspTemplate,
			target:   target,
			packet:   strings.ToUpper(rspPacket),
			done:     make(chan struct{}),
		}
		t.mu.Lock()
		t.pending = r
		t.lines = nil
		t.mu.Unlock()
	}

	return t.Terminated.WritePacket(out)
}

// PostWrite 等待应答、超时或断开
func (t *Template) PostWrite(p *packet.Packet, data []byte, extra Extra) error {
	t.mu.Lock()
	r := t.pending
	closed := t.closed
	t.mu.Unlock()
	if r == nil {
		return nil
	}

	var timeout <-chan time.Time
	if t.responseTimeout > 0 {
		timer := time.NewTimer(t.responseTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-r.done:
		if r.err != nil && !errors.Is(r.err, ErrUnexpectedResponse) {
			return r.err
		}
		return nil
	case <-closed:
		return ErrResponseCanceled
	case <-timeout:
		t.mu.Lock()
		if t.pending == r {
			t.pending = nil
			t.lines = nil
		}
		t.mu.Unlock()
		t.logger().Error("timeout waiting for response",
			zap.String("interface", t.ifaceName()),
			zap.String("request_id", r.id.String()),
			zap.String("command", p.Target+" "+p.Name),
			zap.Duration("timeout", t.responseTimeout))
		t.env.Metrics.TemplateTimeout(t.env.Interface)
		if t.raiseOnTimeout {
			return fmt.Errorf("%w after %s", ErrResponseTimeout, t.responseTimeout)
		}
		return nil
	}
}
