package emqp

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Conn eMQP 连接：封装 net.Conn，按行收发消息
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	// 连接统计
	sent     *atomic.Int64
	received *atomic.Int64
	closed   *atomic.Bool
}

// NewConn 基于既有 net.Conn 创建 eMQP 连接
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw:      raw,
		reader:   bufio.NewReader(raw),
		sent:     atomic.NewInt64(0),
		received: atomic.NewInt64(0),
		closed:   atomic.NewBool(false),
	}
}

// Dial 连接对端
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", addr, err)
	}
	return NewConn(raw), nil
}

// Send 发送一条消息（并发安全）
func (c *Conn) Send(m *Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.raw.Write(data); err != nil {
		return fmt.Errorf("send %s failed: %w", m.Command, err)
	}

	c.sent.Inc()
	return nil
}

// Recv 阻塞读取下一条消息
func (c *Conn) Recv() (*Message, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	m, err := DecodeMessage(line)
	if err != nil {
		return nil, err
	}

	c.received.Inc()
	return m, nil
}

// RecvTimeout 带超时读取下一条消息
func (c *Conn) RecvTimeout(timeout time.Duration) (*Message, error) {
	if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer c.raw.SetReadDeadline(time.Time{})

	return c.Recv()
}

// Stats 返回收发统计
func (c *Conn) Stats() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

// RemoteAddr 返回对端地址
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Close 关闭连接（幂等）
func (c *Conn) Close() error {
	if c.closed.CAS(false, true) {
		return c.raw.Close()
	}
	return nil
}

// Listener eMQP 监听器
type Listener struct {
	ln net.Listener
}

// Listen 在指定地址监听
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s failed: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept 接受一个连接
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(raw), nil
}

// Addr 返回实际监听地址
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close 关闭监听器
func (l *Listener) Close() error {
	return l.ln.Close()
}
