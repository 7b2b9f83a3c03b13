package emqp

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/atomic"
)

// Heartbeater 心跳器：周期发送 HEARTBEAT，跟踪对端存活
type Heartbeater struct {
	interval time.Duration
	ttl      time.Duration

	lastSent     *atomic.Int64 // 最近一次发送时间（unix 纳秒）
	lastReceived *atomic.Int64 // 最近一次收到对端心跳时间（unix 纳秒）
}

// NewHeartbeater 创建心跳器
func NewHeartbeater(interval, ttl time.Duration) *Heartbeater {
	now := time.Now().UnixNano()
	return &Heartbeater{
		interval:     interval,
		ttl:          ttl,
		lastSent:     atomic.NewInt64(0),
		lastReceived: atomic.NewInt64(now),
	}
}

// Run 心跳发送循环（阻塞，ctx 取消后退出）
func (h *Heartbeater) Run(ctx context.Context, conn *Conn) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.SendHeartbeat(conn); err != nil {
				return err
			}
		}
	}
}

// SendHeartbeat 立即发送一次心跳（帧为 unix 秒时间戳）
func (h *Heartbeater) SendHeartbeat(conn *Conn) error {
	now := time.Now()
	msg := NewMessage(CmdHeartbeat, strconv.FormatInt(now.Unix(), 10))
	if err := conn.Send(msg); err != nil {
		return err
	}
	h.lastSent.Store(now.UnixNano())
	return nil
}

// Touch 记录收到对端心跳
func (h *Heartbeater) Touch() {
	h.lastReceived.Store(time.Now().UnixNano())
}

// Expired 对端是否超时（超过 TTL 未收到心跳）
func (h *Heartbeater) Expired() bool {
	last := h.lastReceived.Load()
	return time.Since(time.Unix(0, last)) > h.ttl
}

// LastSent 最近一次发送时间
func (h *Heartbeater) LastSent() time.Time {
	return time.Unix(0, h.lastSent.Load())
}
