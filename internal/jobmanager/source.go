package jobmanager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/framework"
	"github.com/jacobdh/eventmq/internal/job"
	"github.com/jacobdh/eventmq/pkg/logger"
)

// ListenerSource 监听式投递来源：接受对端连接，读取 REQUEST 转为投递
// 实现 framework.DeliverySource
type ListenerSource struct {
	listener     *emqp.Listener
	deliveries   chan *framework.Delivery
	heartbeat    time.Duration
	heartbeatTTL time.Duration
	onDisconnect func() // 收到 DISCONNECT 的回调

	mu     sync.Mutex
	conns  map[*emqp.Conn]struct{}
	closed *atomic.Bool
	wg     sync.WaitGroup
	logger logger.Logger
}

// NewListenerSource 创建监听式投递来源
func NewListenerSource(ln *emqp.Listener, bufferSize int, heartbeat, heartbeatTTL time.Duration,
	onDisconnect func(), log logger.Logger) *ListenerSource {
	return &ListenerSource{
		listener:     ln,
		deliveries:   make(chan *framework.Delivery, bufferSize),
		heartbeat:    heartbeat,
		heartbeatTTL: heartbeatTTL,
		onDisconnect: onDisconnect,
		conns:        make(map[*emqp.Conn]struct{}),
		closed:       atomic.NewBool(false),
		logger:       log,
	}
}

// Run 接受连接循环（阻塞，Close 后返回）
func (s *ListenerSource) Run(ctx context.Context) {
	s.logger.Infof(ctx, "[Source] Accepting connections on %s", s.listener.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warnf(ctx, "[Source] Accept error: %v", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

// serve 单连接服务循环
func (s *ListenerSource) serve(ctx context.Context, conn *emqp.Conn) {
	defer s.wg.Done()
	defer s.dropConn(conn)

	peer := conn.RemoteAddr()
	s.logger.Infof(ctx, "[Source] Peer connected: %s", peer)

	// 就绪通告
	if err := conn.Send(emqp.NewMessage(emqp.CmdReady)); err != nil {
		s.logger.Warnf(ctx, "[Source] Failed to greet %s: %v", peer, err)
		return
	}

	// 心跳：周期发送 + 超时检测
	hb := emqp.NewHeartbeater(s.heartbeat, s.heartbeatTTL)
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if hb.Expired() {
					s.logger.Warnf(hbCtx, "[Source] Peer heartbeat expired: %s", peer)
					conn.Close()
					return
				}
				if err := hb.SendHeartbeat(conn); err != nil {
					return
				}
			}
		}
	}()

	for {
		msg, err := conn.Recv()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Infof(ctx, "[Source] Peer disconnected: %s (%v)", peer, err)
			}
			return
		}

		// 任何入站消息都算对端存活，不要求对端实现心跳
		hb.Touch()

		switch msg.Command {
		case emqp.CmdHeartbeat:
			// 存活已在上面记录

		case emqp.CmdKbye:
			s.logger.Infof(ctx, "[Source] Peer said KBYE: %s", peer)
			return

		case emqp.CmdDisconnect:
			s.logger.Infof(ctx, "[Source] Received DISCONNECT from %s", peer)
			if s.onDisconnect != nil {
				s.onDisconnect()
			}
			return

		case emqp.CmdRequest:
			s.handleRequest(ctx, conn, msg)

		default:
			s.logger.Warnf(ctx, "[Source] Ignoring command %s from %s", msg.Command, peer)
		}
	}
}

// handleRequest 将 REQUEST 消息转为投递
func (s *ListenerSource) handleRequest(ctx context.Context, conn *emqp.Conn, msg *emqp.Message) {
	headers, err := emqp.ParseHeaders(msg.Frame(1))
	if err != nil {
		s.logger.Warnf(ctx, "[Source] Bad headers in %s: %v", msg.ID, err)
		return
	}

	req, err := job.ParsePayload(msg.Frame(2))
	if err != nil {
		s.logger.Warnf(ctx, "[Source] Bad payload in %s: %v", msg.ID, err)
		return
	}

	// guarantee 语义：收到即确认
	if headers.Guarantee {
		if err := conn.Send(emqp.NewMessage(emqp.CmdAck, msg.ID)); err != nil {
			s.logger.Warnf(ctx, "[Source] Failed to ack %s: %v", msg.ID, err)
		}
	}

	queue := msg.Frame(0)
	if queue == "" {
		queue = emqp.DefaultQueue
	}

	d := &framework.Delivery{
		ID:      msg.ID,
		Queue:   queue,
		Headers: headers,
		Request: req,
		ReplyTo: conn,
	}

	// 缓冲满时阻塞，读协程天然形成背压
	s.deliveries <- d
}

// Consume 实现 framework.DeliverySource
func (s *ListenerSource) Consume(ctx context.Context) (*framework.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, nil
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, nil
		}
		return d, nil
	}
}

// dropConn 摘除并关闭连接
func (s *ListenerSource) dropConn(conn *emqp.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Close 关闭来源：向对端告别并关闭监听器
func (s *ListenerSource) Close() {
	if !s.closed.CAS(false, true) {
		return
	}

	s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		// 主动告别，对端据此停止重试
		_ = conn.Send(emqp.NewMessage(emqp.CmdKbye))
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
