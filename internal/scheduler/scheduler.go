package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/jacobdh/eventmq/internal/client"
	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/pkg/config"
	"github.com/jacobdh/eventmq/pkg/infra/redis"
	"github.com/jacobdh/eventmq/pkg/logger"
)

// Store 调度持久化接口（生产实现为 redis.ScheduleStore）
type Store interface {
	LoadAll(ctx context.Context) (schedules []redis.StoredSchedule, missing []string, err error)
	Save(ctx context.Context, hash string, raw []byte) error
	Delete(ctx context.Context, hash string) error
	PublishEvent(ctx context.Context, event *redis.ScheduleEvent) error
}

// Scheduler 调度器：维护 cron/间隔任务表，到期下发 REQUEST
type Scheduler struct {
	ctx    context.Context
	cfg    *config.Config
	name   string
	store  Store
	logger logger.Logger

	// 调度表，键为调度哈希
	mu           sync.Mutex
	cronJobs     map[string]*cronEntry
	intervalJobs map[string]*intervalEntry

	// 下发连接（失败后置 nil，下次重拨）
	dispatchMu sync.Mutex
	dispatch   *emqp.Conn

	// 已接受的客户端连接，Shutdown 时统一关闭
	connMu sync.Mutex
	conns  map[*emqp.Conn]struct{}

	listener   *emqp.Listener
	closing    *atomic.Bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewScheduler 创建调度器并加载持久化的调度
func NewScheduler(cfg *config.Config, store Store, log logger.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("schedule store is required")
	}

	ctx := context.Background()

	name := uuid.NewString()
	if cfg.App.Name != "" {
		name = cfg.App.Name + ":" + name
	}

	s := &Scheduler{
		ctx:          ctx,
		cfg:          cfg,
		name:         name,
		store:        store,
		logger:       log,
		cronJobs:     make(map[string]*cronEntry),
		intervalJobs: make(map[string]*intervalEntry),
		conns:        make(map[*emqp.Conn]struct{}),
		closing:      atomic.NewBool(false),
		shutdownCh:   make(chan struct{}),
	}

	s.loadJobs()

	return s, nil
}

// Name 返回实例名
func (s *Scheduler) Name() string {
	return s.name
}

// Addr 返回实际监听地址，Start 之前为空串
func (s *Scheduler) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

// loadJobs 从存储恢复调度表
func (s *Scheduler) loadJobs() {
	loadCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	schedules, missing, err := s.store.LoadAll(loadCtx)
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Could not load schedules: %v", err)
		return
	}
	for _, hash := range missing {
		s.logger.Warnf(s.ctx, "[Scheduler] Expected schedule in store but none found: %s", hash)
	}

	now := time.Now()
	for _, stored := range schedules {
		m, err := decodeScheduleMessage(stored.Raw)
		if err != nil {
			s.logger.Warnf(s.ctx, "[Scheduler] Skipping corrupt schedule %s: %v", stored.Hash, err)
			continue
		}
		if err := s.installEntry(stored.Hash, m, now); err != nil {
			s.logger.Warnf(s.ctx, "[Scheduler] Skipping schedule %s: %v", stored.Hash, err)
			continue
		}
		s.logger.Debugf(s.ctx, "[Scheduler] Restored schedule %s", stored.Hash)
	}
}

// installEntry 将调度消息装入对应调度表（替换同哈希旧表项）
func (s *Scheduler) installEntry(hash string, m *scheduleMessage, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Interval >= 0 {
		s.intervalJobs[hash] = newIntervalEntry(m, now)
		delete(s.cronJobs, hash)
		return nil
	}

	entry, err := newCronEntry(m, now)
	if err != nil {
		return err
	}
	s.cronJobs[hash] = entry
	delete(s.intervalJobs, hash)
	return nil
}

// Start 启动调度器（阻塞直到 Shutdown）
func (s *Scheduler) Start() error {
	s.logger.Infof(s.ctx, "[Scheduler] %s starting", s.name)

	ln, err := emqp.Listen(s.cfg.Scheduler.ListenAddr)
	if err != nil {
		return fmt.Errorf("scheduler listen failed: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// 1. 接受客户端连接（SCHEDULE/UNSCHEDULE/STATUS）
	s.wg.Add(1)
	go s.acceptLoop()

	// 2. 调度检查循环
	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Infof(s.ctx, "[Scheduler] %s listening on %s", s.name, ln.Addr())

	<-s.shutdownCh
	return nil
}

// Shutdown 优雅退出
func (s *Scheduler) Shutdown() {
	if !s.closing.CAS(false, true) {
		return
	}

	s.logger.Infof(s.ctx, "[Scheduler] %s began to close", s.name)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	// 关闭存量客户端连接，serve 循环随之退出
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Send(emqp.NewMessage(emqp.CmdKbye))
		conn.Close()
	}
	s.connMu.Unlock()

	// 向下发对端告别
	s.dispatchMu.Lock()
	if s.dispatch != nil {
		_ = s.dispatch.Send(emqp.NewMessage(emqp.CmdKbye))
		s.dispatch.Close()
		s.dispatch = nil
	}
	s.dispatchMu.Unlock()

	close(s.shutdownCh)
	s.wg.Wait()

	s.logger.Infof(s.ctx, "[Scheduler] %s shutdown complete", s.name)
}

// tickLoop 调度检查循环
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Scheduler.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.tick(time.Now())
		}
	}
}

// tick 下发所有到期任务
func (s *Scheduler) tick(now time.Time) {
	type firing struct {
		hash string
		msg  *scheduleMessage
	}
	type removal struct {
		hash  string
		queue string
	}
	var due []firing
	var persist []*scheduleMessage
	var removed []removal

	s.mu.Lock()

	// cron 任务
	for hash, entry := range s.cronJobs {
		if !entry.next.After(now) {
			s.logger.Debugf(s.ctx, "[Scheduler] Cron due: %s next was %v", hash, entry.next)
			due = append(due, firing{hash, entry.msg})
			entry.next = entry.schedule.Next(now)
		}
	}

	// 间隔任务（含 run_count 处理）
	for hash, entry := range s.intervalJobs {
		if entry.next.After(now) {
			continue
		}

		if entry.runCount != emqp.InfiniteRunCount {
			// run_count 归零的任务摘除，存储在锁外清理
			if entry.runCount <= 0 {
				s.logger.Debugf(s.ctx, "[Scheduler] Cancelling job due to run_count: %s", hash)
				delete(s.intervalJobs, hash)
				removed = append(removed, removal{hash, entry.msg.Queue})
				continue
			}
			entry.runCount--
			entry.msg.Headers.RunCount = entry.runCount
			persist = append(persist, entry.msg)
		}

		s.logger.Debugf(s.ctx, "[Scheduler] Interval due: %s next was %v", hash, entry.next)
		due = append(due, firing{hash, entry.msg})
		entry.next = entry.iter.Next()
	}

	s.mu.Unlock()

	// 存储写入与下发都在锁外，慢存储/慢对端不阻塞调度表
	for _, m := range persist {
		s.persistSchedule(m)
	}
	for _, r := range removed {
		s.cleanupStore(r.hash, r.queue, "cancelled")
	}
	for _, f := range due {
		s.sendRequest(f.msg)
	}
}

// persistSchedule 将调度消息（含递减后的 run_count）写回存储
func (s *Scheduler) persistSchedule(m *scheduleMessage) {
	hash, err := m.hash()
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to hash schedule: %v", err)
		return
	}

	raw, err := m.encode()
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to encode schedule %s: %v", hash, err)
		return
	}

	storeCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	if err := s.store.Save(storeCtx, hash, raw); err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to update run_count in store: %v", err)
	}
}

// cleanupStore 删除持久化记录并发布通知
func (s *Scheduler) cleanupStore(hash, queue, action string) {
	storeCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()

	if err := s.store.Delete(storeCtx, hash); err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to delete schedule from store: %v", err)
	}
	if err := s.store.PublishEvent(storeCtx, &redis.ScheduleEvent{
		Action:    action,
		Hash:      hash,
		Queue:     queue,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to publish schedule event: %v", err)
	}
}

// sendRequest 向下发对端发送 REQUEST（失败重拨一次）
func (s *Scheduler) sendRequest(m *scheduleMessage) {
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := s.dispatchConn()
		if err != nil {
			s.logger.Warnf(s.ctx, "[Scheduler] Dispatch connect failed: %v", err)
			time.Sleep(s.cfg.Scheduler.ErrorBackoff)
			continue
		}

		msgid, err := client.SendRequest(conn, m.Request, client.RequestOptions{
			Queue:          m.Queue,
			ReplyRequested: true,
		})
		if err == nil {
			s.logger.Infof(s.ctx, "[Scheduler] Dispatched %s as %s", m.Request.Target(), msgid)
			return
		}

		s.logger.Warnf(s.ctx, "[Scheduler] Dispatch failed: %v", err)
		s.resetDispatch()
	}
}

// dispatchConn 获取下发连接（懒建连）
func (s *Scheduler) dispatchConn() (*emqp.Conn, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.dispatch != nil {
		return s.dispatch, nil
	}

	conn, err := emqp.Dial(s.cfg.Scheduler.ConnectAddr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	s.dispatch = conn

	// 排空对端的 READY/HEARTBEAT/REPLY，调度器不消费回复
	go s.drainDispatch(conn)

	return conn, nil
}

// resetDispatch 关闭失效的下发连接
func (s *Scheduler) resetDispatch() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.dispatch != nil {
		s.dispatch.Close()
		s.dispatch = nil
	}
}

// drainDispatch 下发连接读循环（回应心跳，其余入站消息丢弃，断开时重置）
func (s *Scheduler) drainDispatch(conn *emqp.Conn) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			if !s.closing.Load() {
				s.logger.Warnf(s.ctx, "[Scheduler] Dispatch peer closed: %v", err)
				s.resetDispatch()
			}
			return
		}

		// 两次下发之间可能长时间静默，靠回心跳保活
		if msg.Command == emqp.CmdHeartbeat {
			_ = conn.Send(emqp.NewMessage(emqp.CmdHeartbeat, strconv.FormatInt(time.Now().Unix(), 10)))
			continue
		}
		s.logger.Debugf(s.ctx, "[Scheduler] Ignoring %s from dispatch peer", msg.Command)
	}
}

// acceptLoop 客户端连接接受循环
func (s *Scheduler) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				return
			}
			s.logger.Warnf(s.ctx, "[Scheduler] Accept error: %v", err)
			continue
		}

		if !s.trackConn(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// trackConn 登记客户端连接，关闭中拒绝新连接
func (s *Scheduler) trackConn(conn *emqp.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

// untrackConn 摘除并关闭客户端连接
func (s *Scheduler) untrackConn(conn *emqp.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	conn.Close()
}

// serve 单客户端服务循环
func (s *Scheduler) serve(conn *emqp.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)

	peer := conn.RemoteAddr()
	s.logger.Infof(s.ctx, "[Scheduler] Client connected: %s", peer)

	for {
		msg, err := conn.Recv()
		if err != nil {
			if !s.closing.Load() {
				s.logger.Infof(s.ctx, "[Scheduler] Client disconnected: %s", peer)
			}
			return
		}

		switch msg.Command {
		case emqp.CmdSchedule:
			s.onSchedule(msg)

		case emqp.CmdUnschedule:
			s.onUnschedule(msg)

		case emqp.CmdStatus:
			s.onStatus(conn, msg)

		case emqp.CmdHeartbeat:
			// 心跳无需处理

		case emqp.CmdKbye:
			return

		case emqp.CmdDisconnect:
			s.logger.Infof(s.ctx, "[Scheduler] Received DISCONNECT request from %s", peer)
			go s.Shutdown()
			return

		default:
			s.logger.Warnf(s.ctx, "[Scheduler] Ignoring command %s from %s", msg.Command, peer)
		}
	}
}

// onSchedule 处理 SCHEDULE：装表、持久化、按需立即执行一次
func (s *Scheduler) onSchedule(msg *emqp.Message) {
	s.logger.Infof(s.ctx, "[Scheduler] Received new SCHEDULE request: %s", msg.ID)

	m, err := parseScheduleFrames(msg.Frames)
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Bad SCHEDULE %s: %v", msg.ID, err)
		return
	}

	hash, err := m.hash()
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to hash SCHEDULE %s: %v", msg.ID, err)
		return
	}

	s.mu.Lock()
	_, existsCron := s.cronJobs[hash]
	_, existsInterval := s.intervalJobs[hash]
	s.mu.Unlock()
	if existsCron || existsInterval {
		s.logger.Debugf(s.ctx, "[Scheduler] Updating existing schedule %s", hash)
	} else {
		s.logger.Debugf(s.ctx, "[Scheduler] Creating new schedule %s", hash)
	}

	if err := s.installEntry(hash, m, time.Now()); err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to install SCHEDULE %s: %v", msg.ID, err)
		return
	}

	// 持久化 + 变更通知
	raw, err := m.encode()
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to encode schedule %s: %v", hash, err)
	} else {
		storeCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
		if err := s.store.Save(storeCtx, hash, raw); err != nil {
			s.logger.Warnf(s.ctx, "[Scheduler] Could not persist schedule, no durability guarantee: %v", err)
		}
		if err := s.store.PublishEvent(storeCtx, &redis.ScheduleEvent{
			Action:    "scheduled",
			Hash:      hash,
			Queue:     m.Queue,
			Timestamp: time.Now().Unix(),
		}); err != nil {
			s.logger.Warnf(s.ctx, "[Scheduler] Unable to publish schedule event: %v", err)
		}
		cancel()
	}

	// haste：注册时立即执行一次
	if !m.Headers.NoHaste {
		runCount := m.Headers.RunCount
		if runCount > 0 || runCount == emqp.InfiniteRunCount {
			if runCount > 0 {
				s.mu.Lock()
				if entry, ok := s.intervalJobs[hash]; ok {
					entry.runCount--
				}
				s.mu.Unlock()
			}
			s.sendRequest(m)
		}
	}
}

// onUnschedule 处理 UNSCHEDULE：摘表并清理存储
func (s *Scheduler) onUnschedule(msg *emqp.Message) {
	s.logger.Infof(s.ctx, "[Scheduler] Received new UNSCHEDULE request: %s", msg.ID)

	m, err := parseScheduleFrames(msg.Frames)
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Bad UNSCHEDULE %s: %v", msg.ID, err)
		return
	}

	hash, err := m.hash()
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to hash UNSCHEDULE %s: %v", msg.ID, err)
		return
	}

	s.mu.Lock()
	if _, ok := s.intervalJobs[hash]; ok {
		delete(s.intervalJobs, hash)
	} else if _, ok := s.cronJobs[hash]; ok {
		delete(s.cronJobs, hash)
	} else {
		s.logger.Warnf(s.ctx, "[Scheduler] No matching schedule for unschedule request: %s", hash)
	}
	s.mu.Unlock()

	// 内存中不存在也要清理存储
	s.cleanupStore(hash, m.Queue, "unscheduled")
}

// scheduleSummary STATUS 导出的调度摘要
type scheduleSummary struct {
	Queue    string    `json:"queue"`
	Target   string    `json:"target"`
	Interval int64     `json:"interval,omitempty"`
	Cron     string    `json:"cron,omitempty"`
	NextRun  time.Time `json:"next_run"`
	RunCount int       `json:"run_count,omitempty"`
}

// onStatus 处理 STATUS 查询
func (s *Scheduler) onStatus(conn *emqp.Conn, msg *emqp.Message) {
	if msg.Frame(0) != emqp.StatusShowScheduledJobs {
		s.logger.Warnf(s.ctx, "[Scheduler] Unknown STATUS subcommand: %q", msg.Frame(0))
		return
	}

	dump, err := json.Marshal(s.ScheduledJobs())
	if err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to dump schedules: %v", err)
		return
	}

	reply := emqp.NewMessage(emqp.CmdReply, msg.ID, string(dump))
	if err := conn.Send(reply); err != nil {
		s.logger.Warnf(s.ctx, "[Scheduler] Unable to reply STATUS: %v", err)
	}
}

// ScheduledJobs 返回当前调度表快照
func (s *Scheduler) ScheduledJobs() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	intervalJobs := make(map[string]scheduleSummary, len(s.intervalJobs))
	for hash, entry := range s.intervalJobs {
		intervalJobs[hash] = scheduleSummary{
			Queue:    entry.msg.Queue,
			Target:   entry.msg.Request.Target(),
			Interval: entry.msg.Interval,
			NextRun:  entry.next,
			RunCount: entry.runCount,
		}
	}

	cronJobs := make(map[string]scheduleSummary, len(s.cronJobs))
	for hash, entry := range s.cronJobs {
		cronJobs[hash] = scheduleSummary{
			Queue:   entry.msg.Queue,
			Target:  entry.msg.Request.Target(),
			Cron:    entry.msg.Cron,
			NextRun: entry.next,
		}
	}

	return map[string]interface{}{
		"interval_jobs": intervalJobs,
		"cron_jobs":     cronJobs,
		"name":          s.name,
	}
}
