package jobmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/framework"
	"github.com/jacobdh/eventmq/pkg/config"
	"github.com/jacobdh/eventmq/pkg/errorutil"
	"github.com/jacobdh/eventmq/pkg/infra/mysql"
	"github.com/jacobdh/eventmq/pkg/logger"
)

// Service JobManager 服务：监听 REQUEST，执行注册的任务
type Service struct {
	ctx        context.Context
	cfg        *config.Config
	name       string
	registry   *Registry
	dao        *mysql.ExecutionDAO // 可选，nil 时不记录执行历史
	source     *ListenerSource
	subscriber *framework.Subscriber
	processor  *framework.Processor
	inputChan  chan *framework.Delivery
	closing    *atomic.Bool
	shutdownCh chan struct{}
	logger     logger.Logger
}

// NewService 创建 JobManager 服务
func NewService(cfg *config.Config, reg *Registry, dao *mysql.ExecutionDAO, log logger.Logger) (*Service, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}

	ctx := context.Background()

	// 设备名：NAME:uuid
	name := uuid.NewString()
	if cfg.App.Name != "" {
		name = cfg.App.Name + ":" + name
	}

	s := &Service{
		ctx:        ctx,
		cfg:        cfg,
		name:       name,
		registry:   reg,
		dao:        dao,
		inputChan:  make(chan *framework.Delivery, cfg.JobManager.BufferSize),
		closing:    atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		logger:     log,
	}

	return s, nil
}

// Name 返回实例名
func (s *Service) Name() string {
	return s.name
}

// Start 启动服务（阻塞直到 Shutdown）
func (s *Service) Start() error {
	s.logger.Infof(s.ctx, "[JobManager] %s starting, targets: %v", s.name, s.registry.Targets())

	// 1. 监听
	ln, err := emqp.Listen(s.cfg.JobManager.ListenAddr)
	if err != nil {
		return fmt.Errorf("jobmanager listen failed: %w", err)
	}

	s.source = NewListenerSource(ln,
		s.cfg.JobManager.BufferSize,
		s.cfg.JobManager.Heartbeat,
		s.cfg.JobManager.HeartbeatTTL,
		s.Shutdown,
		s.logger,
	)
	go s.source.Run(s.ctx)

	// 2. 启动 Processor
	procCfg := &framework.ProcessorConfig{
		Concurrency: s.cfg.JobManager.ConcurrentJobs,
		BufferSize:  s.cfg.JobManager.BufferSize,
		Timeout:     s.cfg.JobManager.JobTimeout,
	}
	s.processor = framework.NewProcessor(procCfg, s.process, s.logger)
	s.processor.Start(s.ctx, s.inputChan)

	// 3. 启动 Subscriber
	subCfg := &framework.SubscriberConfig{
		Concurrency:  1,
		ErrorBackoff: s.cfg.JobManager.ErrorBackoff,
	}
	s.subscriber = framework.NewSubscriber(subCfg, s.source, s.logger)
	s.subscriber.Start(s.ctx, s.inputChan)

	s.logger.Infof(s.ctx, "[JobManager] %s listening on %s", s.name, ln.Addr())

	// 4. 阻塞，等待关闭指令
	<-s.shutdownCh
	return nil
}

// Shutdown 优雅退出（停止接收 → 排空 → 退出）
func (s *Service) Shutdown() {
	if !s.closing.CAS(false, true) {
		return
	}

	s.logger.Infof(s.ctx, "[JobManager] %s began to close", s.name)

	// 1. 停止接收新投递（向对端 KBYE）
	if s.source != nil {
		s.source.Close()
	}

	// 2. 等待 Subscriber 退出
	if s.subscriber != nil {
		s.subscriber.Stop()
		s.subscriber.Wait()
	}

	// 3. Processor 进入 Drain 模式并等待
	if s.processor != nil {
		s.processor.SignalShutdown()
		s.processor.Wait()
	}

	close(s.shutdownCh)
	s.logger.Infof(s.ctx, "[JobManager] %s shutdown complete", s.name)
}

// replyBody REPLY 消息载荷
type replyBody struct {
	Status string      `json:"status"` // success/failed
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// process 执行单条投递（注入 Processor 的业务处理函数）
func (s *Service) process(ctx context.Context, d *framework.Delivery) *framework.Result {
	startTime := time.Now()

	result, err := s.execute(ctx, d)
	duration := time.Since(startTime)

	// 记录执行历史
	s.record(d, err, duration)

	// 按需回复
	if d.Headers.ReplyRequested && d.ReplyTo != nil {
		body := replyBody{Status: "success", Result: result}
		if err != nil {
			body = replyBody{Status: "failed", Error: err.Error()}
		}
		payload, _ := json.Marshal(body)
		reply := emqp.NewMessage(emqp.CmdReply, d.ID, string(payload))
		if sendErr := d.ReplyTo.Send(reply); sendErr != nil {
			s.logger.Warnf(ctx, "[JobManager] Failed to reply %s: %v", d.ID, sendErr)
		}
	}

	if err != nil {
		action := framework.ActionDiscard
		if errorutil.IsRetryable(err) {
			action = framework.ActionRequeue
		}
		return &framework.Result{Action: action, Err: err}
	}

	return &framework.Result{Action: framework.ActionDone}
}

// outcome 处理协程的执行结果
type outcome struct {
	result interface{}
	err    error
}

// execute 解析目标并调用处理函数（捕获 panic）
// 超时后放弃等待，处理协程的结果经缓冲通道丢弃，不回写返回值
func (s *Service) execute(ctx context.Context, d *framework.Delivery) (interface{}, error) {
	handler, resolveErr := s.registry.Resolve(d.Request.Target())
	if resolveErr != nil {
		// 未注册的目标不可重试
		return nil, errorutil.NonRetriable(resolveErr.Error())
	}

	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: errorutil.NonRetriableWithDetails("handler panic", fmt.Sprintf("%v", r))}
			}
			done <- out
		}()
		out.result, out.err = handler(ctx, d.Request)
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, errorutil.Timeout("job timed out", d.Request.Target())
	}
}

// record 写入执行历史（未配置 MySQL 时跳过）
func (s *Service) record(d *framework.Delivery, execErr error, duration time.Duration) {
	if s.dao == nil {
		return
	}

	status := mysql.StatusSuccess
	errMsg := ""
	if execErr != nil {
		status = mysql.StatusFailed
		errMsg = execErr.Error()
		if errorutil.IsTimeout(execErr) {
			status = mysql.StatusTimeout
		}
	}

	exec := &mysql.JobExecution{
		MsgID:      d.ID,
		Queue:      d.Queue,
		Path:       d.Request.Path,
		Callable:   d.Request.Callable,
		Status:     status,
		Error:      errMsg,
		DurationMs: duration.Milliseconds(),
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.dao.Record(recordCtx, exec); err != nil {
		s.logger.Warnf(s.ctx, "[JobManager] Failed to record execution %s: %v", d.ID, err)
	}
}
