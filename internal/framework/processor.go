package framework

import (
	"context"
	"sync"
	"time"
)

// Processor 处理器：接收投递，调用业务处理函数
type Processor struct {
	cfg        *ProcessorConfig
	proc       Proc
	logger     Logger
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器
func NewProcessor(cfg *ProcessorConfig, proc Proc, logger Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		proc:       proc,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Delivery) error {
	p.logger.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := i
		p.wg.Add(1)
		go p.loop(ctx, workerID, inputChan)
	}

	return nil
}

// SignalShutdown 通知 Processor 准备退出（进入 Drain 模式）
func (p *Processor) SignalShutdown() {
	p.logger.Infof(context.Background(), "[Processor] Shutdown signal received")
	close(p.shutdownCh)
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers exited")
}

// loop 处理循环（单个 Worker）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Delivery) {
	defer p.wg.Done()
	p.logger.Infof(ctx, "[Processor-%d] Started", workerID)

	for {
		select {
		// A. 正常业务处理
		case d := <-inputChan:
			p.process(ctx, d, workerID)

		// B. Drain 模式：处理完剩余投递再退出
		case <-p.shutdownCh:
			p.logger.Infof(ctx, "[Processor-%d] Entering DRAIN mode", workerID)
			count := 0
			for {
				select {
				case d := <-inputChan:
					p.process(ctx, d, workerID)
					count++
				default:
					p.logger.Infof(ctx, "[Processor-%d] Drained %d deliveries, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 处理单条投递
func (p *Processor) process(ctx context.Context, d *Delivery, workerID int) {
	if d == nil {
		return
	}

	startTime := time.Now()

	// 1. 创建超时控制的 Context（消息头优先，缺省取配置）
	timeout := p.cfg.Timeout
	if d.Headers.Timeout > 0 {
		timeout = d.Headers.Timeout
	}
	procCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 2. 注入元信息到 Context
	procCtx = context.WithValue(procCtx, "worker_id", workerID)
	procCtx = context.WithValue(procCtx, "trace_id", d.ID)

	p.logger.Infof(procCtx, "[Processor-%d] Processing delivery: %s target: %s",
		workerID, d.ID, d.Request.Target())

	// 3. 调用业务处理函数
	d.Attempts++
	resp := p.proc(procCtx, d)

	// 4. 可重试失败原地重试一次
	if resp != nil && resp.Action == ActionRequeue && d.Attempts <= 1 {
		p.logger.Warnf(procCtx, "[Processor-%d] Retrying delivery: %s, error: %v",
			workerID, d.ID, resp.Err)
		d.Attempts++
		resp = p.proc(procCtx, d)
	}

	// 5. 记录处理时长
	duration := time.Since(startTime)
	if resp != nil && resp.Err != nil {
		p.logger.Errorf(procCtx, "[Processor-%d] Delivery failed: %s, action: %d, duration: %v, error: %v",
			workerID, d.ID, resp.Action, duration, resp.Err)
		return
	}
	p.logger.Infof(procCtx, "[Processor-%d] Delivery processed: %s, duration: %v",
		workerID, d.ID, duration)
}
