package framework

import (
	"context"
)

// DeliverySource 投递来源接口（适配不同传输）
type DeliverySource interface {
	// Consume 取下一条投递（阻塞，直到取到投递、超时返回 nil 或 ctx 取消）
	Consume(ctx context.Context) (*Delivery, error)
}

// Proc 业务处理函数类型
type Proc func(ctx context.Context, d *Delivery) *Result

// Logger 日志接口
type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Infof(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
	Errorf(ctx context.Context, format string, args ...interface{})
}
