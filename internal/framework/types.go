package framework

import (
	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/job"
)

// Delivery 框架内部流转的一次任务投递
type Delivery struct {
	ID       string       // 消息 ID
	Queue    string       // 队列名称
	Headers  emqp.Headers // 请求消息头
	Request  *job.Request // 任务描述
	ReplyTo  *emqp.Conn   // 回复通道（对端已断开时为 nil）
	Attempts int          // 已执行次数
}

// Action 处理结果动作
type Action int

const (
	// ActionDone 处理成功
	ActionDone Action = iota
	// ActionRequeue 可重试失败，框架内重试一次
	ActionRequeue
	// ActionDiscard 不可重试失败，丢弃
	ActionDiscard
)

// Result 处理结果
type Result struct {
	Action Action // 处理动作
	Data   []byte // 响应数据（回复/日志用，可选）
	Err    error  // 错误信息
}
