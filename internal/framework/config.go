package framework

import "time"

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	Concurrency  int           // 并发拉取数
	ErrorBackoff time.Duration // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Concurrency int           // 并发处理数
	BufferSize  int           // inputChan 缓冲区大小
	Timeout     time.Duration // 单个任务缺省超时（消息头未指定时生效）
}
