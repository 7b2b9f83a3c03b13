package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/job"
)

// DefaultAckTimeout guarantee 投递确认的缺省等待时间
const DefaultAckTimeout = 5 * time.Second

// RequestOptions REQUEST 发送选项
type RequestOptions struct {
	Queue          string        // 目标队列，空则使用缺省队列
	Guarantee      bool          // 要求投递确认，等待 ACK
	ReplyRequested bool          // 要求结果回复
	Timeout        time.Duration // 任务执行超时（写入消息头）
	AckTimeout     time.Duration // ACK 等待超时
}

// ScheduleOptions SCHEDULE 发送选项
type ScheduleOptions struct {
	Queue    string        // 目标队列
	Interval time.Duration // 执行间隔，<=0 时必须提供 Cron
	Cron     string        // 标准 5 段 cron 表达式
	RunCount int           // 执行次数，0 表示无限
	NoHaste  bool          // 注册时不立即执行一次
}

// SendRequest 发送任务下发消息，返回消息 ID
// Guarantee 置位时阻塞等待对端 ACK，超时报错
func SendRequest(conn *emqp.Conn, req *job.Request, opts RequestOptions) (string, error) {
	queue := opts.Queue
	if queue == "" {
		queue = emqp.DefaultQueue
	}

	headers := emqp.NewHeaders()
	headers.Guarantee = opts.Guarantee
	headers.ReplyRequested = opts.ReplyRequested
	headers.Timeout = opts.Timeout

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	msg := emqp.NewMessage(emqp.CmdRequest, queue, headers.String(), string(payload))
	if err := conn.Send(msg); err != nil {
		return "", err
	}

	// guarantee 语义：等待对端确认收到
	if opts.Guarantee {
		ackTimeout := opts.AckTimeout
		if ackTimeout <= 0 {
			ackTimeout = DefaultAckTimeout
		}
		if err := waitAck(conn, msg.ID, ackTimeout); err != nil {
			return msg.ID, err
		}
	}

	return msg.ID, nil
}

// waitAck 等待指定消息的 ACK，回应对端心跳，跳过其余无关消息
func waitAck(conn *emqp.Conn, msgid string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return fmt.Errorf("ack timeout for message %s", msgid)
		}

		reply, err := conn.RecvTimeout(remain)
		if err != nil {
			return fmt.Errorf("wait ack failed: %w", err)
		}

		switch {
		case reply.Command == emqp.CmdAck && reply.Frame(0) == msgid:
			return nil
		case reply.Command == emqp.CmdHeartbeat:
			// 回心跳，对端据此判定本端存活
			_ = conn.Send(emqp.NewMessage(emqp.CmdHeartbeat, strconv.FormatInt(time.Now().Unix(), 10)))
		}
	}
}

// SendSchedule 发送定时任务注册消息，返回消息 ID
func SendSchedule(conn *emqp.Conn, req *job.Request, opts ScheduleOptions) (string, error) {
	msg, err := buildScheduleMessage(emqp.CmdSchedule, req, opts)
	if err != nil {
		return "", err
	}
	if err := conn.Send(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// SendUnschedule 发送定时任务取消消息，返回消息 ID
// 帧布局与 SCHEDULE 一致，调度端按同样方式计算哈希定位任务
func SendUnschedule(conn *emqp.Conn, req *job.Request, opts ScheduleOptions) (string, error) {
	msg, err := buildScheduleMessage(emqp.CmdUnschedule, req, opts)
	if err != nil {
		return "", err
	}
	if err := conn.Send(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// buildScheduleMessage 构造 5 帧调度消息：[queue, headers, interval, payload, cron]
func buildScheduleMessage(command string, req *job.Request, opts ScheduleOptions) (*emqp.Message, error) {
	if opts.Interval <= 0 && opts.Cron == "" {
		return nil, fmt.Errorf("either interval or cron is required")
	}

	queue := opts.Queue
	if queue == "" {
		queue = emqp.DefaultQueue
	}

	headers := emqp.NewHeaders()
	headers.NoHaste = opts.NoHaste
	if opts.RunCount > 0 {
		headers.RunCount = opts.RunCount
	}

	// interval 为 -1 表示 cron 任务
	intervalSecs := int64(-1)
	if opts.Interval > 0 {
		intervalSecs = int64(opts.Interval.Seconds())
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	return emqp.NewMessage(command,
		queue,
		headers.String(),
		strconv.FormatInt(intervalSecs, 10),
		string(payload),
		opts.Cron,
	), nil
}
