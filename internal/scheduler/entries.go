package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/job"
)

// IntervalIter 固定间隔迭代器：首次到期为 start+interval
type IntervalIter struct {
	next     time.Time
	interval time.Duration
}

// NewIntervalIter 创建间隔迭代器
func NewIntervalIter(start time.Time, interval time.Duration) *IntervalIter {
	return &IntervalIter{
		next:     start.Add(interval),
		interval: interval,
	}
}

// Next 返回下一个到期时间并前进
func (it *IntervalIter) Next() time.Time {
	n := it.next
	it.next = it.next.Add(it.interval)
	return n
}

// scheduleMessage SCHEDULE/UNSCHEDULE 的 5 帧布局
// [queue, headers, interval, payload, cron]
type scheduleMessage struct {
	Queue      string
	HeadersRaw string
	Headers    emqp.Headers
	Interval   int64 // 秒，-1 表示 cron 任务
	Payload    string
	Cron       string
	Request    *job.Request
}

// parseScheduleFrames 解析调度消息帧
func parseScheduleFrames(frames []string) (*scheduleMessage, error) {
	if len(frames) < 5 {
		return nil, fmt.Errorf("schedule message needs 5 frames, got %d", len(frames))
	}

	headers, err := emqp.ParseHeaders(frames[1])
	if err != nil {
		return nil, err
	}

	interval, err := strconv.ParseInt(frames[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q: %w", frames[2], err)
	}

	req, err := job.ParsePayload(frames[3])
	if err != nil {
		return nil, fmt.Errorf("invalid schedule payload: %w", err)
	}

	m := &scheduleMessage{
		Queue:      frames[0],
		HeadersRaw: frames[1],
		Headers:    headers,
		Interval:   interval,
		Payload:    frames[3],
		Cron:       frames[4],
		Request:    req,
	}

	// 负间隔必须携带 cron 表达式
	if m.Interval < 0 && m.Cron == "" {
		return nil, fmt.Errorf("negative interval requires a cron spec")
	}
	if m.Queue == "" {
		m.Queue = emqp.DefaultQueue
	}

	return m, nil
}

// encode 序列化为持久化格式（与线上帧一致的 5 元素 JSON 数组）
func (m *scheduleMessage) encode() ([]byte, error) {
	return json.Marshal([]string{
		m.Queue,
		m.Headers.String(),
		strconv.FormatInt(m.Interval, 10),
		m.Payload,
		m.Cron,
	})
}

// decodeScheduleMessage 从持久化格式还原
func decodeScheduleMessage(raw []byte) (*scheduleMessage, error) {
	var frames []string
	if err := json.Unmarshal(raw, &frames); err != nil {
		return nil, fmt.Errorf("malformed stored schedule: %w", err)
	}
	return parseScheduleFrames(frames)
}

// hash 调度唯一标识
func (m *scheduleMessage) hash() (string, error) {
	return m.Request.ScheduleHash()
}

// cronEntry cron 任务表项
type cronEntry struct {
	next     time.Time
	schedule cron.Schedule
	msg      *scheduleMessage
}

// intervalEntry 间隔任务表项
type intervalEntry struct {
	next     time.Time
	iter     *IntervalIter
	msg      *scheduleMessage
	runCount int // 剩余执行次数，-1 表示无限
}

// newCronEntry 创建 cron 表项
func newCronEntry(m *scheduleMessage, now time.Time) (*cronEntry, error) {
	schedule, err := cron.ParseStandard(m.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", m.Cron, err)
	}
	return &cronEntry{
		next:     schedule.Next(now),
		schedule: schedule,
		msg:      m,
	}, nil
}

// newIntervalEntry 创建间隔表项
func newIntervalEntry(m *scheduleMessage, now time.Time) *intervalEntry {
	iter := NewIntervalIter(now, time.Duration(m.Interval)*time.Second)
	return &intervalEntry{
		next:     iter.Next(),
		iter:     iter,
		msg:      m,
		runCount: m.Headers.RunCount,
	}
}
