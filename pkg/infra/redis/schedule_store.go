package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 存储键
const (
	// ScheduleListKey 已注册调度哈希列表（历史原因：cron 任务也记录在此）
	ScheduleListKey = "interval_jobs"
	// ScheduleEventChannel 调度变更通知频道
	ScheduleEventChannel = "schedule_events"
)

// ScheduleStore 调度持久化存储
type ScheduleStore struct {
	client *redis.Client
}

// NewScheduleStore 创建存储实例
func NewScheduleStore(addr, password string, db int) (*ScheduleStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &ScheduleStore{
		client: client,
	}, nil
}

// StoredSchedule 一条持久化的调度记录
type StoredSchedule struct {
	Hash string // 调度哈希
	Raw  []byte // 原始 SCHEDULE 消息帧（JSON）
}

// ScheduleEvent 调度变更通知消息
type ScheduleEvent struct {
	Action    string `json:"action"` // scheduled/unscheduled/cancelled
	Hash      string `json:"hash"`
	Queue     string `json:"queue"`
	Timestamp int64  `json:"timestamp"`
}

// LoadAll 加载全部调度记录
// 列表中存在但值缺失的哈希跳过并返回在 missing 中，由调用方记日志
func (s *ScheduleStore) LoadAll(ctx context.Context) (schedules []StoredSchedule, missing []string, err error) {
	hashes, err := s.client.LRange(ctx, ScheduleListKey, 0, -1).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load schedule list: %w", err)
	}

	for _, hash := range hashes {
		raw, err := s.client.Get(ctx, hash).Bytes()
		if err == redis.Nil {
			missing = append(missing, hash)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load schedule %s: %w", hash, err)
		}
		schedules = append(schedules, StoredSchedule{Hash: hash, Raw: raw})
	}

	return schedules, missing, nil
}

// Save 保存调度记录（列表去重 + 写值）
func (s *ScheduleStore) Save(ctx context.Context, hash string, raw []byte) error {
	hashes, err := s.client.LRange(ctx, ScheduleListKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read schedule list: %w", err)
	}

	found := false
	for _, h := range hashes {
		if h == hash {
			found = true
			break
		}
	}

	pipe := s.client.Pipeline()
	if !found {
		pipe.LPush(ctx, ScheduleListKey, hash)
	}
	pipe.Set(ctx, hash, raw, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", hash, err)
	}

	return nil
}

// Get 读取单条调度记录，不存在返回 nil
func (s *ScheduleStore) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := s.client.Get(ctx, hash).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", hash, err)
	}
	return raw, nil
}

// Delete 删除调度记录（值 + 列表项）
func (s *ScheduleStore) Delete(ctx context.Context, hash string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, hash)
	pipe.LRem(ctx, ScheduleListKey, 0, hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", hash, err)
	}
	return nil
}

// PublishEvent 发布调度变更通知
func (s *ScheduleStore) PublishEvent(ctx context.Context, event *ScheduleEvent) error {
	msgJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule event: %w", err)
	}

	if err := s.client.Publish(ctx, ScheduleEventChannel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish schedule event: %w", err)
	}

	return nil
}

// Subscribe 订阅调度变更频道（用于测试）
func (s *ScheduleStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, ScheduleEventChannel)
}

// Close 关闭 Redis 连接
func (s *ScheduleStore) Close() error {
	return s.client.Close()
}
