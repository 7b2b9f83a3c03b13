package jobmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jacobdh/eventmq/internal/job"
)

// Handler 任务处理函数
// 返回值会序列化进 REPLY，error 决定成功/失败状态
type Handler func(ctx context.Context, req *job.Request) (interface{}, error)

// Registry 任务注册表：path.callable -> Handler
// Go 无法按字符串动态导入，任务目标必须显式注册
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register 注册任务处理函数
func (r *Registry) Register(path, callable string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[path+"."+callable] = h
}

// Resolve 按路由键查找处理函数
func (r *Registry) Resolve(target string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[target]
	if !ok {
		return nil, fmt.Errorf("no handler registered for %s", target)
	}
	return h, nil
}

// Targets 返回已注册的路由键（字典序）
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]string, 0, len(r.handlers))
	for target := range r.handlers {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// TestJob 内置测试任务
func TestJob(ctx context.Context, req *job.Request) (interface{}, error) {
	fmt.Println("hello!")
	return "hello!", nil
}
