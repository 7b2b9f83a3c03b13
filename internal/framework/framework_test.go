package framework

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/job"
)

// nopLogger 测试用空日志
type nopLogger struct{}

func (nopLogger) Debugf(ctx context.Context, format string, args ...interface{}) {}
func (nopLogger) Infof(ctx context.Context, format string, args ...interface{})  {}
func (nopLogger) Warnf(ctx context.Context, format string, args ...interface{})  {}
func (nopLogger) Errorf(ctx context.Context, format string, args ...interface{}) {}

// chanSource 测试用投递来源：从通道取投递，通道关闭后报错
type chanSource struct {
	deliveries chan *Delivery
	errs       chan error
}

func newChanSource(buf int) *chanSource {
	return &chanSource{
		deliveries: make(chan *Delivery, buf),
		errs:       make(chan error, buf),
	}
}

func (s *chanSource) Consume(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errs:
		return nil, err
	case d := <-s.deliveries:
		return d, nil
	}
}

func testDelivery(id string) *Delivery {
	return &Delivery{
		ID:      id,
		Queue:   emqp.DefaultQueue,
		Headers: emqp.NewHeaders(),
		Request: job.NewRequest("eventmq.scheduler", "test_job"),
	}
}

func TestSubscriberForwardsDeliveries(t *testing.T) {
	source := newChanSource(4)
	sub := NewSubscriber(&SubscriberConfig{Concurrency: 1, ErrorBackoff: 10 * time.Millisecond}, source, nopLogger{})

	inputChan := make(chan *Delivery, 4)
	require.NoError(t, sub.Start(context.Background(), inputChan))

	source.deliveries <- testDelivery("d-1")
	source.deliveries <- testDelivery("d-2")

	first := <-inputChan
	second := <-inputChan
	assert.Equal(t, "d-1", first.ID)
	assert.Equal(t, "d-2", second.ID)

	sub.Stop()
	sub.Wait()
}

func TestSubscriberRetriesAfterConsumeError(t *testing.T) {
	source := newChanSource(4)
	sub := NewSubscriber(&SubscriberConfig{Concurrency: 1, ErrorBackoff: time.Millisecond}, source, nopLogger{})

	inputChan := make(chan *Delivery, 4)
	require.NoError(t, sub.Start(context.Background(), inputChan))

	// 抖动后仍应继续拉取
	source.errs <- errors.New("transport hiccup")
	source.deliveries <- testDelivery("d-1")

	select {
	case d := <-inputChan:
		assert.Equal(t, "d-1", d.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery not forwarded after consume error")
	}

	sub.Stop()
	sub.Wait()
}

func TestProcessorRetriesRequeueOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	proc := func(ctx context.Context, d *Delivery) *Result {
		mu.Lock()
		calls++
		mu.Unlock()
		return &Result{Action: ActionRequeue, Err: errors.New("flaky")}
	}

	p := NewProcessor(&ProcessorConfig{Concurrency: 1, BufferSize: 1, Timeout: time.Second}, proc, nopLogger{})
	inputChan := make(chan *Delivery, 1)
	require.NoError(t, p.Start(context.Background(), inputChan))

	d := testDelivery("d-1")
	inputChan <- d

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 2*time.Second, 10*time.Millisecond, "requeue should retry exactly once")

	p.SignalShutdown()
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, d.Attempts)
}

func TestProcessorDrainsOnShutdown(t *testing.T) {
	var mu sync.Mutex
	processed := make(map[string]bool)

	proc := func(ctx context.Context, d *Delivery) *Result {
		mu.Lock()
		processed[d.ID] = true
		mu.Unlock()
		return &Result{Action: ActionDone}
	}

	p := NewProcessor(&ProcessorConfig{Concurrency: 2, BufferSize: 8, Timeout: time.Second}, proc, nopLogger{})
	inputChan := make(chan *Delivery, 8)
	for _, id := range []string{"d-1", "d-2", "d-3", "d-4"} {
		inputChan <- testDelivery(id)
	}

	require.NoError(t, p.Start(context.Background(), inputChan))
	p.SignalShutdown()
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, processed, 4, "all buffered deliveries should be drained before exit")
}

func TestProcessorHeaderTimeoutWins(t *testing.T) {
	timeoutCh := make(chan time.Time, 1)

	proc := func(ctx context.Context, d *Delivery) *Result {
		deadline, ok := ctx.Deadline()
		if ok {
			timeoutCh <- deadline
		}
		return &Result{Action: ActionDone}
	}

	p := NewProcessor(&ProcessorConfig{Concurrency: 1, BufferSize: 1, Timeout: time.Hour}, proc, nopLogger{})
	inputChan := make(chan *Delivery, 1)
	require.NoError(t, p.Start(context.Background(), inputChan))

	d := testDelivery("d-1")
	d.Headers.Timeout = 3 * time.Second
	inputChan <- d

	select {
	case deadline := <-timeoutCh:
		// 消息头超时优先于配置缺省
		assert.WithinDuration(t, time.Now().Add(3*time.Second), deadline, time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery not processed")
	}

	p.SignalShutdown()
	p.Wait()
}
