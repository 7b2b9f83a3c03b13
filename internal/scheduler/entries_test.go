package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/job"
)

func TestIntervalIterFirstDue(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	it := NewIntervalIter(start, 30*time.Second)

	// 首次到期为 start+interval，而非 start
	assert.Equal(t, start.Add(30*time.Second), it.Next())
	assert.Equal(t, start.Add(60*time.Second), it.Next())
}

func scheduleFrames(t *testing.T, queue, headers string, interval, cron string) []string {
	t.Helper()
	payload, err := json.Marshal(job.NewRequest("eventmq.scheduler", "test_job"))
	require.NoError(t, err)
	return []string{queue, headers, interval, string(payload), cron}
}

func TestParseScheduleFramesInterval(t *testing.T) {
	m, err := parseScheduleFrames(scheduleFrames(t, "", "run_count:3", "30", ""))
	require.NoError(t, err)

	assert.Equal(t, emqp.DefaultQueue, m.Queue)
	assert.Equal(t, int64(30), m.Interval)
	assert.Equal(t, 3, m.Headers.RunCount)
	assert.Equal(t, "", m.Cron)
	assert.Equal(t, "eventmq.scheduler.test_job", m.Request.Target())
}

func TestParseScheduleFramesCron(t *testing.T) {
	m, err := parseScheduleFrames(scheduleFrames(t, "jobs", "", "-1", "*/5 * * * *"))
	require.NoError(t, err)

	assert.Equal(t, "jobs", m.Queue)
	assert.Equal(t, int64(-1), m.Interval)
	assert.Equal(t, "*/5 * * * *", m.Cron)
}

func TestParseScheduleFramesErrors(t *testing.T) {
	cases := []struct {
		name   string
		frames []string
	}{
		{"TooFewFrames", []string{"q", "", "30"}},
		{"BadInterval", scheduleFrames(t, "q", "", "soon", "")},
		{"NegativeIntervalNoCron", scheduleFrames(t, "q", "", "-1", "")},
		{"BadHeaders", scheduleFrames(t, "q", "timeout:x", "30", "")},
		{"BadPayload", []string{"q", "", "30", "not json", ""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseScheduleFrames(tc.frames)
			assert.Error(t, err)
		})
	}
}

func TestScheduleMessageEncodeDecode(t *testing.T) {
	m, err := parseScheduleFrames(scheduleFrames(t, "jobs", "nohaste,run_count:2", "45", ""))
	require.NoError(t, err)

	raw, err := m.encode()
	require.NoError(t, err)

	decoded, err := decodeScheduleMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, m.Queue, decoded.Queue)
	assert.Equal(t, m.Interval, decoded.Interval)
	assert.Equal(t, m.Headers, decoded.Headers)
	assert.Equal(t, m.Cron, decoded.Cron)

	// 哈希在持久化往返后保持稳定
	hashA, err := m.hash()
	require.NoError(t, err)
	hashB, err := decoded.hash()
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}

func TestNewCronEntryInvalidSpec(t *testing.T) {
	m, err := parseScheduleFrames(scheduleFrames(t, "q", "", "-1", "not a cron"))
	require.NoError(t, err)

	_, err = newCronEntry(m, time.Now())
	assert.Error(t, err)
}
