package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobdh/eventmq/internal/emqp"
	"github.com/jacobdh/eventmq/internal/job"
)

// testPeer 建立一对已连接的客户端/服务端连接
func testPeer(t *testing.T) (*emqp.Conn, *emqp.Conn) {
	t.Helper()

	ln, err := emqp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *emqp.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	clientConn, err := emqp.Dial(ln.Addr(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-accepted
	t.Cleanup(func() { serverConn.Close() })

	return clientConn, serverConn
}

func TestSendRequest(t *testing.T) {
	clientConn, serverConn := testPeer(t)

	req := job.NewRequest("eventmq.scheduler", "test_job")
	msgid, err := SendRequest(clientConn, req, RequestOptions{
		ReplyRequested: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, msgid)

	msg, err := serverConn.RecvTimeout(2 * time.Second)
	require.NoError(t, err)

	assert.Equal(t, emqp.CmdRequest, msg.Command)
	assert.Equal(t, msgid, msg.ID)
	assert.Equal(t, emqp.DefaultQueue, msg.Frame(0))

	headers, err := emqp.ParseHeaders(msg.Frame(1))
	require.NoError(t, err)
	assert.False(t, headers.Guarantee)
	assert.True(t, headers.ReplyRequested)

	parsed, err := job.ParsePayload(msg.Frame(2))
	require.NoError(t, err)
	assert.Equal(t, "eventmq.scheduler.test_job", parsed.Target())
}

func TestSendRequestGuaranteeAck(t *testing.T) {
	clientConn, serverConn := testPeer(t)

	// 对端：先回一条无关心跳，再回 ACK
	done := make(chan error, 1)
	go func() {
		msg, err := serverConn.RecvTimeout(2 * time.Second)
		if err != nil {
			done <- err
			return
		}
		if err := serverConn.Send(emqp.NewMessage(emqp.CmdHeartbeat, "0")); err != nil {
			done <- err
			return
		}
		done <- serverConn.Send(emqp.NewMessage(emqp.CmdAck, msg.ID))
	}()

	req := job.NewRequest("eventmq.scheduler", "test_job")
	msgid, err := SendRequest(clientConn, req, RequestOptions{
		Queue:      "jobs",
		Guarantee:  true,
		AckTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.NotEmpty(t, msgid)
	require.NoError(t, <-done)
}

func TestSendRequestGuaranteeTimeout(t *testing.T) {
	clientConn, serverConn := testPeer(t)
	_ = serverConn

	req := job.NewRequest("eventmq.scheduler", "test_job")
	_, err := SendRequest(clientConn, req, RequestOptions{
		Guarantee:  true,
		AckTimeout: 100 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestSendScheduleInterval(t *testing.T) {
	clientConn, serverConn := testPeer(t)

	req := job.NewRequest("eventmq.scheduler", "test_job")
	msgid, err := SendSchedule(clientConn, req, ScheduleOptions{
		Queue:    "jobs",
		Interval: 30 * time.Second,
		RunCount: 3,
	})
	require.NoError(t, err)

	msg, err := serverConn.RecvTimeout(2 * time.Second)
	require.NoError(t, err)

	// 5 帧布局：[queue, headers, interval, payload, cron]
	assert.Equal(t, emqp.CmdSchedule, msg.Command)
	assert.Equal(t, msgid, msg.ID)
	require.Len(t, msg.Frames, 5)
	assert.Equal(t, "jobs", msg.Frame(0))
	assert.Equal(t, "30", msg.Frame(2))
	assert.Equal(t, "", msg.Frame(4))

	headers, err := emqp.ParseHeaders(msg.Frame(1))
	require.NoError(t, err)
	assert.Equal(t, 3, headers.RunCount)
}

func TestSendUnscheduleCron(t *testing.T) {
	clientConn, serverConn := testPeer(t)

	req := job.NewRequest("eventmq.scheduler", "test_job")
	_, err := SendUnschedule(clientConn, req, ScheduleOptions{
		Cron:    "*/5 * * * *",
		NoHaste: true,
	})
	require.NoError(t, err)

	msg, err := serverConn.RecvTimeout(2 * time.Second)
	require.NoError(t, err)

	assert.Equal(t, emqp.CmdUnschedule, msg.Command)
	require.Len(t, msg.Frames, 5)
	// cron 任务 interval 固定为 -1
	assert.Equal(t, "-1", msg.Frame(2))
	assert.Equal(t, "*/5 * * * *", msg.Frame(4))

	headers, err := emqp.ParseHeaders(msg.Frame(1))
	require.NoError(t, err)
	assert.True(t, headers.NoHaste)
}

func TestSendScheduleRequiresTiming(t *testing.T) {
	clientConn, _ := testPeer(t)

	req := job.NewRequest("eventmq.scheduler", "test_job")
	_, err := SendSchedule(clientConn, req, ScheduleOptions{Queue: "jobs"})
	assert.Error(t, err)
}
