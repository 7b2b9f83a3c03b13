package emqp

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeaterTouchExpired(t *testing.T) {
	hb := NewHeartbeater(time.Second, 50*time.Millisecond)

	hb.Touch()
	assert.False(t, hb.Expired())

	time.Sleep(100 * time.Millisecond)
	assert.True(t, hb.Expired(), "100ms of silence should expire a 50ms TTL")

	hb.Touch()
	assert.False(t, hb.Expired())
}

func TestHeartbeaterSendHeartbeat(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	clientConn, err := Dial(ln.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-accepted
	defer serverConn.Close()

	hb := NewHeartbeater(time.Second, 10*time.Second)
	require.NoError(t, hb.SendHeartbeat(clientConn))

	msg, err := serverConn.RecvTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, CmdHeartbeat, msg.Command)

	// 心跳帧为 unix 时间戳
	ts, err := strconv.ParseInt(msg.Frame(0), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), ts, 5)
	assert.False(t, hb.LastSent().IsZero())
}
