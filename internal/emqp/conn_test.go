package emqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnSendRecv(t *testing.T) {
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

	msg := NewMessage(CmdRequest, "default", "guarantee", `["run",{}]`)
	require.NoError(t, clientConn.Send(msg))

	got, err := serverConn.RecvTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Frames, got.Frames)

	sent, received := clientConn.Stats()
	assert.Equal(t, int64(1), sent)
	assert.Equal(t, int64(0), received)

	sent, received = serverConn.Stats()
	assert.Equal(t, int64(0), sent)
	assert.Equal(t, int64(1), received)
}

func TestConnRecvTimeout(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go ln.Accept()

	conn, err := Dial(ln.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.RecvTimeout(50 * time.Millisecond)
	assert.Error(t, err)
}

func TestConnCloseIdempotent(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go ln.Accept()

	conn, err := Dial(ln.Addr(), 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestDialFailure(t *testing.T) {
	// 无人监听的端口
	_, err := Dial("127.0.0.1:1", 100*time.Millisecond)
	assert.Error(t, err)
}
