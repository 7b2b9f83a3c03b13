package emqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncodeDecode(t *testing.T) {
	msg := NewMessage(CmdRequest, "default", "guarantee,reply-requested", `["run",{}]`)
	require.NotEmpty(t, msg.ID)

	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)

	assert.Equal(t, CmdRequest, decoded.Command)
	assert.Equal(t, msg.ID, decoded.ID)
	// 帧顺序保持
	assert.Equal(t, []string{"default", "guarantee,reply-requested", `["run",{}]`}, decoded.Frames)
}

func TestMessageEncodeEmptyCommand(t *testing.T) {
	msg := &Message{}
	_, err := msg.Encode()
	assert.Error(t, err)
}

func TestMessageEncodeGeneratesID(t *testing.T) {
	msg := &Message{Command: CmdReady}
	_, err := msg.Encode()
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
}

func TestDecodeMessageErrors(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"NotJSON", "REQUEST default"},
		{"ShortMessage", `["eMQP/1.0","REQUEST"]`},
		{"WrongProtocol", `["eMQP/9.9","REQUEST","id-1"]`},
		{"EmptyCommand", `["eMQP/1.0","","id-1"]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tc.line))
			assert.Error(t, err)
		})
	}
}

func TestMessageFrameOutOfRange(t *testing.T) {
	msg := NewMessage(CmdAck, "id-1")
	assert.Equal(t, "id-1", msg.Frame(0))
	assert.Equal(t, "", msg.Frame(1))
	assert.Equal(t, "", msg.Frame(-1))
}
