package emqp

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message eMQP 消息
// 线上格式为单行 JSON 字符串数组：[protocol, command, msgid, frame...]
type Message struct {
	Command string   // 命令字
	ID      string   // 消息 ID
	Frames  []string // 命令附带的数据帧
}

// NewMessage 创建消息（自动生成消息 ID）
func NewMessage(command string, frames ...string) *Message {
	return &Message{
		Command: command,
		ID:      uuid.NewString(),
		Frames:  frames,
	}
}

// Frame 获取第 i 个数据帧，越界返回空串
func (m *Message) Frame(i int) string {
	if i < 0 || i >= len(m.Frames) {
		return ""
	}
	return m.Frames[i]
}

// Encode 编码为单行 JSON（不含换行符）
func (m *Message) Encode() ([]byte, error) {
	if m.Command == "" {
		return nil, fmt.Errorf("message command is empty")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	parts := make([]string, 0, 3+len(m.Frames))
	parts = append(parts, Protocol, m.Command, m.ID)
	parts = append(parts, m.Frames...)

	return json.Marshal(parts)
}

// DecodeMessage 解码一行消息
func DecodeMessage(line []byte) (*Message, error) {
	var parts []string
	if err := json.Unmarshal(line, &parts); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	if len(parts) < 3 {
		return nil, fmt.Errorf("short message: %d frames", len(parts))
	}
	if parts[0] != Protocol {
		return nil, fmt.Errorf("unsupported protocol: %q", parts[0])
	}
	if parts[1] == "" {
		return nil, fmt.Errorf("empty command")
	}

	return &Message{
		Command: parts[1],
		ID:      parts[2],
		Frames:  parts[3:],
	}, nil
}
