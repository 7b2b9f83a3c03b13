package emqp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Headers REQUEST/SCHEDULE 消息头（逗号分隔的标记串）
// 示例："guarantee,reply-requested,timeout:3,run_count:5"
type Headers struct {
	Guarantee      bool          // 要求投递确认（ACK）
	ReplyRequested bool          // 要求结果回复（REPLY）
	NoHaste        bool          // SCHEDULE 专用：注册时不立即执行一次
	Timeout        time.Duration // 任务执行超时，0 表示使用服务端默认值
	RunCount       int           // 剩余执行次数，-1 表示无限
}

// NewHeaders 创建缺省消息头（run_count 无限）
func NewHeaders() Headers {
	return Headers{RunCount: InfiniteRunCount}
}

// ParseHeaders 解析消息头字符串
func ParseHeaders(s string) (Headers, error) {
	h := NewHeaders()
	if s == "" {
		return h, nil
	}

	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		switch {
		case token == "":
			continue
		case token == "guarantee":
			h.Guarantee = true
		case token == "reply-requested":
			h.ReplyRequested = true
		case token == "nohaste":
			h.NoHaste = true
		case strings.HasPrefix(token, "timeout:"):
			secs, err := strconv.Atoi(strings.TrimPrefix(token, "timeout:"))
			if err != nil {
				return h, fmt.Errorf("invalid timeout header %q: %w", token, err)
			}
			h.Timeout = time.Duration(secs) * time.Second
		case strings.HasPrefix(token, "run_count:"):
			n, err := strconv.Atoi(strings.TrimPrefix(token, "run_count:"))
			if err != nil {
				return h, fmt.Errorf("invalid run_count header %q: %w", token, err)
			}
			h.RunCount = n
		default:
			// 未知标记忽略，保持前向兼容
		}
	}

	return h, nil
}

// String 序列化为消息头字符串
func (h Headers) String() string {
	tokens := make([]string, 0, 5)
	if h.Guarantee {
		tokens = append(tokens, "guarantee")
	}
	if h.ReplyRequested {
		tokens = append(tokens, "reply-requested")
	}
	if h.NoHaste {
		tokens = append(tokens, "nohaste")
	}
	if h.Timeout > 0 {
		tokens = append(tokens, fmt.Sprintf("timeout:%d", int(h.Timeout.Seconds())))
	}
	if h.RunCount != InfiniteRunCount {
		tokens = append(tokens, fmt.Sprintf("run_count:%d", h.RunCount))
	}
	return strings.Join(tokens, ",")
}
