package job

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RunCommand 任务载荷的命令标签（两元组首元素）
const RunCommand = "run"

// Request 任务调用描述
// 序列化为两元组：["run", {path, callable, args, kwargs, class_args, class_kwargs}]
// 六个键恒定存在，容器缺省为空而非 null
type Request struct {
	Path        string                 // 目标模块路径
	Callable    string                 // 可调用对象名
	Args        []interface{}          // 调用位置参数
	Kwargs      map[string]interface{} // 调用关键字参数
	ClassArgs   []interface{}          // 构造位置参数
	ClassKwargs map[string]interface{} // 构造关键字参数
}

// NewRequest 创建任务描述（容器全部为空）
func NewRequest(path, callable string) *Request {
	return &Request{
		Path:     path,
		Callable: callable,
	}
}

// descriptor 六键映射（容器归一化为非 nil）
func (r *Request) descriptor() map[string]interface{} {
	args := r.Args
	if args == nil {
		args = []interface{}{}
	}
	kwargs := r.Kwargs
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	classArgs := r.ClassArgs
	if classArgs == nil {
		classArgs = []interface{}{}
	}
	classKwargs := r.ClassKwargs
	if classKwargs == nil {
		classKwargs = map[string]interface{}{}
	}

	return map[string]interface{}{
		"path":         r.Path,
		"callable":     r.Callable,
		"args":         args,
		"kwargs":       kwargs,
		"class_args":   classArgs,
		"class_kwargs": classKwargs,
	}
}

// MarshalJSON 实现 json.Marshaler
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{RunCommand, r.descriptor()})
}

// UnmarshalJSON 实现 json.Unmarshaler
func (r *Request) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("malformed job payload: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("job payload must have 2 elements, got %d", len(tuple))
	}

	var tag string
	if err := json.Unmarshal(tuple[0], &tag); err != nil {
		return fmt.Errorf("malformed command tag: %w", err)
	}
	if tag != RunCommand {
		return fmt.Errorf("unknown command tag: %q", tag)
	}

	var desc struct {
		Path        string                 `json:"path"`
		Callable    string                 `json:"callable"`
		Args        []interface{}          `json:"args"`
		Kwargs      map[string]interface{} `json:"kwargs"`
		ClassArgs   []interface{}          `json:"class_args"`
		ClassKwargs map[string]interface{} `json:"class_kwargs"`
	}
	if err := json.Unmarshal(tuple[1], &desc); err != nil {
		return fmt.Errorf("malformed job descriptor: %w", err)
	}

	r.Path = desc.Path
	r.Callable = desc.Callable
	r.Args = desc.Args
	r.Kwargs = desc.Kwargs
	r.ClassArgs = desc.ClassArgs
	r.ClassKwargs = desc.ClassKwargs
	return nil
}

// Target 返回注册表路由键（path.callable）
func (r *Request) Target() string {
	return r.Path + "." + r.Callable
}

// ScheduleHash 计算调度唯一标识
// 对六键映射做键排序 JSON 序列化后取 sha1，同一任务不同构造顺序哈希一致
func (r *Request) ScheduleHash() (string, error) {
	// encoding/json 对 map 键做字典序排序，序列化结果确定
	data, err := json.Marshal(r.descriptor())
	if err != nil {
		return "", fmt.Errorf("marshal descriptor failed: %w", err)
	}

	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// ParsePayload 解析 REQUEST 消息的载荷帧
func ParsePayload(payload string) (*Request, error) {
	var r Request
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
