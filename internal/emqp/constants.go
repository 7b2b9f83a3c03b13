package emqp

// Protocol eMQP 协议版本标识（每条消息的首帧）
const Protocol = "eMQP/1.0"

// eMQP 命令字
const (
	CmdRequest    = "REQUEST"    // 任务下发
	CmdReply      = "REPLY"      // 任务结果回复
	CmdAck        = "ACK"        // guarantee 投递确认
	CmdReady      = "READY"      // JobManager 就绪通告
	CmdHeartbeat  = "HEARTBEAT"  // 心跳
	CmdSchedule   = "SCHEDULE"   // 注册定时任务
	CmdUnschedule = "UNSCHEDULE" // 取消定时任务
	CmdStatus     = "STATUS"     // 状态查询
	CmdDisconnect = "DISCONNECT" // 要求对端下线
	CmdKbye       = "KBYE"       // 主动告别
)

// StatusShowScheduledJobs STATUS 子命令：导出当前调度表
const StatusShowScheduledJobs = "show_scheduled_jobs"

// DefaultQueue 缺省队列名
const DefaultQueue = "default"

// InfiniteRunCount run_count 的无限次取值
const InfiniteRunCount = -1
