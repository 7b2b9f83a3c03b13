package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	JobManager JobManagerConfig `mapstructure:"jobmanager"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig Redis 配置（调度持久化）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MySQLConfig MySQL 配置（执行历史，DSN 为空则关闭）
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SchedulerConfig Scheduler 配置
type SchedulerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`   // 接收 SCHEDULE/UNSCHEDULE/STATUS
	ConnectAddr  string        `mapstructure:"connect_addr"`  // 下发 REQUEST 的对端地址
	Tick         time.Duration `mapstructure:"tick"`          // 调度检查间隔
	Heartbeat    time.Duration `mapstructure:"heartbeat"`     // 心跳发送间隔
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"` // 对端心跳超时
	ErrorBackoff time.Duration `mapstructure:"error_backoff"` // 下发失败退避时间
}

// JobManagerConfig JobManager 配置
type JobManagerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`     // 接收 REQUEST
	ConcurrentJobs int           `mapstructure:"concurrent_jobs"` // 并发执行数
	BufferSize     int           `mapstructure:"buffer_size"`     // Channel 缓冲大小
	JobTimeout     time.Duration `mapstructure:"job_timeout"`     // 单个任务默认超时
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`   // 拉取失败退避时间
	Heartbeat      time.Duration `mapstructure:"heartbeat"`       // 心跳发送间隔
	HeartbeatTTL   time.Duration `mapstructure:"heartbeat_ttl"`   // 对端心跳超时
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.Scheduler.Tick <= 0 {
		c.Scheduler.Tick = time.Second
	}
	if c.Scheduler.Heartbeat <= 0 {
		c.Scheduler.Heartbeat = 3 * time.Second
	}
	if c.Scheduler.HeartbeatTTL <= 0 {
		c.Scheduler.HeartbeatTTL = 15 * time.Second
	}
	if c.Scheduler.ErrorBackoff <= 0 {
		c.Scheduler.ErrorBackoff = time.Second
	}
	if c.JobManager.ConcurrentJobs <= 0 {
		c.JobManager.ConcurrentJobs = 4
	}
	if c.JobManager.BufferSize <= 0 {
		c.JobManager.BufferSize = 64
	}
	if c.JobManager.JobTimeout <= 0 {
		c.JobManager.JobTimeout = 30 * time.Second
	}
	if c.JobManager.ErrorBackoff <= 0 {
		c.JobManager.ErrorBackoff = time.Second
	}
	if c.JobManager.Heartbeat <= 0 {
		c.JobManager.Heartbeat = 3 * time.Second
	}
	if c.JobManager.HeartbeatTTL <= 0 {
		c.JobManager.HeartbeatTTL = 15 * time.Second
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	return nil
}

// ValidateScheduler 验证 Scheduler 配置
func (c *Config) ValidateScheduler() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Scheduler.ListenAddr == "" {
		return fmt.Errorf("scheduler.listen_addr is required")
	}
	if c.Scheduler.ConnectAddr == "" {
		return fmt.Errorf("scheduler.connect_addr is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}

// ValidateJobManager 验证 JobManager 配置
func (c *Config) ValidateJobManager() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JobManager.ListenAddr == "" {
		return fmt.Errorf("jobmanager.listen_addr is required")
	}
	return nil
}
