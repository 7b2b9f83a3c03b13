package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// 执行状态
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusTimeout = "TIMEOUT"
)

// JobExecution 任务执行记录
type JobExecution struct {
	ID         uint      `gorm:"primaryKey"`
	MsgID      string    `gorm:"size:64;index"`
	Queue      string    `gorm:"size:128"`
	Path       string    `gorm:"size:255"`
	Callable   string    `gorm:"size:255"`
	Status     string    `gorm:"size:16"`
	Error      string    `gorm:"type:text"`
	DurationMs int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (JobExecution) TableName() string {
	return "job_executions"
}

// ExecutionDAO 执行历史数据访问对象
type ExecutionDAO struct {
	db *gorm.DB
}

// NewExecutionDAO 创建 ExecutionDAO 实例（自动建表）
func NewExecutionDAO(dsn string) (*ExecutionDAO, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&JobExecution{}); err != nil {
		return nil, fmt.Errorf("failed to migrate job_executions: %w", err)
	}

	return &ExecutionDAO{
		db: db,
	}, nil
}

// Record 写入一条执行记录
func (dao *ExecutionDAO) Record(ctx context.Context, exec *JobExecution) error {
	if err := dao.db.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// RecentByTarget 查询指定任务最近的执行记录
func (dao *ExecutionDAO) RecentByTarget(ctx context.Context, path, callable string, limit int) ([]JobExecution, error) {
	var execs []JobExecution
	result := dao.db.WithContext(ctx).
		Where("path = ? AND callable = ?", path, callable).
		Order("id DESC").
		Limit(limit).
		Find(&execs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query executions: %w", result.Error)
	}
	return execs, nil
}

// Close 关闭数据库连接
func (dao *ExecutionDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
