package db

import (
	"time"

	"gorm.io/gorm"
)

// 活动状态常量，进度与状态保持单调对应：pending=0，completed=100
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// ActivityRecord 保存某一天实例的活动状态
// 仅允许通过字段级合并修改，避免整体替换冲掉并发写入的字段
type ActivityRecord struct {
	Status    string `gorm:"default:pending"`
	Progress  int
	Value     string
	Notes     string
	TimeAdded string
}

// DatedInstance 是模板在某个日历日上的物化实例
// TemplateID + Date 采用唯一索引，保证物化幂等；IsActive 为软删除标记，
// 历史记录永不硬删，统计层始终可查
type DatedInstance struct {
	gorm.Model
	TemplateID uint               `gorm:"index;index:idx_instance_unique,unique"`
	Template   CommitmentTemplate `gorm:"constraint:OnDelete:CASCADE"`
	Date       time.Time          `gorm:"index:idx_instance_unique,unique"`
	IsActive   bool
	Activity   ActivityRecord `gorm:"embedded"`
}

// TableName 重写确保唯一索引作用到 template_id + date
func (DatedInstance) TableName() string {
	return "dated_instances"
}
