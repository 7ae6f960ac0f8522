package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pulselog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTemplateNotFound 在指定模板不存在时返回
	ErrTemplateNotFound = errors.New("commitment template not found")
	// ErrInstanceNotFound 在指定实例不存在时返回
	ErrInstanceNotFound = errors.New("dated instance not found")
)

// Store 抽象持久化协作方，物化器只依赖这组操作
// 生产环境由 GormStore 落到 sqlite，测试可以包装注入故障
type Store interface {
	ListTemplates() ([]db.CommitmentTemplate, error)
	GetTemplate(templateID uint) (*db.CommitmentTemplate, error)
	ListInstances(date time.Time) ([]db.DatedInstance, error)
	ListInstancesForRange(templateID uint, start, end time.Time) ([]db.DatedInstance, error)
	GetInstance(instanceID uint) (*db.DatedInstance, error)
	CreateOrActivateInstance(templateID uint, date time.Time) (*db.DatedInstance, error)
	DeactivateInstance(instanceID uint) error
	ActivateInstance(instanceID uint) error
	PatchActivity(instanceID uint, patch ActivityPatch) error
	PatchTemplateConfig(templateID uint, partial map[string]string) error
}

// GormStore 是 Store 的 gorm/sqlite 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 构造 GormStore
func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

// ListTemplates 返回全部承诺模板
func (s *GormStore) ListTemplates() ([]db.CommitmentTemplate, error) {
	var templates []db.CommitmentTemplate
	if err := s.db.Order("created_at ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// GetTemplate 根据 ID 获取模板
func (s *GormStore) GetTemplate(templateID uint) (*db.CommitmentTemplate, error) {
	var tpl db.CommitmentTemplate
	if err := s.db.First(&tpl, templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tpl, nil
}

// ListInstances 返回某天全部仍然活跃的实例
func (s *GormStore) ListInstances(date time.Time) ([]db.DatedInstance, error) {
	var instances []db.DatedInstance
	if err := s.db.Where("date = ? AND is_active = ?", normalizeToDate(date), true).
		Order("template_id ASC").
		Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// ListInstancesForRange 返回区间内的实例，包含已停用的行，
// 统计层需要完整历史；templateID 为 0 时不按模板过滤
func (s *GormStore) ListInstancesForRange(templateID uint, start, end time.Time) ([]db.DatedInstance, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end before start")
	}

	query := s.db.Where("date BETWEEN ? AND ?", normalizeToDate(start), normalizeToDate(end))
	if templateID != 0 {
		query = query.Where("template_id = ?", templateID)
	}

	var instances []db.DatedInstance
	if err := query.Order("date ASC, template_id ASC").Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("list instances for range: %w", err)
	}
	return instances, nil
}

// GetInstance 按 ID 获取实例，包括已停用的行
func (s *GormStore) GetInstance(instanceID uint) (*db.DatedInstance, error) {
	var inst db.DatedInstance
	if err := s.db.First(&inst, instanceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return &inst, nil
}

// CreateOrActivateInstance 幂等获取某天的实例：已有则重新激活，没有则创建
// 依赖 (template_id, date) 唯一索引，重复调用不会产生第二行
func (s *GormStore) CreateOrActivateInstance(templateID uint, date time.Time) (*db.DatedInstance, error) {
	day := normalizeToDate(date)

	record := db.DatedInstance{
		TemplateID: templateID,
		Date:       day,
		IsActive:   true,
		Activity: db.ActivityRecord{
			Status:   db.StatusPending,
			Progress: 0,
		},
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "template_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"is_active": true, "updated_at": time.Now()}),
	}).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("upsert instance: %w", err)
	}

	if err := s.db.Where("template_id = ? AND date = ?", templateID, day).First(&record).Error; err != nil {
		return nil, fmt.Errorf("reload instance: %w", err)
	}

	return &record, nil
}

// DeactivateInstance 软删除：只翻转 is_active，历史保持可查
func (s *GormStore) DeactivateInstance(instanceID uint) error {
	return s.setActive(instanceID, false)
}

// ActivateInstance 重新激活，供补偿回滚使用
func (s *GormStore) ActivateInstance(instanceID uint) error {
	return s.setActive(instanceID, true)
}

func (s *GormStore) setActive(instanceID uint, active bool) error {
	result := s.db.Model(&db.DatedInstance{}).
		Where("id = ?", instanceID).
		Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("set instance active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// PatchActivity 只更新补丁中明确给出的字段，未提及的列保持原值
func (s *GormStore) PatchActivity(instanceID uint, patch ActivityPatch) error {
	updates := patch.columns()
	if len(updates) == 0 {
		return nil
	}

	result := s.db.Model(&db.DatedInstance{}).
		Where("id = ?", instanceID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("patch activity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// PatchTemplateConfig 把 partial 合并进模板的 Config，空值表示删除对应键
func (s *GormStore) PatchTemplateConfig(templateID uint, partial map[string]string) error {
	var tpl db.CommitmentTemplate
	if err := s.db.First(&tpl, templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("find template: %w", err)
	}

	if tpl.Config == nil {
		tpl.Config = db.ConfigMap{}
	}

	for key, value := range partial {
		if strings.TrimSpace(value) == "" {
			delete(tpl.Config, key)
			continue
		}
		tpl.Config[key] = value
	}

	if err := s.db.Model(&tpl).Update("config", tpl.Config).Error; err != nil {
		return fmt.Errorf("patch template config: %w", err)
	}
	return nil
}
