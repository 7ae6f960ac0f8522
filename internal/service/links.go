package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownLinkKind 在追踪器种类不受支持时返回
	ErrUnknownLinkKind = errors.New("unknown tracker link kind")
)

// LinkKind 区分三种追踪器可视化：习惯环、多月热力图、年历
type LinkKind string

const (
	LinkCalendar LinkKind = "calendar"
	LinkHabit    LinkKind = "habit"
	LinkYearly   LinkKind = "yearly"
)

// ParseLinkKind 解析追踪器种类
func ParseLinkKind(raw string) (LinkKind, error) {
	switch LinkKind(strings.TrimSpace(strings.ToLower(raw))) {
	case LinkCalendar:
		return LinkCalendar, nil
	case LinkHabit:
		return LinkHabit, nil
	case LinkYearly:
		return LinkYearly, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownLinkKind, raw)
	}
}

// configKey 返回该种类在成员模板 Config 中占用的字段名
func (k LinkKind) configKey() (string, error) {
	switch k {
	case LinkCalendar:
		return "selectedCalendar", nil
	case LinkHabit:
		return "selectedHabitCalendar", nil
	case LinkYearly:
		return "selectedYearlyCalendar", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownLinkKind, string(k))
	}
}

// LinkRegistry 维护成员模板到追踪器模板的多对一关联
// 关联直接存在成员模板的 Config 字段上，没有独立的连接表：
// 一个追踪器可以有多个成员，一个成员对每种追踪器最多指向一个
type LinkRegistry struct {
	store Store
}

// NewLinkRegistry 构造关联注册表
func NewLinkRegistry(store Store) *LinkRegistry {
	return &LinkRegistry{store: store}
}

// SetLink 把成员指向 trackerID，覆盖该种类下的旧关联；trackerID 为 0 时清除
func (r *LinkRegistry) SetLink(memberID, trackerID uint, kind LinkKind) error {
	key, err := kind.configKey()
	if err != nil {
		return err
	}

	value := ""
	if trackerID != 0 {
		tracker, err := r.store.GetTemplate(trackerID)
		if err != nil {
			return err
		}
		value = strconv.FormatUint(uint64(tracker.ID), 10)
	}

	return r.store.PatchTemplateConfig(memberID, map[string]string{key: value})
}

// MembersOf 返回 Config 中对应字段等于 trackerID 的全部成员模板 ID
func (r *LinkRegistry) MembersOf(trackerID uint, kind LinkKind) ([]uint, error) {
	key, err := kind.configKey()
	if err != nil {
		return nil, err
	}

	templates, err := r.store.ListTemplates()
	if err != nil {
		return nil, err
	}

	want := strconv.FormatUint(uint64(trackerID), 10)
	members := make([]uint, 0)
	for _, tpl := range templates {
		if tpl.Config[key] == want {
			members = append(members, tpl.ID)
		}
	}
	return members, nil
}
