package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/pulselog/internal/db"
)

// StreakStats 汇总连胜与区间完成度，按需从实例历史重算，不落独立状态
type StreakStats struct {
	RangeStart     time.Time
	RangeEnd       time.Time
	CurrentStreak  int
	LongestStreak  int
	TotalCompleted int
	TotalScheduled int
	CompletionRate float64
}

// CategoryStats 是单个类别的月度统计
type CategoryStats struct {
	Category       string
	TotalCompleted int
	TotalScheduled int
	CompletionRate float64
	CurrentStreak  int
	LongestStreak  int
}

// MonthlyStats 是整月的分类别统计加总体汇总
type MonthlyStats struct {
	Month      time.Time
	Overall    StreakStats
	ByCategory []CategoryStats
}

// ringSweepDegrees 是环形图的固定扫过角度
// 每个日弧按 31 天等分，与当月实际天数无关——这是刻意的压缩近似，
// 换取所有月份视觉上一致的环形布局
const ringSweepDegrees = 270.0

// RingSegment 描述环形图中一个 (模板环, 日弧) 单元
type RingSegment struct {
	Ring       int
	TemplateID uint
	Category   string
	Day        int
	StartDeg   float64
	EndDeg     float64
	Completed  bool
}

// StreakAggregator 对物化实例做连胜与月度聚合
type StreakAggregator struct {
	materializer *Materializer
	store        Store
}

// NewStreakAggregator 构造聚合器
func NewStreakAggregator(materializer *Materializer, store Store) *StreakAggregator {
	return &StreakAggregator{materializer: materializer, store: store}
}

// ComputeStats 计算单个模板在区间内的连胜与完成度
// 当前连胜从最近一个有实例的日期往回数，遇到缺口或未完成即止
func (a *StreakAggregator) ComputeStats(templateID uint, start, end time.Time) (*StreakStats, error) {
	instances, err := a.materializer.InstancesForRange(templateID, start, end)
	if err != nil {
		return nil, err
	}

	stats := buildStreakStats(instances)
	stats.RangeStart = normalizeToDate(start)
	stats.RangeEnd = normalizeToDate(end)
	return &stats, nil
}

// ComputeCategoryStats 计算整个类别的连胜与完成度
// 同一天多个模板各有实例时按日去重：当天任一实例完成即视为完成日
func (a *StreakAggregator) ComputeCategoryStats(category string, start, end time.Time) (*StreakStats, error) {
	instances, err := a.instancesForCategory(category, start, end)
	if err != nil {
		return nil, err
	}

	stats := buildStreakStats(instances)
	stats.RangeStart = normalizeToDate(start)
	stats.RangeEnd = normalizeToDate(end)
	return &stats, nil
}

func (a *StreakAggregator) instancesForCategory(category string, start, end time.Time) ([]db.DatedInstance, error) {
	templates, err := a.store.ListTemplates()
	if err != nil {
		return nil, err
	}

	members := make(map[uint]bool)
	for _, tpl := range templates {
		if tpl.Category == category {
			members[tpl.ID] = true
		}
	}

	all, err := a.store.ListInstancesForRange(0, start, end)
	if err != nil {
		return nil, err
	}

	filtered := make([]db.DatedInstance, 0, len(all))
	for _, inst := range all {
		if members[inst.TemplateID] {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

// MonthlyStats 汇总整月：总体 + 逐类别的完成数、排程数与完成率
func (a *StreakAggregator) MonthlyStats(month time.Time) (*MonthlyStats, error) {
	monthStart := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	monthEnd := monthStart.AddDate(0, 1, -1)

	templates, err := a.store.ListTemplates()
	if err != nil {
		return nil, err
	}

	categoryOf := make(map[uint]string, len(templates))
	for _, tpl := range templates {
		categoryOf[tpl.ID] = tpl.Category
	}

	instances, err := a.store.ListInstancesForRange(0, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string][]db.DatedInstance)
	for _, inst := range instances {
		category := categoryOf[inst.TemplateID]
		byCategory[category] = append(byCategory[category], inst)
	}

	result := &MonthlyStats{
		Month:   monthStart,
		Overall: buildStreakStats(instances),
	}
	result.Overall.RangeStart = monthStart
	result.Overall.RangeEnd = monthEnd

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		stats := buildStreakStats(byCategory[category])
		result.ByCategory = append(result.ByCategory, CategoryStats{
			Category:       category,
			TotalCompleted: stats.TotalCompleted,
			TotalScheduled: stats.TotalScheduled,
			CompletionRate: stats.CompletionRate,
			CurrentStreak:  stats.CurrentStreak,
			LongestStreak:  stats.LongestStreak,
		})
	}

	return result, nil
}

// RingLayout 为一组模板生成环形图布局：每个模板占一个环，每天占一个弧
// 已完成的弧使用模板类别着色，未完成/未排程保持中性色（由展示层决定）
func (a *StreakAggregator) RingLayout(templateIDs []uint, month time.Time) ([]RingSegment, error) {
	monthStart := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	monthEnd := monthStart.AddDate(0, 1, -1)

	segments := make([]RingSegment, 0, len(templateIDs)*31)

	for ring, templateID := range templateIDs {
		tpl, err := a.store.GetTemplate(templateID)
		if err != nil {
			return nil, fmt.Errorf("ring layout: %w", err)
		}

		instances, err := a.store.ListInstancesForRange(templateID, monthStart, monthEnd)
		if err != nil {
			return nil, err
		}

		completedDays := make(map[int]bool)
		for _, inst := range instances {
			if inst.Activity.Status == db.StatusCompleted {
				completedDays[inst.Date.Day()] = true
			}
		}

		for day := 1; day <= 31; day++ {
			start, end := ArcSpan(day)
			segments = append(segments, RingSegment{
				Ring:       ring,
				TemplateID: templateID,
				Category:   tpl.Category,
				Day:        day,
				StartDeg:   start,
				EndDeg:     end,
				Completed:  completedDays[day],
			})
		}
	}

	return segments, nil
}

// ArcSpan 返回第 day 天的弧角区间 [(day-1)*270/31, day*270/31 - 1]
func ArcSpan(day int) (startDeg, endDeg float64) {
	startDeg = float64(day-1) * ringSweepDegrees / 31.0
	endDeg = float64(day)*ringSweepDegrees/31.0 - 1
	return startDeg, endDeg
}

// buildStreakStats 以升序实例序列计算连胜与完成度
// 多模板场景下按日归并，一天内任一实例完成即记为完成日
func buildStreakStats(instances []db.DatedInstance) StreakStats {
	stats := StreakStats{}
	if len(instances) == 0 {
		return stats
	}

	type dayRecord struct {
		date      time.Time
		completed bool
	}

	byDate := make(map[string]*dayRecord)
	order := make([]string, 0, len(instances))

	for _, inst := range instances {
		stats.TotalScheduled++
		if inst.Activity.Status == db.StatusCompleted {
			stats.TotalCompleted++
		}

		key := dateKey(inst.Date)
		record, ok := byDate[key]
		if !ok {
			record = &dayRecord{date: normalizeToDate(inst.Date)}
			byDate[key] = record
			order = append(order, key)
		}
		if inst.Activity.Status == db.StatusCompleted {
			record.completed = true
		}
	}

	sort.Strings(order)
	days := make([]dayRecord, 0, len(order))
	for _, key := range order {
		days = append(days, *byDate[key])
	}

	// 最长连胜：区间内任意位置的最大连续完成段
	run := 0
	for i, day := range days {
		if !day.completed {
			run = 0
			continue
		}
		if run > 0 && !day.date.Equal(days[i-1].date.AddDate(0, 0, 1)) {
			run = 0
		}
		run++
		if run > stats.LongestStreak {
			stats.LongestStreak = run
		}
	}

	// 当前连胜：从最近一个有实例的日期往回数连续完成日
	expect := days[len(days)-1].date
	for i := len(days) - 1; i >= 0; i-- {
		if !days[i].completed || !days[i].date.Equal(expect) {
			break
		}
		stats.CurrentStreak++
		expect = expect.AddDate(0, 0, -1)
	}

	if stats.TotalScheduled > 0 {
		stats.CompletionRate = float64(stats.TotalCompleted) / float64(stats.TotalScheduled)
	}

	return stats
}
