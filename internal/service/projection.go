package service

import (
	"fmt"
	"hash/fnv"
	"time"
)

// ProjectionDay 表示预览热力图中的一天
type ProjectionDay struct {
	Date   time.Time
	Active bool
}

// IsActiveOn 预测 date 在给定频率下是否为"活跃日"，仅用于前瞻预览
// 不超过 today 的日期一律返回 false：预测只负责计划，不陈述历史。
// 算法：滑块值按周期系数换算为目标次数，daily 周期不加偏置（目标大于零
// 即每天活跃），其余周期叠加 {-1,0,+1} 的有界偏置后与日期在周期内的序数
// 比较。偏置由 (templateID, date) 哈希确定性导出，同一天重复渲染结果稳定。
func IsActiveOn(templateID uint, date time.Time, d FrequencyDescriptor, today time.Time) bool {
	date = normalizeToDate(date)
	today = normalizeToDate(today)

	if !date.After(today) {
		return false
	}

	raw := d.SliderValue * float64(periodMaxCount(d.Period))

	if d.Period == PeriodDaily {
		return raw > 0
	}

	target := raw + float64(projectionBias(templateID, date))

	return target >= float64(periodOrdinal(date, d.Period))
}

// ProjectRange 为 [start, end] 区间生成逐日预测，供热力图预览使用
func ProjectRange(templateID uint, d FrequencyDescriptor, start, end, today time.Time) []ProjectionDay {
	start = normalizeToDate(start)
	end = normalizeToDate(end)

	if end.Before(start) {
		return nil
	}

	days := make([]ProjectionDay, 0, int(end.Sub(start).Hours()/24)+1)
	for cursor := start; !cursor.After(end); cursor = cursor.AddDate(0, 0, 1) {
		days = append(days, ProjectionDay{
			Date:   cursor,
			Active: IsActiveOn(templateID, cursor, d, today),
		})
	}

	return days
}

// projectionBias 用 FNV-1a 哈希把 (templateID, date) 映射到 {-1, 0, +1}
func projectionBias(templateID uint, date time.Time) int {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s", templateID, date.Format(dateLayout))
	return int(h.Sum64()%3) - 1
}

// periodOrdinal 计算日期在其周期内的序数
// weekly 用 ISO 星期（周一=1..周日=7），monthly 用月内日，yearly 用年内日
func periodOrdinal(date time.Time, period FrequencyPeriod) int {
	switch period {
	case PeriodWeekly:
		return int(date.Weekday()+6)%7 + 1
	case PeriodMonthly:
		return date.Day()
	case PeriodYearly:
		return date.YearDay()
	default:
		return 1
	}
}
