package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pulselog/internal/db"
)

var (
	// ErrInvalidFrequency 当频率配置无法解析时返回
	ErrInvalidFrequency = errors.New("invalid frequency configuration")
)

// FrequencyUnit 表示频率的计量单位
type FrequencyUnit string

// FrequencyPeriod 表示频率的统计周期
type FrequencyPeriod string

// FrequencySet 是滑块档位派生的粗粒度标签
type FrequencySet string

const (
	UnitTimes FrequencyUnit = "times"
	UnitHours FrequencyUnit = "hours"

	PeriodDaily   FrequencyPeriod = "daily"
	PeriodWeekly  FrequencyPeriod = "weekly"
	PeriodMonthly FrequencyPeriod = "monthly"
	PeriodYearly  FrequencyPeriod = "yearly"

	SetOccasional  FrequencySet = "occasional"
	SetComfortable FrequencySet = "comfortable"
	SetBalanced    FrequencySet = "balanced"
	SetRigorous    FrequencySet = "rigorous"
)

// FrequencyDescriptor 是频率的完整描述：滑块值 + 细化字段 + 派生档位
// 不变量：Count 始终落在当前 Period 的合法区间内，FrequencySet 始终由
// Bucket(ToSlider(...)) 派生，滑块视图与细化视图不会各算各的
type FrequencyDescriptor struct {
	SliderValue float64
	Count       int
	Unit        FrequencyUnit
	Period      FrequencyPeriod
	Set         FrequencySet
}

// IsDailyHabit 派生字段：周期为 daily 即视为每日习惯
func (d FrequencyDescriptor) IsDailyHabit() bool {
	return d.Period == PeriodDaily
}

// periodMaxCount 返回各周期允许的最大次数，也是滑块换算目标值的系数
func periodMaxCount(p FrequencyPeriod) int {
	switch p {
	case PeriodDaily:
		return 10
	case PeriodWeekly:
		return 7
	case PeriodMonthly:
		return 31
	case PeriodYearly:
		return 365
	default:
		return 7
	}
}

// periodLengthDays 返回周期折算成天的长度，用于计算日均强度
func periodLengthDays(p FrequencyPeriod) float64 {
	switch p {
	case PeriodDaily:
		return 1
	case PeriodWeekly:
		return 7
	case PeriodMonthly:
		return 31
	case PeriodYearly:
		return 365
	default:
		return 7
	}
}

// Bucket 把滑块值划分到四个闭合四分位档
func Bucket(slider float64) FrequencySet {
	slider = clampSlider(slider)
	switch {
	case slider <= 0.25:
		return SetOccasional
	case slider <= 0.5:
		return SetComfortable
	case slider <= 0.75:
		return SetBalanced
	default:
		return SetRigorous
	}
}

// bucketMidpoint 返回档位对应的滑块中点，作为细化字段反推滑块时的规范值
func bucketMidpoint(set FrequencySet) float64 {
	switch set {
	case SetOccasional:
		return 0.125
	case SetComfortable:
		return 0.375
	case SetBalanced:
		return 0.625
	default:
		return 0.875
	}
}

// ToDetailed 把滑块值展开为档位对应的规范细化设置
// occasional ⇒ 每月 1 次，comfortable ⇒ 每周 1 次，
// balanced ⇒ 每周 3 次，rigorous ⇒ 每日 1 次
func ToDetailed(slider float64) FrequencyDescriptor {
	slider = clampSlider(slider)
	set := Bucket(slider)

	d := FrequencyDescriptor{
		SliderValue: slider,
		Unit:        UnitTimes,
		Set:         set,
	}

	switch set {
	case SetOccasional:
		d.Count, d.Period = 1, PeriodMonthly
	case SetComfortable:
		d.Count, d.Period = 1, PeriodWeekly
	case SetBalanced:
		d.Count, d.Period = 3, PeriodWeekly
	default:
		d.Count, d.Period = 1, PeriodDaily
	}

	return d
}

// ToSlider 把细化设置折算回滑块值
// 先算出日均强度，再落到对应档位的中点，保证
// Bucket(ToSlider(ToDetailed(v))) == Bucket(v) 的往返律成立。
// 直接编辑细化字段时必须经由这里重算档位，两条编辑路径共用同一条规则。
func ToSlider(d FrequencyDescriptor) float64 {
	count := clampCount(d.Count, d.Period)
	perDay := float64(count) / periodLengthDays(d.Period)

	switch {
	case perDay < 0.08:
		return bucketMidpoint(SetOccasional)
	case perDay < 0.25:
		return bucketMidpoint(SetComfortable)
	case perDay < 0.7:
		return bucketMidpoint(SetBalanced)
	default:
		return bucketMidpoint(SetRigorous)
	}
}

// Normalize 校正描述符：次数夹逼到周期合法区间，档位统一重算
// 越界按 ValidationError 策略就地修正而不是拒绝
func Normalize(d FrequencyDescriptor) FrequencyDescriptor {
	if d.Unit != UnitHours {
		d.Unit = UnitTimes
	}
	if d.Period == "" {
		d.Period = PeriodWeekly
	}

	d.Count = clampCount(d.Count, d.Period)
	d.SliderValue = ToSlider(d)
	d.Set = Bucket(d.SliderValue)

	return d
}

// ParsePeriod 解析周期字符串
func ParsePeriod(raw string) (FrequencyPeriod, error) {
	switch FrequencyPeriod(strings.TrimSpace(strings.ToLower(raw))) {
	case PeriodDaily:
		return PeriodDaily, nil
	case PeriodWeekly:
		return PeriodWeekly, nil
	case PeriodMonthly:
		return PeriodMonthly, nil
	case PeriodYearly:
		return PeriodYearly, nil
	default:
		return "", fmt.Errorf("%w: unsupported period %s", ErrInvalidFrequency, raw)
	}
}

// DescriptorFromTemplate 从模板的持久化字段还原频率描述符
func DescriptorFromTemplate(tpl db.CommitmentTemplate) FrequencyDescriptor {
	period, err := ParsePeriod(tpl.FrequencyPeriod)
	if err != nil {
		period = PeriodWeekly
	}

	unit := FrequencyUnit(tpl.FrequencyUnit)
	if unit != UnitHours {
		unit = UnitTimes
	}

	d := FrequencyDescriptor{
		SliderValue: clampSlider(tpl.SliderValue),
		Count:       tpl.FrequencyCount,
		Unit:        unit,
		Period:      period,
	}
	d.Count = clampCount(d.Count, d.Period)
	d.Set = Bucket(d.SliderValue)

	return d
}

func clampSlider(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampCount(count int, period FrequencyPeriod) int {
	if count < 1 {
		return 1
	}
	if limit := periodMaxCount(period); count > limit {
		return limit
	}
	return count
}
