package service

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pulselog/internal/db"
)

// AlarmState 表示闹钟在某个日历日内的运行状态
type AlarmState string

const (
	AlarmIdle      AlarmState = "idle"
	AlarmRinging   AlarmState = "ringing"
	AlarmSnoozed   AlarmState = "snoozed"
	AlarmCompleted AlarmState = "completed"
)

// ringWindow 是触发时刻之后仍视为"应响"的时间窗
const ringWindow = time.Hour

var (
	// ErrAlarmNotRegistered 在模板未注册到闹钟服务时返回
	ErrAlarmNotRegistered = errors.New("alarm template not registered")
)

// AlarmRuntimeState 是对外暴露的状态快照，按日推导、不原样持久化
type AlarmRuntimeState struct {
	State           AlarmState
	SnoozeUntil     *time.Time
	SnoozeCount     int
	SnoozeRemaining time.Duration
	StartedAt       *time.Time
}

// Clock 抽象墙钟，测试注入假时钟以获得确定性的状态机行为
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 返回真实墙钟
func SystemClock() Clock { return systemClock{} }

// Chimer 负责播放响铃提示音，失败不得影响状态迁移
type Chimer interface {
	Chime(templateID uint)
}

// triggerTime 是解析后的触发时刻（本地时分）
type triggerTime struct {
	hour   int
	minute int
}

func (t triggerTime) on(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.hour, t.minute, 0, 0, date.Location())
}

// alarmDayState 保存单个 (模板, 日期) 的可变状态，随视图日切换重建
type alarmDayState struct {
	snoozeUntil *time.Time
	snoozeCount int
	snoozeTotal time.Duration
	startedAt   *time.Time
	lastState   AlarmState
	hydrated    bool
}

// AlarmService 是共享的闹钟状态机与调度器
// 全部已注册模板挂在同一个秒级节拍上，而不是每个部件各开一个计时器；
// 进入 Ringing 时尽力发出提示音，完成后当日不再触发。
type AlarmService struct {
	mu           sync.Mutex
	materializer *Materializer
	clock        Clock
	chimer       Chimer
	triggers     map[uint][]triggerTime
	states       map[uint]map[string]*alarmDayState
	stop         chan struct{}
	stopOnce     sync.Once
	started      bool
}

// NewAlarmService 构造闹钟服务，clock 为 nil 时使用系统墙钟
func NewAlarmService(materializer *Materializer, clock Clock, chimer Chimer) *AlarmService {
	if clock == nil {
		clock = SystemClock()
	}
	return &AlarmService{
		materializer: materializer,
		clock:        clock,
		chimer:       chimer,
		triggers:     make(map[uint][]triggerTime),
		states:       make(map[uint]map[string]*alarmDayState),
		stop:         make(chan struct{}),
	}
}

// Register 解析模板配置中的 alarmTimes（"07:30,09:00" 形式）并纳入调度
func (s *AlarmService) Register(tpl db.CommitmentTemplate) error {
	raw := strings.TrimSpace(tpl.Config["alarmTimes"])
	if raw == "" {
		return fmt.Errorf("template %d has no alarmTimes configured", tpl.ID)
	}

	triggers, err := parseTriggerTimes(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[tpl.ID] = triggers
	return nil
}

// Unregister 把模板移出调度并丢弃其运行状态
func (s *AlarmService) Unregister(templateID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, templateID)
	delete(s.states, templateID)
}

func parseTriggerTimes(raw string) ([]triggerTime, error) {
	parts := strings.Split(raw, ",")
	triggers := make([]triggerTime, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.Parse("15:04", part)
		if err != nil {
			return nil, fmt.Errorf("invalid alarm time %q: %w", part, err)
		}
		triggers = append(triggers, triggerTime{hour: parsed.Hour(), minute: parsed.Minute()})
	}

	if len(triggers) == 0 {
		return nil, errors.New("no valid alarm times")
	}
	return triggers, nil
}

// Start 启动共享节拍循环，每秒重估一次全部已注册模板的当日状态
func (s *AlarmService) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop 停止节拍循环；可安全重复调用
func (s *AlarmService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *AlarmService) tick() {
	now := s.clock.Now()

	s.mu.Lock()
	ids := make([]uint, 0, len(s.triggers))
	for id := range s.triggers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Snapshot(id, now)
	}
}

// Snapshot 计算模板在 date 当天此刻的状态
// 状态按日隔离：切换查看日期时从该日的持久化实例重新推导，不跨日携带
func (s *AlarmService) Snapshot(templateID uint, date time.Time) AlarmRuntimeState {
	now := s.clock.Now()

	s.mu.Lock()
	triggers, ok := s.triggers[templateID]
	if !ok {
		s.mu.Unlock()
		return AlarmRuntimeState{State: AlarmIdle}
	}
	st := s.dayStateLocked(templateID, date)
	needHydrate := !st.hydrated
	s.mu.Unlock()

	if needHydrate {
		s.hydrateFromInstance(templateID, date, st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := evaluateAlarm(st, triggers, date, now)

	if state == AlarmRinging && st.lastState != AlarmRinging {
		s.chime(templateID)
	}
	st.lastState = state

	snapshot := AlarmRuntimeState{
		State:       state,
		SnoozeCount: st.snoozeCount,
		StartedAt:   st.startedAt,
		SnoozeUntil: st.snoozeUntil,
	}
	if state == AlarmSnoozed && st.snoozeUntil != nil {
		snapshot.SnoozeRemaining = st.snoozeUntil.Sub(now)
	}
	return snapshot
}

func (s *AlarmService) dayStateLocked(templateID uint, date time.Time) *alarmDayState {
	key := dateKey(date)
	days, ok := s.states[templateID]
	if !ok {
		days = make(map[string]*alarmDayState)
		s.states[templateID] = days
	}
	st, ok := days[key]
	if !ok {
		st = &alarmDayState{lastState: AlarmIdle}
		days[key] = st
	}
	return st
}

// hydrateFromInstance 从该日已持久化的实例恢复完成标记
// 重启或切日后，已完成的闹钟不会再次响起
func (s *AlarmService) hydrateFromInstance(templateID uint, date time.Time, st *alarmDayState) {
	inst, found := s.materializer.Lookup(templateID, date)

	s.mu.Lock()
	defer s.mu.Unlock()

	st.hydrated = true
	if !found || inst.Activity.Status != db.StatusCompleted {
		return
	}

	startedAt := inst.UpdatedAt
	if inst.Activity.TimeAdded != "" {
		if parsed, err := time.Parse("15:04", inst.Activity.TimeAdded); err == nil {
			startedAt = time.Date(date.Year(), date.Month(), date.Day(),
				parsed.Hour(), parsed.Minute(), 0, 0, date.Location())
		}
	}
	st.startedAt = &startedAt
}

// evaluateAlarm 按固定顺序求值状态机
//  1. 当日已完成 → Completed，无视时间窗
//  2. 贪睡未到期 → Snoozed
//  3. 贪睡到期且仍在被贪睡时长顺延的原始窗内 → Ringing
//  4. 此刻落在任一触发窗 [T, T+60m) 内 → Ringing
//  5. 其余 → Idle
func evaluateAlarm(st *alarmDayState, triggers []triggerTime, date, now time.Time) AlarmState {
	if st.startedAt != nil && sameCalendarDay(*st.startedAt, date) {
		return AlarmCompleted
	}

	if st.snoozeUntil != nil {
		if now.Before(*st.snoozeUntil) {
			return AlarmSnoozed
		}
		if withinAnyWindow(triggers, date, now, st.snoozeTotal) {
			return AlarmRinging
		}
	}

	if withinAnyWindow(triggers, date, now, 0) {
		return AlarmRinging
	}

	return AlarmIdle
}

// withinAnyWindow 判断 now 是否落在任一触发窗内，extension 顺延窗口关闭时刻
func withinAnyWindow(triggers []triggerTime, date, now time.Time, extension time.Duration) bool {
	for _, trigger := range triggers {
		opens := trigger.on(date)
		closes := opens.Add(ringWindow + extension)
		if !now.Before(opens) && now.Before(closes) {
			return true
		}
	}
	return false
}

// Snooze 推迟 minutes 分钟后再响，同时累计贪睡时长用于顺延时间窗
func (s *AlarmService) Snooze(templateID uint, date time.Time, minutes int) (AlarmRuntimeState, error) {
	if minutes <= 0 {
		minutes = 5
	}

	s.mu.Lock()
	if _, ok := s.triggers[templateID]; !ok {
		s.mu.Unlock()
		return AlarmRuntimeState{}, ErrAlarmNotRegistered
	}

	st := s.dayStateLocked(templateID, date)
	until := s.clock.Now().Add(time.Duration(minutes) * time.Minute)
	st.snoozeUntil = &until
	st.snoozeCount++
	st.snoozeTotal += time.Duration(minutes) * time.Minute
	st.lastState = AlarmSnoozed
	s.mu.Unlock()

	return s.Snapshot(templateID, date), nil
}

// StopAlarm 终止当日闹钟：记录完成时刻并通过物化器持久化为已完成实例
// 完成是当日终态，此后所有触发窗都不再响
func (s *AlarmService) StopAlarm(templateID uint, date time.Time) (AlarmRuntimeState, error) {
	s.mu.Lock()
	if _, ok := s.triggers[templateID]; !ok {
		s.mu.Unlock()
		return AlarmRuntimeState{}, ErrAlarmNotRegistered
	}

	st := s.dayStateLocked(templateID, date)
	now := s.clock.Now()
	st.startedAt = &now
	st.snoozeUntil = nil
	st.lastState = AlarmCompleted
	s.mu.Unlock()

	inst, err := s.materializer.EnsureInstance(templateID, date)
	if err != nil {
		return AlarmRuntimeState{}, err
	}

	status := db.StatusCompleted
	timeAdded := now.Format("15:04")
	if err := s.materializer.MergeActivity(inst.ID, ActivityPatch{
		Status:    &status,
		TimeAdded: &timeAdded,
	}); err != nil {
		return AlarmRuntimeState{}, err
	}

	return s.Snapshot(templateID, date), nil
}

// chime 尽力而为地发声；任何 panic 或缺省实现都不影响状态机
func (s *AlarmService) chime(templateID uint) {
	if s.chimer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("alarm chime for template %d failed: %v", templateID, r)
		}
	}()
	s.chimer.Chime(templateID)
}
