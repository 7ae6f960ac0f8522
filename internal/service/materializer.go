package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulselog/internal/db"
)

var (
	// ErrStaleData 表示响应到达时视图已经切换，结果被丢弃
	ErrStaleData = errors.New("stale day snapshot discarded")
)

// ActivityPatch 描述对活动记录的字段级修改，nil 字段表示保持原值
type ActivityPatch struct {
	Status    *string
	Progress  *int
	Value     *string
	Notes     *string
	TimeAdded *string
}

// columns 转换为 gorm Updates 所需的列映射
func (p ActivityPatch) columns() map[string]interface{} {
	updates := map[string]interface{}{}
	if p.Status != nil {
		updates["status"] = *p.Status
	}
	if p.Progress != nil {
		updates["progress"] = *p.Progress
	}
	if p.Value != nil {
		updates["value"] = *p.Value
	}
	if p.Notes != nil {
		updates["notes"] = *p.Notes
	}
	if p.TimeAdded != nil {
		updates["time_added"] = *p.TimeAdded
	}
	return updates
}

// isZero 判断补丁是否为空
func (p ActivityPatch) isZero() bool {
	return p.Status == nil && p.Progress == nil && p.Value == nil && p.Notes == nil && p.TimeAdded == nil
}

// lightweight 判断补丁是否只涉及自由文本类字段
// 这类高频编辑走静默期合并，避免每次击键都触发一次持久化
func (p ActivityPatch) lightweight() bool {
	return p.Status == nil && p.Progress == nil && p.TimeAdded == nil &&
		(p.Value != nil || p.Notes != nil)
}

// overlay 把 other 叠加到当前补丁上，后写的字段覆盖先写的
func (p ActivityPatch) overlay(other ActivityPatch) ActivityPatch {
	if other.Status != nil {
		p.Status = other.Status
	}
	if other.Progress != nil {
		p.Progress = other.Progress
	}
	if other.Value != nil {
		p.Value = other.Value
	}
	if other.Notes != nil {
		p.Notes = other.Notes
	}
	if other.TimeAdded != nil {
		p.TimeAdded = other.TimeAdded
	}
	return p
}

// pendingWrite 记录一次已乐观生效、尚未确认的持久化写
// Snapshot 是写入前的活动记录，失败时用它把本地缓存滚回去
type pendingWrite struct {
	ID         string
	InstanceID uint
	Snapshot   db.ActivityRecord
	QueuedAt   time.Time
}

// coalescedPatch 是静默期内累积的轻量补丁
type coalescedPatch struct {
	patch    ActivityPatch
	snapshot db.ActivityRecord
	timer    *time.Timer
}

// Materializer 负责模板到日实例的物化与活动合并
// 本地缓存先行更新（乐观写），随后同步到 Store；写失败时回滚缓存并记日志。
// LoadDay 带世代号防护，迟到的响应不会覆盖更新的视图。
type Materializer struct {
	mu        sync.Mutex
	store     Store
	byID      map[uint]*db.DatedInstance
	byKey     map[string]uint
	pending   map[string]pendingWrite
	coalesced map[uint]*coalescedPatch
	debounce  time.Duration
	viewGen   uint64
	viewDate  string
}

// NewMaterializer 构造物化器，静默期默认 1 秒
func NewMaterializer(store Store) *Materializer {
	return &Materializer{
		store:     store,
		byID:      make(map[uint]*db.DatedInstance),
		byKey:     make(map[string]uint),
		pending:   make(map[string]pendingWrite),
		coalesced: make(map[uint]*coalescedPatch),
		debounce:  time.Second,
	}
}

// SetDebounceWindow 调整轻量补丁的静默期，测试用
func (m *Materializer) SetDebounceWindow(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debounce = d
}

func instanceKey(templateID uint, date time.Time) string {
	return fmt.Sprintf("%d|%s", templateID, dateKey(date))
}

// LoadDay 加载某天的实例集合并刷新缓存
// permanent 模板会在这里被饿式物化；其余模板等首次交互再惰性创建。
// 若加载期间视图已切换到别的日期，结果按过期数据静默丢弃。
func (m *Materializer) LoadDay(date time.Time) ([]db.DatedInstance, error) {
	token := m.beginView(date)

	templates, err := m.store.ListTemplates()
	if err != nil {
		return nil, err
	}
	for _, tpl := range templates {
		if !tpl.Permanent {
			continue
		}
		if _, err := m.store.CreateOrActivateInstance(tpl.ID, date); err != nil {
			return nil, err
		}
	}

	rows, err := m.store.ListInstances(date)
	if err != nil {
		return nil, err
	}

	if !m.applyDay(token, date, rows) {
		return nil, ErrStaleData
	}

	return rows, nil
}

// beginView 切换当前视图日期并领取世代号
func (m *Materializer) beginView(date time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewGen++
	m.viewDate = dateKey(date)
	return m.viewGen
}

// applyDay 把加载结果写入缓存；世代号已过期时拒绝应用
func (m *Materializer) applyDay(token uint64, date time.Time, rows []db.DatedInstance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.viewGen {
		return false
	}

	for i := range rows {
		m.cacheLocked(&rows[i])
	}
	return true
}

func (m *Materializer) cacheLocked(inst *db.DatedInstance) {
	copied := *inst
	m.byID[copied.ID] = &copied
	m.byKey[instanceKey(copied.TemplateID, copied.Date)] = copied.ID
}

// EnsureInstance 幂等获取 (templateID, date) 的活跃实例
// 已存在则原样返回，否则以 pending/0 创建；重复调用返回同一个实例 ID
func (m *Materializer) EnsureInstance(templateID uint, date time.Time) (*db.DatedInstance, error) {
	m.mu.Lock()
	if id, ok := m.byKey[instanceKey(templateID, date)]; ok {
		if inst, ok := m.byID[id]; ok && inst.IsActive {
			copied := *inst
			m.mu.Unlock()
			return &copied, nil
		}
	}
	m.mu.Unlock()

	inst, err := m.store.CreateOrActivateInstance(templateID, date)
	if err != nil {
		return nil, fmt.Errorf("ensure instance: %w", err)
	}

	m.mu.Lock()
	m.cacheLocked(inst)
	m.mu.Unlock()

	copied := *inst
	return &copied, nil
}

// Lookup 查询 (templateID, date) 的实例，包括已停用的历史行
func (m *Materializer) Lookup(templateID uint, date time.Time) (*db.DatedInstance, bool) {
	m.mu.Lock()
	if id, ok := m.byKey[instanceKey(templateID, date)]; ok {
		if inst, ok := m.byID[id]; ok {
			copied := *inst
			m.mu.Unlock()
			return &copied, true
		}
	}
	m.mu.Unlock()

	rows, err := m.store.ListInstancesForRange(templateID, date, date)
	if err != nil || len(rows) == 0 {
		return nil, false
	}

	m.mu.Lock()
	m.cacheLocked(&rows[0])
	m.mu.Unlock()

	copied := rows[0]
	return &copied, true
}

// MergeActivity 按字段合并补丁：缓存立即生效，随后同步到 Store
// 轻量补丁（备注/数值）在静默期内合并为一次写；持久化失败时缓存回滚到
// 写前快照。状态迁移不限制方向，已完成的实例允许重新打开（产品行为）。
func (m *Materializer) MergeActivity(instanceID uint, patch ActivityPatch) error {
	if patch.isZero() {
		return nil
	}

	m.mu.Lock()

	inst, ok := m.byID[instanceID]
	if !ok {
		m.mu.Unlock()
		hydrated, found := m.hydrate(instanceID)
		if !found {
			return ErrInstanceNotFound
		}
		m.mu.Lock()
		inst = hydrated
	}

	snapshot := inst.Activity
	mergeActivity(&inst.Activity, patch)

	if patch.lightweight() {
		m.coalesceLocked(instanceID, patch, snapshot)
		m.mu.Unlock()
		return nil
	}

	// 状态变化推导出的进度也要落盘，否则缓存与存储会分叉
	if patch.Status != nil && patch.Progress == nil {
		derived := inst.Activity.Progress
		patch.Progress = &derived
	}

	op := pendingWrite{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Snapshot:   snapshot,
		QueuedAt:   time.Now(),
	}
	m.pending[op.ID] = op
	m.mu.Unlock()

	if err := m.store.PatchActivity(instanceID, patch); err != nil {
		m.rollback(op)
		return fmt.Errorf("persist activity: %w", err)
	}

	m.mu.Lock()
	delete(m.pending, op.ID)
	m.mu.Unlock()
	return nil
}

// hydrate 把缓存外的实例按 ID 拉进缓存
func (m *Materializer) hydrate(instanceID uint) (*db.DatedInstance, bool) {
	inst, err := m.store.GetInstance(instanceID)
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheLocked(inst)
	return m.byID[inst.ID], true
}

// coalesceLocked 把轻量补丁并入静默期缓冲，重置计时器
func (m *Materializer) coalesceLocked(instanceID uint, patch ActivityPatch, snapshot db.ActivityRecord) {
	entry, ok := m.coalesced[instanceID]
	if ok {
		entry.timer.Stop()
		entry.patch = entry.patch.overlay(patch)
	} else {
		entry = &coalescedPatch{patch: patch, snapshot: snapshot}
		m.coalesced[instanceID] = entry
	}

	entry.timer = time.AfterFunc(m.debounce, func() {
		m.flushInstance(instanceID)
	})
}

// Flush 立即落盘所有静默期内累积的补丁
func (m *Materializer) Flush() {
	m.mu.Lock()
	ids := make([]uint, 0, len(m.coalesced))
	for id, entry := range m.coalesced {
		entry.timer.Stop()
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.flushInstance(id)
	}
}

func (m *Materializer) flushInstance(instanceID uint) {
	m.mu.Lock()
	entry, ok := m.coalesced[instanceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.coalesced, instanceID)

	op := pendingWrite{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Snapshot:   entry.snapshot,
		QueuedAt:   time.Now(),
	}
	m.pending[op.ID] = op
	patch := entry.patch
	m.mu.Unlock()

	if err := m.store.PatchActivity(instanceID, patch); err != nil {
		m.rollback(op)
		log.Printf("flush coalesced activity for instance %d failed: %v", instanceID, err)
		return
	}

	m.mu.Lock()
	delete(m.pending, op.ID)
	m.mu.Unlock()
}

// rollback 用写前快照撤销乐观更新
func (m *Materializer) rollback(op pendingWrite) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.byID[op.InstanceID]; ok {
		inst.Activity = op.Snapshot
	}
	delete(m.pending, op.ID)
	log.Printf("rolled back optimistic write %s on instance %d", op.ID, op.InstanceID)
}

// Deactivate 软删除实例：立即从当前视图消失，历史仍可被统计层读取
func (m *Materializer) Deactivate(instanceID uint) error {
	m.mu.Lock()
	inst, cached := m.byID[instanceID]
	if cached {
		inst.IsActive = false
	}
	m.mu.Unlock()

	if err := m.store.DeactivateInstance(instanceID); err != nil {
		if cached {
			m.mu.Lock()
			if inst, ok := m.byID[instanceID]; ok {
				inst.IsActive = true
			}
			m.mu.Unlock()
			log.Printf("rolled back deactivation of instance %d: %v", instanceID, err)
		}
		return fmt.Errorf("deactivate instance: %w", err)
	}
	return nil
}

// InstancesForRange 透传区间查询，供统计层使用
func (m *Materializer) InstancesForRange(templateID uint, start, end time.Time) ([]db.DatedInstance, error) {
	return m.store.ListInstancesForRange(templateID, start, end)
}

// PendingWrites 返回尚未确认的写入数，测试与诊断用
func (m *Materializer) PendingWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// mergeActivity 执行字段级合并；状态变化时若补丁未显式给出进度，
// 按状态推导默认值以保持进度与状态的单调对应
func mergeActivity(base *db.ActivityRecord, patch ActivityPatch) {
	if patch.Status != nil {
		base.Status = *patch.Status
		if patch.Progress == nil {
			switch *patch.Status {
			case db.StatusPending:
				base.Progress = 0
			case db.StatusCompleted:
				base.Progress = 100
			case db.StatusInProgress:
				if base.Progress <= 0 || base.Progress >= 100 {
					base.Progress = 50
				}
			}
		}
	}
	if patch.Progress != nil {
		base.Progress = clampProgress(*patch.Progress)
	}
	if patch.Value != nil {
		base.Value = *patch.Value
	}
	if patch.Notes != nil {
		base.Notes = *patch.Notes
	}
	if patch.TimeAdded != nil {
		base.TimeAdded = *patch.TimeAdded
	}
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
