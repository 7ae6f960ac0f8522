package service

import (
	"errors"
	"testing"
	"time"

	"github.com/pulselog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.CommitmentTemplate{}, &db.DatedInstance{}, &db.User{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func seedTemplate(t *testing.T, tpl db.CommitmentTemplate) db.CommitmentTemplate {
	t.Helper()
	if tpl.Kind == "" {
		tpl.Kind = db.KindHabit
	}
	if tpl.Config == nil {
		tpl.Config = db.ConfigMap{}
	}
	if err := db.DB.Create(&tpl).Error; err != nil {
		t.Fatalf("failed to seed template: %v", err)
	}
	return tpl
}

// failingStore 包装真实 Store，按需注入写失败
type failingStore struct {
	Store
	failPatch      bool
	failDeactivate bool
}

func (s *failingStore) PatchActivity(instanceID uint, patch ActivityPatch) error {
	if s.failPatch {
		return errors.New("simulated network failure")
	}
	return s.Store.PatchActivity(instanceID, patch)
}

func (s *failingStore) DeactivateInstance(instanceID uint) error {
	if s.failDeactivate {
		return errors.New("simulated network failure")
	}
	return s.Store.DeactivateInstance(instanceID)
}

func TestEnsureInstanceIdempotent(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "晨跑"})
	m := NewMaterializer(NewGormStore(db.DB))
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)

	first, err := m.EnsureInstance(tpl.ID, date)
	if err != nil {
		t.Fatalf("EnsureInstance returned error: %v", err)
	}
	if first.Activity.Status != db.StatusPending || first.Activity.Progress != 0 {
		t.Fatalf("new instance should start pending/0, got %s/%d", first.Activity.Status, first.Activity.Progress)
	}

	second, err := m.EnsureInstance(tpl.ID, date)
	if err != nil {
		t.Fatalf("second EnsureInstance returned error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same instance id, got %d and %d", first.ID, second.ID)
	}

	var count int64
	if err := db.DB.Model(&db.DatedInstance{}).Where("template_id = ?", tpl.ID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestMergePreservesUnspecifiedFields(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "喝水"})
	m := NewMaterializer(NewGormStore(db.DB))
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)

	inst, err := m.EnsureInstance(tpl.ID, date)
	if err != nil {
		t.Fatalf("EnsureInstance returned error: %v", err)
	}

	completed := db.StatusCompleted
	notes := "x"
	if err := m.MergeActivity(inst.ID, ActivityPatch{Status: &completed, Notes: &notes}); err != nil {
		t.Fatalf("first merge returned error: %v", err)
	}

	value := "5"
	if err := m.MergeActivity(inst.ID, ActivityPatch{Value: &value}); err != nil {
		t.Fatalf("second merge returned error: %v", err)
	}
	m.Flush()

	var reloaded db.DatedInstance
	if err := db.DB.First(&reloaded, inst.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if reloaded.Activity.Status != db.StatusCompleted {
		t.Fatalf("status clobbered: %s", reloaded.Activity.Status)
	}
	if reloaded.Activity.Notes != "x" {
		t.Fatalf("notes clobbered: %s", reloaded.Activity.Notes)
	}
	if reloaded.Activity.Value != "5" {
		t.Fatalf("value missing: %s", reloaded.Activity.Value)
	}
	if reloaded.Activity.Progress != 100 {
		t.Fatalf("completed status should imply progress 100, got %d", reloaded.Activity.Progress)
	}
}

func TestStatusCanReopen(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "冥想"})
	m := NewMaterializer(NewGormStore(db.DB))
	date := time.Date(2024, 5, 2, 0, 0, 0, 0, time.Local)

	inst, _ := m.EnsureInstance(tpl.ID, date)

	completed := db.StatusCompleted
	if err := m.MergeActivity(inst.ID, ActivityPatch{Status: &completed}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// 已完成的实例允许改回 pending，这是产品行为而非缺陷
	pending := db.StatusPending
	if err := m.MergeActivity(inst.ID, ActivityPatch{Status: &pending}); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	var reloaded db.DatedInstance
	db.DB.First(&reloaded, inst.ID)
	if reloaded.Activity.Status != db.StatusPending || reloaded.Activity.Progress != 0 {
		t.Fatalf("expected pending/0 after reopen, got %s/%d", reloaded.Activity.Status, reloaded.Activity.Progress)
	}
}

func TestDeactivateKeepsHistory(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "阅读"})
	store := NewGormStore(db.DB)
	m := NewMaterializer(store)
	date := time.Date(2024, 5, 3, 0, 0, 0, 0, time.Local)

	inst, _ := m.EnsureInstance(tpl.ID, date)
	completed := db.StatusCompleted
	if err := m.MergeActivity(inst.ID, ActivityPatch{Status: &completed}); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if err := m.Deactivate(inst.ID); err != nil {
		t.Fatalf("Deactivate returned error: %v", err)
	}

	active, err := store.ListInstances(date)
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("deactivated instance still listed as active")
	}

	history, err := store.ListInstancesForRange(tpl.ID, date, date)
	if err != nil {
		t.Fatalf("ListInstancesForRange failed: %v", err)
	}
	if len(history) != 1 || history[0].Activity.Status != db.StatusCompleted {
		t.Fatal("completed history should survive deactivation")
	}

	// 重新激活复用同一行
	revived, err := m.EnsureInstance(tpl.ID, date)
	if err != nil {
		t.Fatalf("re-ensure failed: %v", err)
	}
	if revived.ID != inst.ID {
		t.Fatalf("reactivation created a new row: %d vs %d", revived.ID, inst.ID)
	}
}

func TestMergeRollsBackOnFailedWrite(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "写日记"})
	failing := &failingStore{Store: NewGormStore(db.DB)}
	m := NewMaterializer(failing)
	date := time.Date(2024, 5, 4, 0, 0, 0, 0, time.Local)

	inst, _ := m.EnsureInstance(tpl.ID, date)

	failing.failPatch = true
	completed := db.StatusCompleted
	if err := m.MergeActivity(inst.ID, ActivityPatch{Status: &completed}); err == nil {
		t.Fatal("expected merge to surface the write failure")
	}

	// 乐观更新必须被滚回，缓存与远端保持一致
	cached, ok := m.Lookup(tpl.ID, date)
	if !ok {
		t.Fatal("instance missing from cache")
	}
	if cached.Activity.Status != db.StatusPending {
		t.Fatalf("expected rollback to pending, got %s", cached.Activity.Status)
	}
	if m.PendingWrites() != 0 {
		t.Fatalf("pending arena should be drained, got %d", m.PendingWrites())
	}
}

func TestDeactivateRollsBackOnFailedWrite(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "拉伸"})
	failing := &failingStore{Store: NewGormStore(db.DB)}
	m := NewMaterializer(failing)
	date := time.Date(2024, 5, 5, 0, 0, 0, 0, time.Local)

	inst, _ := m.EnsureInstance(tpl.ID, date)

	failing.failDeactivate = true
	if err := m.Deactivate(inst.ID); err == nil {
		t.Fatal("expected deactivate to surface the write failure")
	}

	cached, ok := m.Lookup(tpl.ID, date)
	if !ok || !cached.IsActive {
		t.Fatal("failed deactivation should restore the active flag")
	}
}

func TestStaleDaySnapshotDiscarded(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "背单词"})
	store := NewGormStore(db.DB)
	m := NewMaterializer(store)

	day1 := time.Date(2024, 5, 6, 0, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)

	if _, err := store.CreateOrActivateInstance(tpl.ID, day1); err != nil {
		t.Fatalf("seed instance failed: %v", err)
	}

	// 模拟慢响应：day1 的请求发出后视图已切到 day2
	token := m.beginView(day1)
	rows, err := store.ListInstances(day1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	m.beginView(day2)

	if m.applyDay(token, day1, rows) {
		t.Fatal("stale response must not be applied over the newer view")
	}
}

func TestLoadDayMaterializesPermanentTemplates(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	permanent := seedTemplate(t, db.CommitmentTemplate{Title: "吃药", Permanent: true})
	optIn := seedTemplate(t, db.CommitmentTemplate{Title: "游泳"})

	m := NewMaterializer(NewGormStore(db.DB))
	date := time.Date(2024, 5, 7, 0, 0, 0, 0, time.Local)

	instances, err := m.LoadDay(date)
	if err != nil {
		t.Fatalf("LoadDay returned error: %v", err)
	}

	if len(instances) != 1 {
		t.Fatalf("expected only the permanent template materialized, got %d", len(instances))
	}
	if instances[0].TemplateID != permanent.ID {
		t.Fatalf("unexpected template %d materialized", instances[0].TemplateID)
	}

	// 非 permanent 模板等待首次交互
	if _, found := m.Lookup(optIn.ID, date); found {
		t.Fatal("opt-in template should not be eagerly materialized")
	}
}

func TestDebouncedNotesCoalesce(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "随手记"})
	store := NewGormStore(db.DB)
	m := NewMaterializer(store)
	m.SetDebounceWindow(10 * time.Millisecond)
	date := time.Date(2024, 5, 8, 0, 0, 0, 0, time.Local)

	inst, _ := m.EnsureInstance(tpl.ID, date)

	for _, text := range []string{"今", "今天", "今天状态不错"} {
		notes := text
		if err := m.MergeActivity(inst.ID, ActivityPatch{Notes: &notes}); err != nil {
			t.Fatalf("merge failed: %v", err)
		}
	}

	// 静默期内的编辑合并为一次写
	time.Sleep(100 * time.Millisecond)

	var reloaded db.DatedInstance
	if err := db.DB.First(&reloaded, inst.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Activity.Notes != "今天状态不错" {
		t.Fatalf("expected final coalesced notes, got %q", reloaded.Activity.Notes)
	}
	if m.PendingWrites() != 0 {
		t.Fatalf("pending arena should be empty, got %d", m.PendingWrites())
	}
}
