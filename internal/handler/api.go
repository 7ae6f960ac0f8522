package handler

import (
	"log"

	"github.com/pulselog/internal/db"
	"github.com/pulselog/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db           *gorm.DB
	store        service.Store
	materializer *service.Materializer
	alarms       *service.AlarmService
	streaks      *service.StreakAggregator
	links        *service.LinkRegistry
	priority     *service.PriorityClient
}

// logChimer 是默认的提示音实现：服务端只能记日志，真正的发声在展示层
type logChimer struct{}

func (logChimer) Chime(templateID uint) {
	log.Printf("alarm ringing for template %d", templateID)
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, priorityBaseURL string) *API {
	store := service.NewGormStore(gdb)
	materializer := service.NewMaterializer(store)

	return &API{
		db:           gdb,
		store:        store,
		materializer: materializer,
		alarms:       service.NewAlarmService(materializer, service.SystemClock(), logChimer{}),
		streaks:      service.NewStreakAggregator(materializer, store),
		links:        service.NewLinkRegistry(store),
		priority:     service.NewPriorityClient(priorityBaseURL),
	}
}

// SyncAlarms 把所有 alarm 类型模板重新注册到闹钟调度器
func (a *API) SyncAlarms() error {
	templates, err := a.store.ListTemplates()
	if err != nil {
		return err
	}

	for _, tpl := range templates {
		if tpl.Kind != db.KindAlarm {
			continue
		}
		if err := a.alarms.Register(tpl); err != nil {
			log.Printf("skip alarm template %d: %v", tpl.ID, err)
		}
	}
	return nil
}

// StartAlarms 启动共享的闹钟节拍循环
func (a *API) StartAlarms() {
	a.alarms.Start()
}

// Shutdown 停掉闹钟节拍并把静默期内的补丁落盘
func (a *API) Shutdown() {
	a.alarms.Stop()
	a.materializer.Flush()
}
