package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/config"
	"github.com/pulselog/internal/db"
	"github.com/pulselog/internal/handler"
	"github.com/pulselog/internal/router"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 引导用户，未配置时认证关闭
	if err := db.EnsureUser(cfg.BootstrapUserName, cfg.BootstrapPassword); err != nil {
		log.Fatalf("failed to ensure bootstrap user: %v", err)
	}

	api := handler.NewAPI(db.DB, cfg.PriorityBaseURL)

	// 注册 alarm 模板并启动共享节拍
	if err := api.SyncAlarms(); err != nil {
		log.Fatalf("failed to sync alarm templates: %v", err)
	}
	api.StartAlarms()
	defer api.Shutdown()

	r := router.SetupRouter(api, cfg.SessionSecret, cfg.AuthEnabled())
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
