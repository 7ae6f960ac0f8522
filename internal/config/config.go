package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabasePath      string
	SessionSecret     string
	GinMode           string
	PriorityBaseURL   string
	BootstrapUserName string
	BootstrapPassword string
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databasePath := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if databasePath == "" {
		databasePath = "pulselog.db"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = "pulselog-dev-secret"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	// 远端优先级评分服务，留空表示未接入，评分一律回退 medium
	priorityBaseURL := strings.TrimSpace(os.Getenv("PRIORITY_BASE_URL"))

	bootstrapUserName := strings.TrimSpace(os.Getenv("BOOTSTRAP_USER_NAME"))
	bootstrapPassword := strings.TrimSpace(os.Getenv("BOOTSTRAP_PASSWORD"))

	return AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		DatabasePath:      databasePath,
		SessionSecret:     sessionSecret,
		GinMode:           ginMode,
		PriorityBaseURL:   priorityBaseURL,
		BootstrapUserName: bootstrapUserName,
		BootstrapPassword: bootstrapPassword,
	}
}

// AuthEnabled 判断是否配置了引导用户，未配置时 API 不做登录校验
func (c AppConfig) AuthEnabled() bool {
	return c.BootstrapUserName != "" && c.BootstrapPassword != ""
}
