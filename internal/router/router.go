package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
// requireAuth 为 false 时（未配置引导用户）API 不做登录校验
func SetupRouter(api *handler.API, sessionSecret string, requireAuth bool) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("pulselog_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	r.POST("/api/login", handler.Login)
	r.POST("/api/logout", handler.Logout)
	r.GET("/api/session/welcome", handler.WelcomeState)

	// 引擎 API
	apiGroup := r.Group("/api")
	apiGroup.Use(handler.AuthRequired(requireAuth))
	{
		apiGroup.GET("/templates", api.ListTemplates)
		apiGroup.POST("/frequency/normalize", api.NormalizeFrequency)

		apiGroup.GET("/instances", api.ListDay)
		apiGroup.POST("/instances", api.EnsureInstance)
		apiGroup.PATCH("/instances/:id/activity", api.MergeActivity)
		apiGroup.DELETE("/instances/:id", api.DeactivateInstance)
		apiGroup.POST("/notes/preview", api.PreviewNotes)

		apiGroup.GET("/alarms/:id", api.AlarmSnapshot)
		apiGroup.POST("/alarms/:id/snooze", api.SnoozeAlarm)
		apiGroup.POST("/alarms/:id/stop", api.StopAlarm)
		apiGroup.POST("/sync/alarms", api.SyncAlarmRegistry)

		apiGroup.GET("/stats/streaks", api.StreakStats)
		apiGroup.GET("/stats/monthly", api.MonthlyStats)
		apiGroup.GET("/trackers/:id/rings", api.RingLayout)

		apiGroup.GET("/templates/:id/projection", api.Projection)
		apiGroup.GET("/templates/:id/priority", api.TemplatePriority)

		apiGroup.PUT("/links", api.SetLink)
		apiGroup.GET("/links/:id/members", api.LinkMembers)
	}

	return r
}
