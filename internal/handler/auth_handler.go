package handler

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/db"
	"golang.org/x/crypto/bcrypt"
)

const welcomeShownKey = "welcome_shown"

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 校验引导用户并建立会话
func Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req, "无效的登录参数") {
		return
	}

	var user db.User
	if err := db.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Logout 清除当前会话
func Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// AuthRequired 是一个简单的认证中间件
// enabled 为 false 时直接放行：未配置引导用户即视为未启用认证
func AuthRequired(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		session := sessions.Default(c)
		if session.Get("user_id") == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}
		c.Next()
	}
}

// WelcomeState 返回欢迎信息是否还需要展示，并就地标记为已展示
// 标记挂在会话上由其生命周期管理，不再是进程级的一次性变量
func WelcomeState(c *gin.Context) {
	session := sessions.Default(c)

	shown := session.Get(welcomeShownKey) == true
	if !shown {
		session.Set(welcomeShownKey, true)
		if err := session.Save(); err != nil {
			respondError(c, http.StatusInternalServerError, "会话保存失败")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"show_welcome": !shown})
}
