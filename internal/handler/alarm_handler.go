package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/service"
)

func alarmStateToPayload(state service.AlarmRuntimeState) gin.H {
	payload := gin.H{
		"state":        string(state.State),
		"snooze_count": state.SnoozeCount,
	}
	if state.SnoozeUntil != nil {
		payload["snooze_until"] = state.SnoozeUntil.Format(time.RFC3339)
	}
	if state.SnoozeRemaining > 0 {
		payload["snooze_remaining_seconds"] = int(state.SnoozeRemaining.Seconds())
	}
	if state.StartedAt != nil {
		payload["started_at"] = state.StartedAt.Format(time.RFC3339)
	}
	return payload
}

// AlarmSnapshot 返回模板在指定日期此刻的闹钟状态
func (a *API) AlarmSnapshot(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的模板ID")
		return
	}

	date, err := parseDateQuery(c, "date", time.Now())
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日期参数")
		return
	}

	c.JSON(http.StatusOK, gin.H{"alarm": alarmStateToPayload(a.alarms.Snapshot(id, date))})
}

type snoozeRequest struct {
	Date    string `json:"date"`
	Minutes int    `json:"minutes"`
}

// SnoozeAlarm 贪睡指定分钟数
func (a *API) SnoozeAlarm(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的模板ID")
		return
	}

	var req snoozeRequest
	if !bindJSON(c, &req, "无效的贪睡参数") {
		return
	}

	date := time.Now()
	if req.Date != "" {
		if date, err = parseDateField(req.Date); err != nil {
			respondError(c, http.StatusBadRequest, "无效的日期格式")
			return
		}
	}

	state, err := a.alarms.Snooze(id, date, req.Minutes)
	if err != nil {
		if errors.Is(err, service.ErrAlarmNotRegistered) {
			respondError(c, http.StatusNotFound, "闹钟未注册")
			return
		}
		respondError(c, http.StatusInternalServerError, "贪睡失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"alarm": alarmStateToPayload(state)})
}

type stopAlarmRequest struct {
	Date string `json:"date"`
}

// StopAlarm 终止当日闹钟并持久化完成记录
func (a *API) StopAlarm(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的模板ID")
		return
	}

	var req stopAlarmRequest
	if !bindJSON(c, &req, "无效的停止参数") {
		return
	}

	date := time.Now()
	if req.Date != "" {
		if date, err = parseDateField(req.Date); err != nil {
			respondError(c, http.StatusBadRequest, "无效的日期格式")
			return
		}
	}

	state, err := a.alarms.StopAlarm(id, date)
	if err != nil {
		if errors.Is(err, service.ErrAlarmNotRegistered) {
			respondError(c, http.StatusNotFound, "闹钟未注册")
			return
		}
		respondError(c, http.StatusInternalServerError, "停止闹钟失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"alarm": alarmStateToPayload(state)})
}

// SyncAlarmRegistry 重新扫描 alarm 模板并注册到共享调度器
func (a *API) SyncAlarmRegistry(c *gin.Context) {
	if err := a.SyncAlarms(); err != nil {
		respondError(c, http.StatusInternalServerError, "同步闹钟注册失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
