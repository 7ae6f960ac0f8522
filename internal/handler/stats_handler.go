package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/service"
)

func streakStatsToPayload(stats *service.StreakStats) gin.H {
	return gin.H{
		"range_start":     stats.RangeStart.Format(dateFormat),
		"range_end":       stats.RangeEnd.Format(dateFormat),
		"current_streak":  stats.CurrentStreak,
		"longest_streak":  stats.LongestStreak,
		"total_completed": stats.TotalCompleted,
		"total_scheduled": stats.TotalScheduled,
		"completion_rate": stats.CompletionRate,
	}
}

// StreakStats 查询连胜统计，按模板或类别过滤
func (a *API) StreakStats(c *gin.Context) {
	start, err := parseDateQuery(c, "start", time.Now().AddDate(0, -1, 0))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的起始日期")
		return
	}
	end, err := parseDateQuery(c, "end", time.Now())
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的结束日期")
		return
	}

	category := strings.TrimSpace(c.Query("category"))
	templateRaw := strings.TrimSpace(c.Query("template_id"))

	var stats *service.StreakStats
	switch {
	case templateRaw != "":
		templateID, parseErr := strconv.ParseUint(templateRaw, 10, 32)
		if parseErr != nil {
			respondError(c, http.StatusBadRequest, "无效的模板ID")
			return
		}
		stats, err = a.streaks.ComputeStats(uint(templateID), start, end)
	case category != "":
		stats, err = a.streaks.ComputeCategoryStats(category, start, end)
	default:
		respondError(c, http.StatusBadRequest, "缺少模板或类别过滤条件")
		return
	}

	if err != nil {
		respondError(c, http.StatusInternalServerError, "计算连胜统计失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": streakStatsToPayload(stats)})
}

// MonthlyStats 返回整月的总体与分类别完成统计
func (a *API) MonthlyStats(c *gin.Context) {
	month, err := parseDateQuery(c, "month", time.Now())
	if err != nil {
		// 允许 "2024-01" 形式
		raw := strings.TrimSpace(c.Query("month"))
		parsed, parseErr := time.ParseInLocation("2006-01", raw, time.Local)
		if parseErr != nil {
			respondError(c, http.StatusBadRequest, "无效的月份参数")
			return
		}
		month = parsed
	}

	stats, err := a.streaks.MonthlyStats(month)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "计算月度统计失败")
		return
	}

	categories := make([]gin.H, 0, len(stats.ByCategory))
	for _, cat := range stats.ByCategory {
		categories = append(categories, gin.H{
			"category":        cat.Category,
			"total_completed": cat.TotalCompleted,
			"total_scheduled": cat.TotalScheduled,
			"completion_rate": cat.CompletionRate,
			"current_streak":  cat.CurrentStreak,
			"longest_streak":  cat.LongestStreak,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"month":       stats.Month.Format("2006-01"),
		"overall":     streakStatsToPayload(&stats.Overall),
		"by_category": categories,
	})
}

// RingLayout 为追踪器的成员模板生成环形图布局
func (a *API) RingLayout(c *gin.Context) {
	trackerID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的追踪器ID")
		return
	}

	month, err := parseDateQuery(c, "month", time.Now())
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的月份参数")
		return
	}

	members, err := a.links.MembersOf(trackerID, service.LinkHabit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询追踪器成员失败")
		return
	}

	segments, err := a.streaks.RingLayout(members, month)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "生成环形布局失败")
		return
	}

	items := make([]gin.H, 0, len(segments))
	for _, seg := range segments {
		items = append(items, gin.H{
			"ring":        seg.Ring,
			"template_id": seg.TemplateID,
			"category":    seg.Category,
			"day":         seg.Day,
			"start_deg":   seg.StartDeg,
			"end_deg":     seg.EndDeg,
			"completed":   seg.Completed,
		})
	}

	c.JSON(http.StatusOK, gin.H{"segments": items})
}

// Projection 为模板生成区间内的前瞻活跃日预测，供热力图预览
func (a *API) Projection(c *gin.Context) {
	templateID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的模板ID")
		return
	}

	start, err := parseDateQuery(c, "start", time.Now())
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的起始日期")
		return
	}
	end, err := parseDateQuery(c, "end", time.Now().AddDate(0, 1, 0))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的结束日期")
		return
	}

	tpl, err := a.store.GetTemplate(templateID)
	if err != nil {
		respondError(c, http.StatusNotFound, "模板不存在")
		return
	}

	descriptor := service.DescriptorFromTemplate(*tpl)
	days := service.ProjectRange(tpl.ID, descriptor, start, end, time.Now())

	items := make([]gin.H, 0, len(days))
	for _, day := range days {
		items = append(items, gin.H{
			"date":   day.Date.Format(dateFormat),
			"active": day.Active,
		})
	}

	c.JSON(http.StatusOK, gin.H{"days": items})
}

// TemplatePriority 查询模板的远端优先级评分，失败时降级为 medium
func (a *API) TemplatePriority(c *gin.Context) {
	templateID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的模板ID")
		return
	}

	date, err := parseDateQuery(c, "date", time.Now())
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日期参数")
		return
	}

	result := a.priority.Fetch(c.Request.Context(), templateID, date)
	c.JSON(http.StatusOK, gin.H{
		"priority": string(result.Priority),
		"reason":   result.Reason,
	})
}
