package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/db"
	"github.com/pulselog/internal/service"
)

func instanceToPayload(inst db.DatedInstance) gin.H {
	return gin.H{
		"id":          inst.ID,
		"template_id": inst.TemplateID,
		"date":        inst.Date.Format(dateFormat),
		"is_active":   inst.IsActive,
		"activity": gin.H{
			"status":     inst.Activity.Status,
			"progress":   inst.Activity.Progress,
			"value":      inst.Activity.Value,
			"notes":      inst.Activity.Notes,
			"time_added": inst.Activity.TimeAdded,
		},
	}
}

// ListDay 加载某天的实例集合；permanent 模板会在加载时被自动物化
func (a *API) ListDay(c *gin.Context) {
	date, err := parseDateQuery(c, "date", time.Now())
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日期参数")
		return
	}

	instances, err := a.materializer.LoadDay(date)
	if err != nil {
		if errors.Is(err, service.ErrStaleData) {
			// 过期响应静默丢弃，前端保持现有视图
			c.Status(http.StatusNoContent)
			return
		}
		respondError(c, http.StatusInternalServerError, "加载当日实例失败")
		return
	}

	items := make([]gin.H, 0, len(instances))
	for _, inst := range instances {
		items = append(items, instanceToPayload(inst))
	}

	c.JSON(http.StatusOK, gin.H{"date": date.Format(dateFormat), "instances": items})
}

type ensureInstanceRequest struct {
	TemplateID uint   `json:"template_id" binding:"required"`
	Date       string `json:"date" binding:"required"`
}

// EnsureInstance 幂等获取/创建某天的实例，重复调用返回同一个实例
func (a *API) EnsureInstance(c *gin.Context) {
	var req ensureInstanceRequest
	if !bindJSON(c, &req, "无效的实例参数") {
		return
	}

	date, err := parseDateField(req.Date)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日期格式")
		return
	}

	inst, err := a.materializer.EnsureInstance(req.TemplateID, date)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "物化实例失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"instance": instanceToPayload(*inst)})
}

type mergeActivityRequest struct {
	Status    *string `json:"status"`
	Progress  *int    `json:"progress"`
	Value     *string `json:"value"`
	Notes     *string `json:"notes"`
	TimeAdded *string `json:"time_added"`
}

// MergeActivity 字段级合并活动记录，未提及的字段保持原值
func (a *API) MergeActivity(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的实例ID")
		return
	}

	var req mergeActivityRequest
	if !bindJSON(c, &req, "无效的活动补丁") {
		return
	}

	if req.Status != nil {
		switch *req.Status {
		case db.StatusPending, db.StatusInProgress, db.StatusCompleted, db.StatusCancelled:
		default:
			respondError(c, http.StatusBadRequest, "不支持的活动状态")
			return
		}
	}

	patch := service.ActivityPatch{
		Status:    req.Status,
		Progress:  req.Progress,
		Value:     req.Value,
		Notes:     req.Notes,
		TimeAdded: req.TimeAdded,
	}

	if err := a.materializer.MergeActivity(id, patch); err != nil {
		if errors.Is(err, service.ErrInstanceNotFound) {
			respondError(c, http.StatusNotFound, "实例不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "保存活动失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeactivateInstance 软删除实例，历史记录仍参与统计
func (a *API) DeactivateInstance(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的实例ID")
		return
	}

	if err := a.materializer.Deactivate(id); err != nil {
		if errors.Is(err, service.ErrInstanceNotFound) {
			respondError(c, http.StatusNotFound, "实例不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "停用实例失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type previewNotesRequest struct {
	Notes string `json:"notes"`
}

// PreviewNotes 把备注 Markdown 渲染为净化后的 HTML 预览
func (a *API) PreviewNotes(c *gin.Context) {
	var req previewNotesRequest
	if !bindJSON(c, &req, "无效的备注内容") {
		return
	}

	html, err := service.RenderNoteHTML(req.Notes)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "渲染备注失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"html": html})
}
