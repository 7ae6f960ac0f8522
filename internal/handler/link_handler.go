package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/service"
)

type setLinkRequest struct {
	MemberID  uint   `json:"member_id" binding:"required"`
	TrackerID uint   `json:"tracker_id"`
	Kind      string `json:"kind" binding:"required"`
}

// SetLink 设置成员模板的追踪器关联，tracker_id 为 0 时清除
// 同一种类下新关联覆盖旧关联，成员不会同时挂在两个追踪器上
func (a *API) SetLink(c *gin.Context) {
	var req setLinkRequest
	if !bindJSON(c, &req, "无效的关联参数") {
		return
	}

	kind, err := service.ParseLinkKind(req.Kind)
	if err != nil {
		respondError(c, http.StatusBadRequest, "不支持的追踪器种类")
		return
	}

	if err := a.links.SetLink(req.MemberID, req.TrackerID, kind); err != nil {
		if errors.Is(err, service.ErrTemplateNotFound) {
			respondError(c, http.StatusNotFound, "模板不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "保存关联失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// LinkMembers 返回指向该追踪器的全部成员模板 ID
func (a *API) LinkMembers(c *gin.Context) {
	trackerID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的追踪器ID")
		return
	}

	kind, err := service.ParseLinkKind(c.DefaultQuery("kind", string(service.LinkHabit)))
	if err != nil {
		respondError(c, http.StatusBadRequest, "不支持的追踪器种类")
		return
	}

	members, err := a.links.MembersOf(trackerID, kind)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询成员失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}
