package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/db"
	"github.com/pulselog/internal/service"
)

type frequencyPayload struct {
	SliderValue float64 `json:"slider_value"`
	Count       int     `json:"count"`
	Unit        string  `json:"unit"`
	Period      string  `json:"period"`
	Set         string  `json:"frequency_set"`
	IsDaily     bool    `json:"is_daily_habit"`
}

func frequencyToPayload(d service.FrequencyDescriptor) frequencyPayload {
	return frequencyPayload{
		SliderValue: d.SliderValue,
		Count:       d.Count,
		Unit:        string(d.Unit),
		Period:      string(d.Period),
		Set:         string(d.Set),
		IsDaily:     d.IsDailyHabit(),
	}
}

func templateToPayload(tpl db.CommitmentTemplate) gin.H {
	return gin.H{
		"id":        tpl.ID,
		"kind":      string(tpl.Kind),
		"title":     tpl.Title,
		"category":  tpl.Category,
		"permanent": tpl.Permanent,
		"config":    tpl.Config,
		"frequency": frequencyToPayload(service.DescriptorFromTemplate(tpl)),
	}
}

// ListTemplates 返回全部承诺模板 JSON，频率字段随带规范化后的描述符
func (a *API) ListTemplates(c *gin.Context) {
	templates, err := a.store.ListTemplates()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取模板列表失败")
		return
	}

	items := make([]gin.H, 0, len(templates))
	for _, tpl := range templates {
		items = append(items, templateToPayload(tpl))
	}

	c.JSON(http.StatusOK, gin.H{"templates": items})
}

type normalizeFrequencyRequest struct {
	SliderValue *float64 `json:"slider_value"`
	Count       int      `json:"count"`
	Unit        string   `json:"unit"`
	Period      string   `json:"period"`
}

// NormalizeFrequency 频率表单的双向换算入口
// 只给滑块值 → 展开为档位规范细化设置；给了细化字段 → 夹逼并重算档位。
// 两条路径共用同一条 bucket 规则，滑块视图与细化视图不会失同步
func (a *API) NormalizeFrequency(c *gin.Context) {
	var req normalizeFrequencyRequest
	if !bindJSON(c, &req, "无效的频率参数") {
		return
	}

	var descriptor service.FrequencyDescriptor
	if req.Period == "" && req.Count == 0 {
		if req.SliderValue == nil {
			respondError(c, http.StatusBadRequest, "缺少滑块值或细化字段")
			return
		}
		descriptor = service.ToDetailed(*req.SliderValue)
	} else {
		period, err := service.ParsePeriod(req.Period)
		if err != nil {
			respondError(c, http.StatusBadRequest, "不支持的频率周期")
			return
		}
		descriptor = service.Normalize(service.FrequencyDescriptor{
			Count:  req.Count,
			Unit:   service.FrequencyUnit(req.Unit),
			Period: period,
		})
	}

	c.JSON(http.StatusOK, gin.H{"frequency": frequencyToPayload(descriptor)})
}
