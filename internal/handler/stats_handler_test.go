package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/db"
)

func getWithParams(t *testing.T, handler func(*gin.Context), target string, params gin.Params) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params

	handler(c)
	return w
}

func seedCompletedInstance(t *testing.T, templateID uint, date string) {
	t.Helper()

	parsed, err := time.ParseInLocation(dateFormat, date, time.Local)
	if err != nil {
		t.Fatalf("bad seed date %s: %v", date, err)
	}
	inst := db.DatedInstance{
		TemplateID: templateID,
		Date:       parsed,
		IsActive:   true,
		Activity:   db.ActivityRecord{Status: db.StatusCompleted, Progress: 100},
	}
	if err := db.DB.Create(&inst).Error; err != nil {
		t.Fatalf("failed to seed instance: %v", err)
	}
}

func TestStreakStatsEndpoint(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "晨跑", Category: "运动"})
	seedCompletedInstance(t, tpl.ID, "2026-01-01")
	seedCompletedInstance(t, tpl.ID, "2026-01-02")
	seedCompletedInstance(t, tpl.ID, "2026-01-03")

	idStr := strconv.Itoa(int(tpl.ID))
	w := getWithParams(t, api.StreakStats,
		"/api/stats/streaks?template_id="+idStr+"&start=2026-01-01&end=2026-01-05", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Stats struct {
			CurrentStreak  int `json:"current_streak"`
			LongestStreak  int `json:"longest_streak"`
			TotalCompleted int `json:"total_completed"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Stats.LongestStreak != 3 {
		t.Fatalf("expected longest streak 3, got %d", resp.Stats.LongestStreak)
	}
	if resp.Stats.TotalCompleted != 3 {
		t.Fatalf("expected 3 completed, got %d", resp.Stats.TotalCompleted)
	}
}

func TestStreakStatsRequiresFilter(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	w := getWithParams(t, api.StreakStats, "/api/stats/streaks?start=2026-01-01&end=2026-01-05", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestMonthlyStatsAcceptsShortMonth(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{Title: "晨跑", Category: "运动"})
	seedCompletedInstance(t, tpl.ID, "2026-01-10")

	w := getWithParams(t, api.MonthlyStats, "/api/stats/monthly?month=2026-01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Month      string `json:"month"`
		ByCategory []struct {
			Category       string `json:"category"`
			TotalCompleted int    `json:"total_completed"`
		} `json:"by_category"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Month != "2026-01" {
		t.Fatalf("expected month 2026-01, got %s", resp.Month)
	}
	if len(resp.ByCategory) != 1 || resp.ByCategory[0].Category != "运动" {
		t.Fatalf("expected a single 运动 category entry, got %+v", resp.ByCategory)
	}
}

func TestProjectionEndpoint(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	tpl := seedTemplate(t, db.CommitmentTemplate{
		Title:           "晨跑",
		SliderValue:     0.9,
		FrequencyCount:  1,
		FrequencyUnit:   "times",
		FrequencyPeriod: "daily",
		FrequencySet:    "rigorous",
	})

	idStr := strconv.Itoa(int(tpl.ID))
	start := time.Now().AddDate(0, 0, 1).Format(dateFormat)
	end := time.Now().AddDate(0, 0, 7).Format(dateFormat)
	w := getWithParams(t, api.Projection,
		"/api/templates/"+idStr+"/projection?start="+start+"&end="+end,
		gin.Params{gin.Param{Key: "id", Value: idStr}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Days []struct {
			Date   string `json:"date"`
			Active bool   `json:"active"`
		} `json:"days"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Days) != 7 {
		t.Fatalf("expected 7 projected days, got %d", len(resp.Days))
	}
	for _, day := range resp.Days {
		if !day.Active {
			t.Fatalf("daily rigorous template should be active on %s", day.Date)
		}
	}
}

func TestProjectionUnknownTemplate(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	w := getWithParams(t, api.Projection, "/api/templates/999/projection",
		gin.Params{gin.Param{Key: "id", Value: "999"}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestTemplatePriorityFallsBackWithoutService(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	w := getWithParams(t, api.TemplatePriority, "/api/templates/1/priority",
		gin.Params{gin.Param{Key: "id", Value: "1"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Priority string `json:"priority"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Priority != "medium" {
		t.Fatalf("unconfigured priority service should fall back to medium, got %s", resp.Priority)
	}
	if resp.Reason == "" {
		t.Fatalf("fallback must carry a reason")
	}
}
