package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pulselog/internal/db"
)

func TestSetLinkAndListMembers(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	tracker := seedTemplate(t, db.CommitmentTemplate{Kind: db.KindTracker, Title: "健康追踪"})
	member := seedTemplate(t, db.CommitmentTemplate{Kind: db.KindHabit, Title: "晨跑"})

	w := postJSON(t, api.SetLink, "/api/links",
		map[string]any{"member_id": member.ID, "tracker_id": tracker.ID, "kind": "habit"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	idStr := strconv.Itoa(int(tracker.ID))
	req := httptest.NewRequest(http.MethodGet, "/api/links/trackers/"+idStr+"?kind=habit", nil)
	lw := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(lw)
	c.Request = req
	c.Params = gin.Params{gin.Param{Key: "id", Value: idStr}}

	api.LinkMembers(c)

	if lw.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", lw.Code)
	}

	var resp struct {
		Members []uint `json:"members"`
	}
	if err := json.Unmarshal(lw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Members) != 1 || resp.Members[0] != member.ID {
		t.Fatalf("expected member %d, got %v", member.ID, resp.Members)
	}
}

func TestSetLinkRejectsUnknownKind(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	w := postJSON(t, api.SetLink, "/api/links",
		map[string]any{"member_id": 1, "tracker_id": 2, "kind": "weekly"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestSetLinkUnknownTemplate(t *testing.T) {
	api, cleanup := setupTestDB(t)
	defer cleanup()

	w := postJSON(t, api.SetLink, "/api/links",
		map[string]any{"member_id": 404, "tracker_id": 405, "kind": "habit"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}
