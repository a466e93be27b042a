package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/timecard/internal/model"
)

// AnalyticsServiceInterface は集計ハンドラーが必要とするサービスインターフェース。
type AnalyticsServiceInterface interface {
	UserSummary(ctx context.Context, caller model.Caller, userID string, days int) (*userSummaryResponse, error)
	TeamSummary(ctx context.Context, caller model.Caller, days int) (*teamSummaryResponse, error)
}

// dayResponse は1日分の集計。
type dayResponse struct {
	Date     string  `json:"date"`
	Label    string  `json:"label"`
	Hours    float64 `json:"hours"`
	Sessions int     `json:"sessions"`
}

// summaryResponse はセッション集合の集計結果。
type summaryResponse struct {
	Days          []dayResponse      `json:"days"`
	DailyHours    map[string]float64 `json:"daily_hours"`
	DailySessions map[string]int     `json:"daily_sessions"`
	TotalHours    float64            `json:"total_hours"`
	AverageHours  float64            `json:"average_hours"`
	SessionCount  int                `json:"session_count"`
}

// userSummaryResponse は1ユーザー分の集計レスポンス。
type userSummaryResponse struct {
	UserID string    `json:"user_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	summaryResponse
}

// memberSummaryResponse はチーム集計内の1メンバー分。
type memberSummaryResponse struct {
	Profile profileResponse `json:"profile"`
	summaryResponse
}

// teamSummaryResponse はチーム全体の集計レスポンス。
type teamSummaryResponse struct {
	Start   time.Time               `json:"start"`
	End     time.Time               `json:"end"`
	Members []memberSummaryResponse `json:"members"`
}

// AnalyticsHandler は勤務時間集計のHTTPハンドラー。
type AnalyticsHandler struct {
	service AnalyticsServiceInterface
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(service AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// UserSummary は指定ユーザーの直近days日分の集計を返す。
// GET /api/analytics/users/{userID}?days=
func (h *AnalyticsHandler) UserSummary(w http.ResponseWriter, r *http.Request) {
	days, err := parseDaysParam(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	if userID == "me" {
		userID = callerFrom(r).UserID
	}

	summary, err := h.service.UserSummary(r.Context(), callerFrom(r), userID, days)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TeamSummary は全メンバーの直近days日分の集計を返す。スタッフのみ。
// GET /api/analytics/team?days=
func (h *AnalyticsHandler) TeamSummary(w http.ResponseWriter, r *http.Request) {
	days, err := parseDaysParam(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	team, err := h.service.TeamSummary(r.Context(), callerFrom(r), days)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}
