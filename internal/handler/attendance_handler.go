package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/timecard/internal/model"
)

// AttendanceServiceInterface は勤怠ハンドラーが必要とするサービスインターフェース。
type AttendanceServiceInterface interface {
	CheckIn(ctx context.Context, caller model.Caller) (string, error)
	CheckOut(ctx context.Context, caller model.Caller) (*model.WorkSession, error)
	GetCurrentSession(ctx context.Context, caller model.Caller) (*model.WorkSession, error)
	GetWorkSessions(ctx context.Context, caller model.Caller, userID string, start, end *time.Time) ([]*model.WorkSession, error)
}

// AttendanceHandler は勤怠打刻のHTTPハンドラー。
type AttendanceHandler struct {
	service AttendanceServiceInterface
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(service AttendanceServiceInterface) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// CheckIn は勤務セッションを開始する。
// POST /api/sessions/check-in
func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.CheckIn(r.Context(), callerFrom(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// CheckOut は勤務セッションを終了し、確定したセッションを返す。
// POST /api/sessions/check-out
func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.CheckOut(r.Context(), callerFrom(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkSessionResponse(sess))
}

// CurrentSession はオープン中の勤務セッションを返す。ない場合はnullを返す。
// GET /api/sessions/current
func (h *AttendanceHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetCurrentSession(r.Context(), callerFrom(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toWorkSessionResponse(sess))
}

// ListSessions は指定ユーザーの勤務セッションをcheckInの昇順で返す。
// GET /api/users/{id}/sessions?start=&end=
func (h *AttendanceHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "me" {
		userID = callerFrom(r).UserID
	}

	start, err := parseTimeParam(r, "start")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	sessions, err := h.service.GetWorkSessions(r.Context(), callerFrom(r), userID, start, end)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]workSessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = toWorkSessionResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}
