package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/timecard/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	CreateProfile(ctx context.Context, caller model.Caller, name string) (string, error)
	GetProfile(ctx context.Context, caller model.Caller) (*model.Profile, error)
	UpdateProfile(ctx context.Context, caller model.Caller, name *string) error
	ApproveUser(ctx context.Context, caller model.Caller, profileID string) error
	ToggleUserStatus(ctx context.Context, caller model.Caller, profileID string) error
	PromoteToStaff(ctx context.Context, caller model.Caller, profileID string) error
	GetAllUsers(ctx context.Context, caller model.Caller) ([]*model.Profile, error)
}

// ProfileHandler はプロフィール管理のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type createProfileRequest struct {
	Name string `json:"name"`
}

type updateProfileRequest struct {
	Name *string `json:"name"`
}

// CreateProfile は呼び出し元のプロフィールを作成する。
// POST /api/profile
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.CreateProfile(r.Context(), callerFrom(r), req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetProfile は呼び出し元のプロフィールを返す。未作成の場合はnullを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProfile(r.Context(), callerFrom(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// UpdateProfile は呼び出し元の表示名を更新する。nameが未指定または空の場合は何もしない。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpdateProfile(r.Context(), callerFrom(r), req.Name); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers は全プロフィールを返す。スタッフのみ。
// GET /api/users
func (h *ProfileHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.GetAllUsers(r.Context(), callerFrom(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		resp[i] = toProfileResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApproveUser は対象プロフィールを有効化する。
// POST /api/users/{id}/approve
func (h *ProfileHandler) ApproveUser(w http.ResponseWriter, r *http.Request) {
	h.staffAction(w, r, h.service.ApproveUser)
}

// ToggleUserStatus は対象プロフィールの有効・無効を切り替える。
// POST /api/users/{id}/toggle-status
func (h *ProfileHandler) ToggleUserStatus(w http.ResponseWriter, r *http.Request) {
	h.staffAction(w, r, h.service.ToggleUserStatus)
}

// PromoteToStaff は対象プロフィールをスタッフに昇格する。
// POST /api/users/{id}/promote
func (h *ProfileHandler) PromoteToStaff(w http.ResponseWriter, r *http.Request) {
	h.staffAction(w, r, h.service.PromoteToStaff)
}

func (h *ProfileHandler) staffAction(w http.ResponseWriter, r *http.Request, action func(context.Context, model.Caller, string) error) {
	profileID := chi.URLParam(r, "id")
	if profileID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("プロフィールIDが指定されていません"))
		return
	}

	if err := action(r.Context(), callerFrom(r), profileID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
