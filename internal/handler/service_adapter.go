package handler

import (
	"context"
	"time"

	"github.com/hitoshi/timecard/internal/analytics"
	"github.com/hitoshi/timecard/internal/auth"
	"github.com/hitoshi/timecard/internal/model"
)

// AnalyticsServiceAdapter は analytics.Service を AnalyticsServiceInterface に適合させるアダプタ。
type AnalyticsServiceAdapter struct {
	svc *analytics.Service
}

// NewAnalyticsServiceAdapter はAnalyticsServiceAdapterを生成する。
func NewAnalyticsServiceAdapter(svc *analytics.Service) *AnalyticsServiceAdapter {
	return &AnalyticsServiceAdapter{svc: svc}
}

// UserSummary はユーザーの集計結果をhandlerレスポンス型で返す。
func (a *AnalyticsServiceAdapter) UserSummary(ctx context.Context, caller model.Caller, userID string, days int) (*userSummaryResponse, error) {
	s, err := a.svc.UserSummary(ctx, caller, userID, days)
	if err != nil {
		return nil, err
	}
	return &userSummaryResponse{
		UserID:          s.UserID,
		Start:           s.Start,
		End:             s.End,
		summaryResponse: toSummaryResponse(s.Summary),
	}, nil
}

// TeamSummary はチームの集計結果をhandlerレスポンス型で返す。
func (a *AnalyticsServiceAdapter) TeamSummary(ctx context.Context, caller model.Caller, days int) (*teamSummaryResponse, error) {
	team, err := a.svc.TeamSummary(ctx, caller, days)
	if err != nil {
		return nil, err
	}

	members := make([]memberSummaryResponse, len(team.Members))
	for i, m := range team.Members {
		members[i] = memberSummaryResponse{
			Profile:         toProfileResponse(m.Profile),
			summaryResponse: toSummaryResponse(m.Summary),
		}
	}
	return &teamSummaryResponse{Start: team.Start, End: team.End, Members: members}, nil
}

// toSummaryResponse はドメインの集計結果をhandlerのレスポンス型に変換する。
func toSummaryResponse(s analytics.Summary) summaryResponse {
	days := make([]dayResponse, len(s.Days))
	for i, d := range s.Days {
		days[i] = dayResponse{
			Date:     d.Date.Format("2006-01-02"),
			Label:    d.Label,
			Hours:    d.Hours,
			Sessions: d.Sessions,
		}
	}
	return summaryResponse{
		Days:          days,
		DailyHours:    s.DailyHours(),
		DailySessions: s.DailySessions(),
		TotalHours:    s.TotalHours,
		AverageHours:  s.AverageHours,
		SessionCount:  s.SessionCount,
	}
}

// AuthServiceAdapter は auth.Service を AuthServiceInterface に適合させるアダプタ。
type AuthServiceAdapter struct {
	svc *auth.Service
}

// NewAuthServiceAdapter はAuthServiceAdapterを生成する。
func NewAuthServiceAdapter(svc *auth.Service) *AuthServiceAdapter {
	return &AuthServiceAdapter{svc: svc}
}

// SignUp はアカウントを作成し、ログインセッションを返す。
func (a *AuthServiceAdapter) SignUp(ctx context.Context, email, password string) (*model.User, *model.AuthSession, error) {
	return a.svc.SignUp(ctx, auth.Credentials{Email: email, Password: password})
}

// SignIn は認証情報を検証し、ログインセッションを返す。
func (a *AuthServiceAdapter) SignIn(ctx context.Context, email, password string) (*model.User, *model.AuthSession, error) {
	return a.svc.SignIn(ctx, auth.Credentials{Email: email, Password: password})
}

// Logout はログインセッションを破棄する。
func (a *AuthServiceAdapter) Logout(ctx context.Context, sessionID string) error {
	return a.svc.Logout(ctx, sessionID)
}

// IssueToken はベアラートークンを発行する。
func (a *AuthServiceAdapter) IssueToken(userID string) (string, time.Time, error) {
	return a.svc.IssueToken(userID)
}

// GetCurrentUser は呼び出し元のユーザーを返す。
func (a *AuthServiceAdapter) GetCurrentUser(ctx context.Context, caller model.Caller) (*model.User, error) {
	return a.svc.GetCurrentUser(ctx, caller)
}

// --- compile-time interface checks ---

var _ AnalyticsServiceInterface = (*AnalyticsServiceAdapter)(nil)
var _ AuthServiceInterface = (*AuthServiceAdapter)(nil)
