// Package attendance は勤怠記録（チェックイン・チェックアウト）のドメインロジックを提供する。
//
// ユーザーごとの状態は Closed（オープンなセッションなし）と Open（チェックアウト未設定のセッションが1件）の2つで、
// CheckIn で Closed→Open、CheckOut で Open→Closed に遷移する。
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/timecard/internal/metrics"
	"github.com/hitoshi/timecard/internal/model"
	"github.com/hitoshi/timecard/internal/repository"
)

// ProfileFinder はユーザーIDからプロフィールを取得するインターフェース。
type ProfileFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// Service は勤怠記録のサービス層。
type Service struct {
	sessions repository.WorkSessionRepository
	profiles ProfileFinder
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewService(sessions repository.WorkSessionRepository, profiles ProfileFinder, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		sessions: sessions,
		profiles: profiles,
		metrics:  mc,
		now:      time.Now,
	}
}

// CheckIn は新しい勤務セッションを開始し、そのIDを返す。
// プロフィールが有効化されていない場合、既にチェックイン中の場合は状態を変えずにエラーを返す。
func (s *Service) CheckIn(ctx context.Context, caller model.Caller) (string, error) {
	if !caller.Authenticated() {
		return "", s.reject("check_in", model.NewUnauthenticatedError())
	}

	profile, err := s.profiles.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return "", fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return "", s.reject("check_in", model.NewProfileNotFoundError())
	}
	if !profile.IsActive {
		return "", s.reject("check_in", model.NewAccountInactiveError())
	}

	now := s.now().Truncate(time.Millisecond)
	session := &model.WorkSession{
		ID:        uuid.New().String(),
		UserID:    caller.UserID,
		CheckIn:   now,
		CreatedAt: now,
	}

	// オープンなセッションの重複はリポジトリの一意制約で検出する
	if err := s.sessions.CreateOpen(ctx, session); err != nil {
		if errors.Is(err, repository.ErrSessionAlreadyOpen) {
			return "", s.reject("check_in", model.NewAlreadyCheckedInError())
		}
		return "", fmt.Errorf("チェックインに失敗しました: %w", err)
	}

	s.metrics.RecordCheckIn()
	slog.Info("チェックインしました",
		slog.String("user_id", caller.UserID),
		slog.String("session_id", session.ID),
	)
	return session.ID, nil
}

// CheckOut はオープンなセッションをクローズし、確定したセッションを返す。
// オープンなセッションがない場合は状態を変えずにConflictを返す。
func (s *Service) CheckOut(ctx context.Context, caller model.Caller) (*model.WorkSession, error) {
	if !caller.Authenticated() {
		return nil, s.reject("check_out", model.NewUnauthenticatedError())
	}

	closed, err := s.sessions.CloseOpen(ctx, caller.UserID, s.now())
	if err != nil {
		return nil, fmt.Errorf("チェックアウトに失敗しました: %w", err)
	}
	if closed == nil {
		return nil, s.reject("check_out", model.NewNoActiveSessionError())
	}

	worked := time.Duration(*closed.DurationMs) * time.Millisecond
	s.metrics.RecordCheckOut(worked)
	slog.Info("チェックアウトしました",
		slog.String("user_id", caller.UserID),
		slog.String("session_id", closed.ID),
		slog.Int64("duration_ms", *closed.DurationMs),
	)
	return closed, nil
}

// GetCurrentSession は呼び出し元のオープンなセッションを返す。ない場合はnil, nilを返す。
func (s *Service) GetCurrentSession(ctx context.Context, caller model.Caller) (*model.WorkSession, error) {
	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}
	session, err := s.sessions.FindOpenByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("現在のセッションの取得に失敗しました: %w", err)
	}
	return session, nil
}

// GetWorkSessions はuserIDのセッションのうち、checkInが[start, end]に含まれるものをcheckIn昇順で返す。
// start, endはnilの場合その側を無制限とする。
// 呼び出し元はプロフィールを持っている必要があり、他ユーザーのセッションはスタッフのみ参照できる。
func (s *Service) GetWorkSessions(ctx context.Context, caller model.Caller, userID string, start, end *time.Time) ([]*model.WorkSession, error) {
	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}

	tr := model.TimeRange{Start: start, End: end}
	if !tr.Valid() {
		return nil, model.NewInvalidTimeRangeError("開始時刻が終了時刻より後です")
	}

	profile, err := s.profiles.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewNotAuthorizedError()
	}
	if caller.UserID != userID && !profile.IsStaff() {
		return nil, s.reject("get_work_sessions", model.NewNotAuthorizedError())
	}

	sessions, err := s.sessions.ListByUser(ctx, userID, tr)
	if err != nil {
		return nil, fmt.Errorf("勤務セッションの取得に失敗しました: %w", err)
	}
	if sessions == nil {
		sessions = []*model.WorkSession{}
	}
	return sessions, nil
}

// CountOpenSessions は現在チェックイン中のセッション数を返す。
func (s *Service) CountOpenSessions(ctx context.Context) (int, error) {
	n, err := s.sessions.CountOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("オープンなセッション数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func (s *Service) reject(op string, apiErr *model.APIError) error {
	s.metrics.RecordRejected(op, apiErr.Code)
	return apiErr
}
