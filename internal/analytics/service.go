package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/timecard/internal/model"
)

// MaxDays は集計期間として指定できる最大日数。
const MaxDays = 366

// SessionLister は認可付きで勤務セッションを取得するインターフェース。
type SessionLister interface {
	GetWorkSessions(ctx context.Context, caller model.Caller, userID string, start, end *time.Time) ([]*model.WorkSession, error)
}

// ProfileLister はスタッフ向けに全プロフィールを取得するインターフェース。
type ProfileLister interface {
	GetAllUsers(ctx context.Context, caller model.Caller) ([]*model.Profile, error)
}

// UserSummary は1ユーザー分の集計結果。
type UserSummary struct {
	UserID string
	Start  time.Time
	End    time.Time
	Summary
}

// MemberSummary はチーム集計内の1メンバー分の結果。
type MemberSummary struct {
	Profile *model.Profile
	Summary
}

// TeamSummary は全メンバーの集計結果。
type TeamSummary struct {
	Start   time.Time
	End     time.Time
	Members []MemberSummary
}

// Service は集計のサービス層。
// セッション取得は勤怠サービス経由で行うため、参照権限は勤怠サービスと同じになる。
type Service struct {
	sessions    SessionLister
	profiles    ProfileLister
	loc         *time.Location
	defaultDays int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// locは日付の区切りに使うタイムゾーン、defaultDaysはdays未指定時の集計日数。
func NewService(sessions SessionLister, profiles ProfileLister, loc *time.Location, defaultDays int) *Service {
	if loc == nil {
		loc = time.Local
	}
	if defaultDays <= 0 {
		defaultDays = 7
	}
	return &Service{
		sessions:    sessions,
		profiles:    profiles,
		loc:         loc,
		defaultDays: defaultDays,
		now:         time.Now,
	}
}

// Window は今日からdays日前の0時から、今日の終わり（23:59:59.999）までの期間を返す。
// daysが0以下の場合は既定の日数を使う。
func (s *Service) Window(days int) (time.Time, time.Time, error) {
	if days <= 0 {
		days = s.defaultDays
	}
	if days > MaxDays {
		return time.Time{}, time.Time{}, model.NewInvalidRequestError(fmt.Sprintf("days は%d以下で指定してください", MaxDays))
	}

	today := s.now().In(s.loc)
	start := time.Date(today.Year(), today.Month(), today.Day()-days, 0, 0, 0, 0, s.loc)
	end := time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, s.loc).Add(-time.Millisecond)
	return start, end, nil
}

// UserSummary は指定ユーザーの直近days日分を集計する。
// 他ユーザーを対象にできるのはスタッフのみ。
func (s *Service) UserSummary(ctx context.Context, caller model.Caller, userID string, days int) (*UserSummary, error) {
	start, end, err := s.Window(days)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessions.GetWorkSessions(ctx, caller, userID, &start, &end)
	if err != nil {
		return nil, err
	}

	return &UserSummary{
		UserID:  userID,
		Start:   start,
		End:     end,
		Summary: Aggregate(sessions, s.loc),
	}, nil
}

// TeamSummary は全プロフィールについて直近days日分を集計する。スタッフのみ実行できる。
func (s *Service) TeamSummary(ctx context.Context, caller model.Caller, days int) (*TeamSummary, error) {
	start, end, err := s.Window(days)
	if err != nil {
		return nil, err
	}

	profiles, err := s.profiles.GetAllUsers(ctx, caller)
	if err != nil {
		return nil, err
	}

	team := &TeamSummary{Start: start, End: end, Members: make([]MemberSummary, 0, len(profiles))}
	for _, p := range profiles {
		sessions, err := s.sessions.GetWorkSessions(ctx, caller, p.UserID, &start, &end)
		if err != nil {
			return nil, err
		}
		team.Members = append(team.Members, MemberSummary{
			Profile: p,
			Summary: Aggregate(sessions, s.loc),
		})
	}
	return team, nil
}
