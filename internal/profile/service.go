// Package profile はプロフィール管理（Profile Directory）のドメインロジックを提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/timecard/internal/metrics"
	"github.com/hitoshi/timecard/internal/model"
	"github.com/hitoshi/timecard/internal/repository"
	"github.com/hitoshi/timecard/internal/security"
)

// MaxNameLength は表示名の最大文字数（rune数）。
const MaxNameLength = 100

// Service はプロフィール管理のサービス層。
// 全操作は呼び出し元（Caller）を明示的に受け取る。
type Service struct {
	repo      repository.ProfileRepository
	sanitizer security.NameSanitizer
	validate  *validator.Validate
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewService(repo repository.ProfileRepository, sanitizer security.NameSanitizer, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		validate:  validator.New(),
		metrics:   mc,
		now:       time.Now,
	}
}

// CreateProfile は呼び出し元のプロフィールをrole=intern、isActive=falseで作成する。
// 同一ユーザーのプロフィールが既にある場合はConflictを返す。
func (s *Service) CreateProfile(ctx context.Context, caller model.Caller, name string) (string, error) {
	if !caller.Authenticated() {
		return "", model.NewUnauthenticatedError()
	}

	cleaned, err := s.normalizeName(name)
	if err != nil {
		return "", err
	}

	now := s.now()
	p := &model.Profile{
		ID:        uuid.New().String(),
		UserID:    caller.UserID,
		Role:      model.RoleIntern,
		Name:      cleaned,
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 重複判定はリポジトリの一意制約に任せる
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrProfileExists) {
			s.metrics.RecordRejected("create_profile", model.ErrCodeProfileAlreadyExists)
			return "", model.NewProfileAlreadyExistsError()
		}
		return "", fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}

	slog.Info("プロフィールを作成しました",
		slog.String("user_id", caller.UserID),
		slog.String("profile_id", p.ID),
	)
	return p.ID, nil
}

// GetProfile は呼び出し元のプロフィールを返す。未作成の場合はnil, nilを返す。
func (s *Service) GetProfile(ctx context.Context, caller model.Caller) (*model.Profile, error) {
	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}
	p, err := s.repo.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// UpdateProfile は呼び出し元の表示名を更新する。
// nameがnilまたは空文字の場合は書き込みを行わない。
func (s *Service) UpdateProfile(ctx context.Context, caller model.Caller, name *string) error {
	if !caller.Authenticated() {
		return model.NewUnauthenticatedError()
	}

	p, err := s.repo.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return model.NewProfileNotFoundError()
	}

	if name == nil || *name == "" {
		return nil
	}

	cleaned, err := s.normalizeName(*name)
	if err != nil {
		return err
	}
	if cleaned == p.Name {
		return nil
	}

	updated, err := s.repo.UpdateName(ctx, p.ID, cleaned)
	if err != nil {
		return fmt.Errorf("表示名の更新に失敗しました: %w", err)
	}
	if updated == nil {
		return model.NewProfileNotFoundError()
	}
	return nil
}

// ApproveUser は対象プロフィールを有効化する。スタッフのみ実行できる。
func (s *Service) ApproveUser(ctx context.Context, caller model.Caller, profileID string) error {
	staff, err := s.requireStaff(ctx, caller, "approve_user")
	if err != nil {
		return err
	}
	if _, err := s.findTarget(ctx, profileID); err != nil {
		return err
	}

	p, err := s.repo.SetActive(ctx, profileID, true)
	if err != nil {
		return fmt.Errorf("プロフィールの承認に失敗しました: %w", err)
	}
	if p == nil {
		return model.NewTargetProfileNotFoundError(profileID)
	}

	s.metrics.RecordApproval()
	slog.Info("プロフィールを承認しました",
		slog.String("staff_profile_id", staff.ID),
		slog.String("profile_id", profileID),
	)
	return nil
}

// ToggleUserStatus は対象プロフィールの有効フラグを反転する。スタッフのみ実行できる。
func (s *Service) ToggleUserStatus(ctx context.Context, caller model.Caller, profileID string) error {
	staff, err := s.requireStaff(ctx, caller, "toggle_user_status")
	if err != nil {
		return err
	}
	if _, err := s.findTarget(ctx, profileID); err != nil {
		return err
	}

	p, err := s.repo.ToggleActive(ctx, profileID)
	if err != nil {
		return fmt.Errorf("有効状態の切り替えに失敗しました: %w", err)
	}
	if p == nil {
		return model.NewTargetProfileNotFoundError(profileID)
	}

	slog.Info("プロフィールの有効状態を切り替えました",
		slog.String("staff_profile_id", staff.ID),
		slog.String("profile_id", profileID),
		slog.Bool("is_active", p.IsActive),
	)
	return nil
}

// PromoteToStaff は対象プロフィールをスタッフに昇格する。降格操作は存在しない。
func (s *Service) PromoteToStaff(ctx context.Context, caller model.Caller, profileID string) error {
	staff, err := s.requireStaff(ctx, caller, "promote_to_staff")
	if err != nil {
		return err
	}
	if _, err := s.findTarget(ctx, profileID); err != nil {
		return err
	}

	p, err := s.repo.SetRole(ctx, profileID, model.RoleStaff)
	if err != nil {
		return fmt.Errorf("スタッフへの昇格に失敗しました: %w", err)
	}
	if p == nil {
		return model.NewTargetProfileNotFoundError(profileID)
	}

	slog.Info("プロフィールをスタッフに昇格しました",
		slog.String("staff_profile_id", staff.ID),
		slog.String("profile_id", profileID),
	)
	return nil
}

// GetAllUsers は全プロフィールを返す。スタッフのみ実行できる。
// 空のスライスはプロフィールが1件もないことを表す。
func (s *Service) GetAllUsers(ctx context.Context, caller model.Caller) ([]*model.Profile, error) {
	if _, err := s.requireStaff(ctx, caller, "get_all_users"); err != nil {
		return nil, err
	}

	profiles, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("プロフィール一覧の取得に失敗しました: %w", err)
	}
	if profiles == nil {
		profiles = []*model.Profile{}
	}
	return profiles, nil
}

// GrantStaff は指定ユーザーをスタッフとして有効化する。
// 最初のスタッフを用意するための管理コマンド用で、呼び出し元の権限は確認しない。
// プロフィールがない場合はdefaultNameで作成する。
func (s *Service) GrantStaff(ctx context.Context, userID, defaultName string) (*model.Profile, error) {
	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	if p == nil {
		cleaned, err := s.normalizeName(defaultName)
		if err != nil {
			return nil, err
		}
		now := s.now()
		p = &model.Profile{
			ID:        uuid.New().String(),
			UserID:    userID,
			Role:      model.RoleIntern,
			Name:      cleaned,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.Create(ctx, p); err != nil && !errors.Is(err, repository.ErrProfileExists) {
			return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
		}
		// 並行して作成された場合も既存のプロフィールを使う
		if p, err = s.repo.FindByUserID(ctx, userID); err != nil {
			return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
		}
	}

	if _, err := s.repo.SetRole(ctx, p.ID, model.RoleStaff); err != nil {
		return nil, fmt.Errorf("スタッフへの昇格に失敗しました: %w", err)
	}
	updated, err := s.repo.SetActive(ctx, p.ID, true)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの有効化に失敗しました: %w", err)
	}

	slog.Info("スタッフ権限を付与しました",
		slog.String("user_id", userID),
		slog.String("profile_id", p.ID),
	)
	return updated, nil
}

// requireStaff は呼び出し元がスタッフであることを確認し、そのプロフィールを返す。
// 未認証はUnauthenticated、プロフィール未作成またはinternはNotAuthorizedになる。
// 有効フラグは確認しない。
func (s *Service) requireStaff(ctx context.Context, caller model.Caller, op string) (*model.Profile, error) {
	if !caller.Authenticated() {
		s.metrics.RecordRejected(op, model.ErrCodeUnauthenticated)
		return nil, model.NewUnauthenticatedError()
	}
	p, err := s.repo.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("呼び出し元プロフィールの取得に失敗しました: %w", err)
	}
	if !p.IsStaff() {
		s.metrics.RecordRejected(op, model.ErrCodeNotAuthorized)
		return nil, model.NewNotAuthorizedError()
	}
	return p, nil
}

// findTarget はスタッフ操作の対象プロフィールを取得する。
// IDがUUIDとして不正な場合も、存在しない場合と同じくNotFoundを返す。
func (s *Service) findTarget(ctx context.Context, profileID string) (*model.Profile, error) {
	if _, err := uuid.Parse(profileID); err != nil {
		return nil, model.NewTargetProfileNotFoundError(profileID)
	}
	p, err := s.repo.FindByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("対象プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewTargetProfileNotFoundError(profileID)
	}
	return p, nil
}

type nameInput struct {
	Name string `validate:"required,max=100"`
}

// normalizeName は表示名をサニタイズして検証する。
func (s *Service) normalizeName(raw string) (string, error) {
	in := nameInput{Name: s.sanitizer.Sanitize(raw)}
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Tag() {
			case "required":
				return "", model.NewInvalidNameError("表示名が空です")
			case "max":
				return "", model.NewInvalidNameError(fmt.Sprintf("%d文字以内で入力してください", MaxNameLength))
			}
		}
		return "", model.NewInvalidNameError(err.Error())
	}
	return in.Name, nil
}
