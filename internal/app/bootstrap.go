package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/timecard/internal/handler"
	"github.com/hitoshi/timecard/internal/model"
)

// staffBootstrap はBOOTSTRAP_STAFF_EMAILSのユーザーにスタッフ権限を付与する。
// serve起動時に既存ユーザーへ適用し、以降は該当メールアドレスのサインアップ時に適用する。
type staffBootstrap struct {
	svc    *services
	emails map[string]struct{}
}

func newStaffBootstrap(svc *services, emails []string) *staffBootstrap {
	b := &staffBootstrap{svc: svc, emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		b.emails[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return b
}

func (b *staffBootstrap) matches(email string) bool {
	_, ok := b.emails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// applyExisting は登録済みのユーザーに権限を付与する。未登録のメールアドレスはサインアップ時まで待つ。
func (b *staffBootstrap) applyExisting(ctx context.Context) error {
	for email := range b.emails {
		err := grantStaff(ctx, b.svc, email, defaultStaffName(email))
		if model.IsKind(err, model.KindNotFound) {
			slog.Info("bootstrap staff not signed up yet", slog.String("email", email))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// wrap はサインアップ成功時に権限付与を行う認証サービスを返す。対象がない場合はnextをそのまま返す。
func (b *staffBootstrap) wrap(next handler.AuthServiceInterface) handler.AuthServiceInterface {
	if len(b.emails) == 0 {
		return next
	}
	return &bootstrapAuthService{AuthServiceInterface: next, bootstrap: b}
}

type bootstrapAuthService struct {
	handler.AuthServiceInterface
	bootstrap *staffBootstrap
}

// SignUp はアカウント作成後、対象メールアドレスであればスタッフ権限を付与する。
// 付与に失敗してもアカウント作成自体は成功として返す。
func (s *bootstrapAuthService) SignUp(ctx context.Context, email, password string) (*model.User, *model.AuthSession, error) {
	user, session, err := s.AuthServiceInterface.SignUp(ctx, email, password)
	if err != nil || !s.bootstrap.matches(user.Email) {
		return user, session, err
	}
	if _, grantErr := s.bootstrap.svc.profile.GrantStaff(ctx, user.ID, defaultStaffName(user.Email)); grantErr != nil {
		slog.Error("failed to grant bootstrap staff",
			slog.String("user_id", user.ID),
			slog.String("error", grantErr.Error()),
		)
	} else {
		slog.Info("bootstrap staff granted", slog.String("user_id", user.ID))
	}
	return user, session, nil
}

// defaultStaffName はメールアドレスのローカル部を表示名として返す。
func defaultStaffName(email string) string {
	name, _, _ := strings.Cut(email, "@")
	return name
}
