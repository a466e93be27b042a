package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/timecard/internal/model"
)

// 各PostgreSQLリポジトリがインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ AuthSessionRepository = (*PostgresAuthSessionRepo)(nil)
	var _ ProfileRepository = (*PostgresProfileRepo)(nil)
	var _ WorkSessionRepository = (*PostgresWorkSessionRepo)(nil)
}

// コンストラクタがnil DBでも初期化できることを検証
func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresUserRepo(nil) == nil {
		t.Fatal("expected non-nil user repo")
	}
	if NewPostgresAuthSessionRepo(nil) == nil {
		t.Fatal("expected non-nil auth session repo")
	}
	if NewPostgresProfileRepo(nil) == nil {
		t.Fatal("expected non-nil profile repo")
	}
	if NewPostgresWorkSessionRepo(nil) == nil {
		t.Fatal("expected non-nil work session repo")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"nil", nil, "", false},
		{"plain error", errors.New("boom"), "", false},
		{"matching constraint", &pq.Error{Code: "23505", Constraint: openSessionIndex}, openSessionIndex, true},
		{"wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "profiles_user_id_key"}), "profiles_user_id_key", true},
		{"other constraint", &pq.Error{Code: "23505", Constraint: "users_email_key"}, openSessionIndex, false},
		{"any constraint", &pq.Error{Code: "23505", Constraint: "users_email_key"}, "", true},
		{"foreign key violation", &pq.Error{Code: "23503", Constraint: openSessionIndex}, openSessionIndex, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPostgresRepos_NonUUIDIsNotFound はUUID列に対する不正なIDがDBに届かず該当なしになることを検証する。
// dbがnilのため、クエリが発行されればpanicする。
func TestPostgresRepos_NonUUIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	profiles := NewPostgresProfileRepo(nil)
	sessions := NewPostgresWorkSessionRepo(nil)
	users := NewPostgresUserRepo(nil)

	for _, id := range []string{"abc", "me", "", "1234"} {
		t.Run(id, func(t *testing.T) {
			if p, err := profiles.FindByID(ctx, id); p != nil || err != nil {
				t.Errorf("FindByID = %v, %v", p, err)
			}
			if p, err := profiles.FindByUserID(ctx, id); p != nil || err != nil {
				t.Errorf("FindByUserID = %v, %v", p, err)
			}
			if p, err := profiles.SetActive(ctx, id, true); p != nil || err != nil {
				t.Errorf("SetActive = %v, %v", p, err)
			}
			if p, err := profiles.ToggleActive(ctx, id); p != nil || err != nil {
				t.Errorf("ToggleActive = %v, %v", p, err)
			}
			if p, err := profiles.SetRole(ctx, id, "staff"); p != nil || err != nil {
				t.Errorf("SetRole = %v, %v", p, err)
			}
			if p, err := profiles.UpdateName(ctx, id, "x"); p != nil || err != nil {
				t.Errorf("UpdateName = %v, %v", p, err)
			}
			if s, err := sessions.FindOpenByUserID(ctx, id); s != nil || err != nil {
				t.Errorf("FindOpenByUserID = %v, %v", s, err)
			}
			if s, err := sessions.CloseOpen(ctx, id, time.Now()); s != nil || err != nil {
				t.Errorf("CloseOpen = %v, %v", s, err)
			}
			list, err := sessions.ListByUser(ctx, id, model.TimeRange{})
			if err != nil || list == nil || len(list) != 0 {
				t.Errorf("ListByUser = %v, %v, want empty slice", list, err)
			}
			if u, err := users.FindByID(ctx, id); u != nil || err != nil {
				t.Errorf("users.FindByID = %v, %v", u, err)
			}
		})
	}
}
