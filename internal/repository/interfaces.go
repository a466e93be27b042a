// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/timecard/internal/model"
)

var (
	// ErrProfileExists は同一ユーザーのプロフィールが既に存在する場合に返される。
	ErrProfileExists = errors.New("profile already exists for user")
	// ErrSessionAlreadyOpen は同一ユーザーのオープンな勤務セッションが既に存在する場合に返される。
	ErrSessionAlreadyOpen = errors.New("work session already open for user")
	// ErrEmailExists は同一メールアドレスのユーザーが既に存在する場合に返される。
	ErrEmailExists = errors.New("email already registered")
)

// UserRepository はユーザー（認証アカウント）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrEmailExistsを返す。
	Create(ctx context.Context, user *model.User) error
}

// AuthSessionRepository はログインセッションの永続化インターフェース。
type AuthSessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.AuthSession) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AuthSession, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
// 更新系メソッドは対象が存在しない場合にnilを返す。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByUserID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// Create はプロフィールを作成する。
	// 同一ユーザーのプロフィールが既に存在する場合はErrProfileExistsを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// UpdateName は表示名を更新する。
	UpdateName(ctx context.Context, id, name string) (*model.Profile, error)

	// SetActive は有効フラグを設定する。
	SetActive(ctx context.Context, id string, active bool) (*model.Profile, error)

	// ToggleActive は有効フラグを反転する。読み取りと書き込みは1操作で行う。
	ToggleActive(ctx context.Context, id string) (*model.Profile, error)

	// SetRole はロールを設定する。
	SetRole(ctx context.Context, id string, role model.Role) (*model.Profile, error)

	// List は全プロフィールを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.Profile, error)
}

// WorkSessionRepository は勤務セッションの永続化インターフェース。
type WorkSessionRepository interface {
	// CreateOpen はオープンな勤務セッションを作成する。
	// 同一ユーザーのオープンなセッションが既に存在する場合はErrSessionAlreadyOpenを返す。
	CreateOpen(ctx context.Context, session *model.WorkSession) error

	// FindOpenByUserID はユーザーのオープンなセッションを取得する。見つからない場合はnilを返す。
	FindOpenByUserID(ctx context.Context, userID string) (*model.WorkSession, error)

	// CloseOpen はユーザーのオープンなセッションをcheckOut時刻でクローズし、
	// check_outとduration_msを同時に確定する。オープンなセッションがない場合はnilを返す。
	CloseOpen(ctx context.Context, userID string, checkOut time.Time) (*model.WorkSession, error)

	// ListByUser はユーザーのセッションのうちcheckInが範囲内のものをcheckIn昇順で返す。
	ListByUser(ctx context.Context, userID string, r model.TimeRange) ([]*model.WorkSession, error)

	// CountOpen は現在オープンなセッション数を返す。
	CountOpen(ctx context.Context) (int, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
