// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証済みのアカウントを表す。
// プロフィール（Profile）とは別に、サインアップ時に作成される。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthSession はユーザーのログインセッションを表す。
// 勤務セッション（WorkSession）とは無関係。
type AuthSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Caller は操作を呼び出した主体を表す。
// UserIDが空の場合は未認証の呼び出しとして扱う。
type Caller struct {
	UserID string
}

// NewCaller は指定ユーザーIDのCallerを生成する。
func NewCaller(userID string) Caller {
	return Caller{UserID: userID}
}

// Authenticated は認証済みの呼び出しかどうかを返す。
func (c Caller) Authenticated() bool {
	return c.UserID != ""
}
