// Package model はドメインモデルを定義する。
package model

import "time"

// Role はプロフィールの権限種別を表す。
type Role string

const (
	// RoleIntern は初期ロール。自分のプロフィールと勤怠のみ参照できる。
	RoleIntern Role = "intern"
	// RoleStaff は他ユーザーの承認・有効化・昇格と全勤怠の参照ができるロール。
	RoleStaff Role = "staff"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleIntern || r == RoleStaff
}

// Profile はポータル上のユーザープロフィールを表す。
// 1ユーザー（identity）につき最大1件。
type Profile struct {
	ID        string
	UserID    string
	Role      Role
	Name      string
	IsActive  bool // スタッフが承認するまでfalse
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsStaff はスタッフ権限を持つかどうかを返す。
func (p *Profile) IsStaff() bool {
	return p != nil && p.Role == RoleStaff
}
