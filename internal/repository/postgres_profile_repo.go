package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/timecard/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
// profiles.user_idの一意制約で1ユーザー1プロフィールを保証する。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, user_id, role, name, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	if err := row.Scan(&p.ID, &p.UserID, &role, &p.Name, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return p, nil
}

// queryProfile は1行を返すクエリを実行する。行がない場合はnilを返す。
func (r *PostgresProfileRepo) queryProfile(ctx context.Context, op, query string, args ...any) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.queryProfile(ctx, "find profile by ID",
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
}

// FindByUserID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	return r.queryProfile(ctx, "find profile by user ID",
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
}

// Create はプロフィールを作成する。
// 同一ユーザーのプロフィールが既に存在する場合はErrProfileExistsを返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, role, name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		profile.ID, profile.UserID, string(profile.Role), profile.Name, profile.IsActive,
		profile.CreatedAt, profile.UpdatedAt,
	)
	if isUniqueViolation(err, "profiles_user_id_key") {
		return ErrProfileExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// UpdateName は表示名を更新する。対象が存在しない場合はnilを返す。
func (r *PostgresProfileRepo) UpdateName(ctx context.Context, id, name string) (*model.Profile, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.queryProfile(ctx, "update profile name",
		`UPDATE profiles SET name = $2, updated_at = $3 WHERE id = $1 RETURNING `+profileColumns,
		id, name, time.Now())
}

// SetActive は有効フラグを設定する。対象が存在しない場合はnilを返す。
func (r *PostgresProfileRepo) SetActive(ctx context.Context, id string, active bool) (*model.Profile, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.queryProfile(ctx, "set profile active",
		`UPDATE profiles SET is_active = $2, updated_at = $3 WHERE id = $1 RETURNING `+profileColumns,
		id, active, time.Now())
}

// ToggleActive は有効フラグを単一のUPDATE文で反転する。対象が存在しない場合はnilを返す。
func (r *PostgresProfileRepo) ToggleActive(ctx context.Context, id string) (*model.Profile, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.queryProfile(ctx, "toggle profile active",
		`UPDATE profiles SET is_active = NOT is_active, updated_at = $2 WHERE id = $1 RETURNING `+profileColumns,
		id, time.Now())
}

// SetRole はロールを設定する。対象が存在しない場合はnilを返す。
func (r *PostgresProfileRepo) SetRole(ctx context.Context, id string, role model.Role) (*model.Profile, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.queryProfile(ctx, "set profile role",
		`UPDATE profiles SET role = $2, updated_at = $3 WHERE id = $1 RETURNING `+profileColumns,
		id, string(role), time.Now())
}

// List は全プロフィールを作成日時の昇順で返す。
func (r *PostgresProfileRepo) List(ctx context.Context) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
