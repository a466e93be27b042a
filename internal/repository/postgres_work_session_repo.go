package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/timecard/internal/model"
)

// openSessionIndex はユーザーごとのオープンセッションを1件に制限する部分一意インデックス名。
const openSessionIndex = "work_sessions_one_open_per_user"

// PostgresWorkSessionRepo はPostgreSQLを使用した勤務セッションリポジトリ。
type PostgresWorkSessionRepo struct {
	db *sql.DB
}

// NewPostgresWorkSessionRepo はPostgresWorkSessionRepoを生成する。
func NewPostgresWorkSessionRepo(db *sql.DB) *PostgresWorkSessionRepo {
	return &PostgresWorkSessionRepo{db: db}
}

const workSessionColumns = `id, user_id, check_in, check_out, duration_ms, created_at`

func scanWorkSession(row rowScanner) (*model.WorkSession, error) {
	s := &model.WorkSession{}
	var checkOut sql.NullTime
	var duration sql.NullInt64
	if err := row.Scan(&s.ID, &s.UserID, &s.CheckIn, &checkOut, &duration, &s.CreatedAt); err != nil {
		return nil, err
	}
	if checkOut.Valid {
		t := checkOut.Time
		s.CheckOut = &t
	}
	if duration.Valid {
		d := duration.Int64
		s.DurationMs = &d
	}
	return s, nil
}

// CreateOpen はオープンな勤務セッションを作成する。
// 部分一意インデックスに違反した場合はErrSessionAlreadyOpenを返す。
func (r *PostgresWorkSessionRepo) CreateOpen(ctx context.Context, session *model.WorkSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO work_sessions (id, user_id, check_in, created_at)
		 VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.CheckIn, session.CreatedAt,
	)
	if isUniqueViolation(err, openSessionIndex) {
		return ErrSessionAlreadyOpen
	}
	if err != nil {
		return fmt.Errorf("failed to insert work session: %w", err)
	}
	return nil
}

// FindOpenByUserID はユーザーのオープンなセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresWorkSessionRepo) FindOpenByUserID(ctx context.Context, userID string) (*model.WorkSession, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	s, err := scanWorkSession(r.db.QueryRowContext(ctx,
		`SELECT `+workSessionColumns+`
		 FROM work_sessions
		 WHERE user_id = $1 AND check_out IS NULL`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open work session: %w", err)
	}
	return s, nil
}

// CloseOpen はオープンなセッションを行ロックした上でクローズする。
// check_outとduration_msは同一トランザクション内の1回のUPDATEで設定する。
func (r *PostgresWorkSessionRepo) CloseOpen(ctx context.Context, userID string, checkOut time.Time) (*model.WorkSession, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	var closed *model.WorkSession

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		s, err := scanWorkSession(tx.QueryRowContext(ctx,
			`SELECT `+workSessionColumns+`
			 FROM work_sessions
			 WHERE user_id = $1 AND check_out IS NULL
			 FOR UPDATE`,
			userID,
		))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock open work session: %w", err)
		}

		s.Close(checkOut)

		if _, err := tx.ExecContext(ctx,
			`UPDATE work_sessions SET check_out = $2, duration_ms = $3 WHERE id = $1`,
			s.ID, *s.CheckOut, *s.DurationMs,
		); err != nil {
			return fmt.Errorf("failed to close work session: %w", err)
		}

		closed = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// ListByUser はユーザーのセッションのうちcheckInが範囲内のものをcheckIn昇順で返す。
// (user_id, check_in) インデックスを使用する。
func (r *PostgresWorkSessionRepo) ListByUser(ctx context.Context, userID string, tr model.TimeRange) ([]*model.WorkSession, error) {
	if !isUUID(userID) {
		return []*model.WorkSession{}, nil
	}
	conds := []string{"user_id = $1"}
	args := []any{userID}
	if tr.Start != nil {
		args = append(args, *tr.Start)
		conds = append(conds, fmt.Sprintf("check_in >= $%d", len(args)))
	}
	if tr.End != nil {
		args = append(args, *tr.End)
		conds = append(conds, fmt.Sprintf("check_in <= $%d", len(args)))
	}

	query := `SELECT ` + workSessionColumns + ` FROM work_sessions WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY check_in ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.WorkSession{}
	for rows.Next() {
		s, err := scanWorkSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate work sessions: %w", err)
	}
	return sessions, nil
}

// CountOpen は現在オープンなセッション数を返す。
func (r *PostgresWorkSessionRepo) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_sessions WHERE check_out IS NULL`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count open work sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ WorkSessionRepository = (*PostgresWorkSessionRepo)(nil)
