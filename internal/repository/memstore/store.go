// Package memstore はプロセス内メモリ上のリポジトリ実装を提供する。
// 開発用のSTORAGE_BACKEND=memoryとテストで使用する。
// 全操作を1つのミューテックスで直列化するため、各操作はPostgreSQL実装と同様に原子的に振る舞う。
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/timecard/internal/model"
	"github.com/hitoshi/timecard/internal/repository"
)

// Store は全テーブルの状態を保持する。
type Store struct {
	mu sync.Mutex

	users        map[string]*model.User
	userByEmail  map[string]string
	authSessions map[string]*model.AuthSession

	profiles      map[string]*model.Profile
	profileByUser map[string]string

	workSessions   map[string]*model.WorkSession
	sessionsByUser map[string][]string
	// openByUser はユーザーIDからオープンな勤務セッションIDへの索引。
	// 1キー1値のため、オープンなセッションはユーザーごとに最大1件になる。
	openByUser map[string]string

	now func() time.Time
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users:          make(map[string]*model.User),
		userByEmail:    make(map[string]string),
		authSessions:   make(map[string]*model.AuthSession),
		profiles:       make(map[string]*model.Profile),
		profileByUser:  make(map[string]string),
		workSessions:   make(map[string]*model.WorkSession),
		sessionsByUser: make(map[string][]string),
		openByUser:     make(map[string]string),
		now:            time.Now,
	}
}

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// AuthSessions はAuthSessionRepositoryとしてのビューを返す。
func (s *Store) AuthSessions() *AuthSessionRepo { return &AuthSessionRepo{s: s} }

// Profiles はProfileRepositoryとしてのビューを返す。
func (s *Store) Profiles() *ProfileRepo { return &ProfileRepo{s: s} }

// WorkSessions はWorkSessionRepositoryとしてのビューを返す。
func (s *Store) WorkSessions() *WorkSessionRepo { return &WorkSessionRepo{s: s} }

// --- users ---

// UserRepo はメモリ上のユーザーリポジトリ。
type UserRepo struct{ s *Store }

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.userByEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	c := *r.s.users[id]
	return &c, nil
}

// Create はユーザーを作成する。
func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, ok := r.s.userByEmail[key]; ok {
		return repository.ErrEmailExists
	}
	c := *user
	r.s.users[user.ID] = &c
	r.s.userByEmail[key] = user.ID
	return nil
}

// --- auth sessions ---

// AuthSessionRepo はメモリ上のログインセッションリポジトリ。
type AuthSessionRepo struct{ s *Store }

// Create はセッションを作成する。
func (r *AuthSessionRepo) Create(ctx context.Context, session *model.AuthSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *session
	r.s.authSessions[session.ID] = &c
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *AuthSessionRepo) FindByID(ctx context.Context, id string) (*model.AuthSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.authSessions[id]
	if !ok || !sess.ExpiresAt.After(r.s.now()) {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *AuthSessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.authSessions, id)
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *AuthSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.authSessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.s.authSessions, id)
			n++
		}
	}
	return n, nil
}

// --- profiles ---

// ProfileRepo はメモリ上のプロフィールリポジトリ。
type ProfileRepo struct{ s *Store }

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *ProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.copyOf(id), nil
}

// FindByUserID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *ProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.profileByUser[userID]
	if !ok {
		return nil, nil
	}
	return r.copyOf(id), nil
}

// Create はプロフィールを作成する。
// 同一ユーザーのプロフィールが既に存在する場合はErrProfileExistsを返す。
func (r *ProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.profileByUser[profile.UserID]; ok {
		return repository.ErrProfileExists
	}
	c := *profile
	r.s.profiles[profile.ID] = &c
	r.s.profileByUser[profile.UserID] = profile.ID
	return nil
}

// UpdateName は表示名を更新する。対象が存在しない場合はnilを返す。
func (r *ProfileRepo) UpdateName(ctx context.Context, id, name string) (*model.Profile, error) {
	return r.mutate(id, func(p *model.Profile) { p.Name = name })
}

// SetActive は有効フラグを設定する。対象が存在しない場合はnilを返す。
func (r *ProfileRepo) SetActive(ctx context.Context, id string, active bool) (*model.Profile, error) {
	return r.mutate(id, func(p *model.Profile) { p.IsActive = active })
}

// ToggleActive は有効フラグを反転する。対象が存在しない場合はnilを返す。
func (r *ProfileRepo) ToggleActive(ctx context.Context, id string) (*model.Profile, error) {
	return r.mutate(id, func(p *model.Profile) { p.IsActive = !p.IsActive })
}

// SetRole はロールを設定する。対象が存在しない場合はnilを返す。
func (r *ProfileRepo) SetRole(ctx context.Context, id string, role model.Role) (*model.Profile, error) {
	return r.mutate(id, func(p *model.Profile) { p.Role = role })
}

// List は全プロフィールを作成日時の昇順で返す。
func (r *ProfileRepo) List(ctx context.Context) ([]*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profiles := make([]*model.Profile, 0, len(r.s.profiles))
	for id := range r.s.profiles {
		profiles = append(profiles, r.copyOf(id))
	}
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].ID < profiles[j].ID
		}
		return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
	})
	return profiles, nil
}

func (r *ProfileRepo) mutate(id string, fn func(p *model.Profile)) (*model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[id]
	if !ok {
		return nil, nil
	}
	fn(p)
	p.UpdatedAt = r.s.now()
	return r.copyOf(id), nil
}

// copyOf はロック取得済みの状態で呼び出すこと。
func (r *ProfileRepo) copyOf(id string) *model.Profile {
	p, ok := r.s.profiles[id]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

// --- work sessions ---

// WorkSessionRepo はメモリ上の勤務セッションリポジトリ。
type WorkSessionRepo struct{ s *Store }

// CreateOpen はオープンな勤務セッションを作成する。
// 同一ユーザーのオープンなセッションが既に存在する場合はErrSessionAlreadyOpenを返す。
func (r *WorkSessionRepo) CreateOpen(ctx context.Context, session *model.WorkSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.openByUser[session.UserID]; ok {
		return repository.ErrSessionAlreadyOpen
	}
	c := *session
	c.CheckOut = nil
	c.DurationMs = nil
	r.s.workSessions[c.ID] = &c
	r.s.openByUser[c.UserID] = c.ID

	// checkIn昇順を維持して挿入する
	ids := r.s.sessionsByUser[c.UserID]
	i := sort.Search(len(ids), func(i int) bool {
		return r.s.workSessions[ids[i]].CheckIn.After(c.CheckIn)
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = c.ID
	r.s.sessionsByUser[c.UserID] = ids
	return nil
}

// FindOpenByUserID はユーザーのオープンなセッションを取得する。見つからない場合はnilを返す。
func (r *WorkSessionRepo) FindOpenByUserID(ctx context.Context, userID string) (*model.WorkSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.openByUser[userID]
	if !ok {
		return nil, nil
	}
	return copySession(r.s.workSessions[id]), nil
}

// CloseOpen はオープンなセッションをクローズし、索引から外す。
func (r *WorkSessionRepo) CloseOpen(ctx context.Context, userID string, checkOut time.Time) (*model.WorkSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.openByUser[userID]
	if !ok {
		return nil, nil
	}
	sess := r.s.workSessions[id]
	sess.Close(checkOut)
	delete(r.s.openByUser, userID)
	return copySession(sess), nil
}

// ListByUser はユーザーのセッションのうちcheckInが範囲内のものをcheckIn昇順で返す。
func (r *WorkSessionRepo) ListByUser(ctx context.Context, userID string, tr model.TimeRange) ([]*model.WorkSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sessions := []*model.WorkSession{}
	for _, id := range r.s.sessionsByUser[userID] {
		sess := r.s.workSessions[id]
		if tr.Contains(sess.CheckIn) {
			sessions = append(sessions, copySession(sess))
		}
	}
	return sessions, nil
}

// CountOpen は現在オープンなセッション数を返す。
func (r *WorkSessionRepo) CountOpen(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.openByUser), nil
}

func copySession(s *model.WorkSession) *model.WorkSession {
	c := *s
	if s.CheckOut != nil {
		t := *s.CheckOut
		c.CheckOut = &t
	}
	if s.DurationMs != nil {
		d := *s.DurationMs
		c.DurationMs = &d
	}
	return &c
}

// compile-time interface checks
var (
	_ repository.UserRepository        = (*UserRepo)(nil)
	_ repository.AuthSessionRepository = (*AuthSessionRepo)(nil)
	_ repository.ProfileRepository     = (*ProfileRepo)(nil)
	_ repository.WorkSessionRepository = (*WorkSessionRepo)(nil)
)
