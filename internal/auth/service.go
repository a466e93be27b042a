// Package auth はパスワード認証、ログインセッション管理、ベアラートークンの発行を提供する。
// 各リクエストの呼び出し元（model.Caller）はこのパッケージで解決する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/timecard/internal/model"
	"github.com/hitoshi/timecard/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Credentials はサインアップ・サインインの入力。
type Credentials struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.AuthSessionRepository
	tokens      *TokenIssuer
	validate    *validator.Validate
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.AuthSessionRepository,
	tokens *TokenIssuer,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		validate:    validator.New(),
		config:      config,
		now:         time.Now,
	}
}

// SignUp はユーザーを作成し、ログインセッションを発行する。
func (s *Service) SignUp(ctx context.Context, in Credentials) (*model.User, *model.AuthSession, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validateCredentials(in); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.config.BcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, nil, model.NewEmailAlreadyUsedError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("new user created", slog.String("user_id", user.ID))
	return user, session, nil
}

// SignIn はメールアドレスとパスワードを検証し、ログインセッションを発行する。
func (s *Service) SignIn(ctx context.Context, in Credentials) (*model.User, *model.AuthSession, error) {
	in.Email = normalizeEmail(in.Email)
	if in.Email == "" || in.Password == "" {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// ResolveSession はセッションIDから呼び出し元を解決する。
// セッションが存在しないか期限切れの場合は未認証のCallerを返す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (model.Caller, error) {
	if sessionID == "" {
		return model.Caller{}, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return model.Caller{}, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return model.Caller{}, nil
	}
	return model.NewCaller(session.UserID), nil
}

// ResolveToken はベアラートークンから呼び出し元を解決する。
// 不正なトークンの場合は未認証のCallerを返す。
func (s *Service) ResolveToken(token string) model.Caller {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return model.Caller{}
	}
	return model.NewCaller(claims.UserID)
}

// IssueToken はuserIDのベアラートークンを発行する。
func (s *Service) IssueToken(userID string) (string, time.Time, error) {
	return s.tokens.Sign(userID)
}

// GetCurrentUser は呼び出し元のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, caller model.Caller) (*model.User, error) {
	if !caller.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// FindUserByEmail はメールアドレスでユーザーを取得する。見つからない場合はUserNotFoundを返す。
func (s *Service) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) validateCredentials(in Credentials) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			switch fe.Field() {
			case "Email":
				return model.NewInvalidRequestError("メールアドレスの形式が正しくありません")
			case "Password":
				return model.NewInvalidRequestError("パスワードは8文字以上72文字以内で入力してください")
			}
		}
		return model.NewInvalidRequestError(err.Error())
	}
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.AuthSession, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.AuthSession{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
