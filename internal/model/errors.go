// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの変換に使用する。
type ErrorKind string

const (
	// KindUnauthenticated は呼び出し元のidentityが解決できないことを表す。
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindNotAuthorized は認証済みだが必要なロールを持たないことを表す。
	KindNotAuthorized ErrorKind = "not_authorized"
	// KindForbidden は認証済みだがアカウントが有効化されていないことを表す。
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound は参照先のプロフィールやセッションが存在しないことを表す。
	KindNotFound ErrorKind = "not_found"
	// KindConflict は状態の不変条件に反する操作であることを表す。
	KindConflict ErrorKind = "conflict"
	// KindValidation は入力値が不正であることを表す。
	KindValidation ErrorKind = "validation"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, profile, attendance, system
	Action   string    // ユーザー向け対処方法
	Kind     ErrorKind // エラー分類
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// IsKind はerrがAPIErrorであり、指定の分類に属するかどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeNotAuthorized        = "NOT_AUTHORIZED"
	ErrCodeAccountInactive      = "ACCOUNT_INACTIVE"
	ErrCodeProfileNotFound      = "PROFILE_NOT_FOUND"
	ErrCodeProfileAlreadyExists = "PROFILE_ALREADY_EXISTS"
	ErrCodeAlreadyCheckedIn     = "ALREADY_CHECKED_IN"
	ErrCodeNoActiveSession      = "NO_ACTIVE_SESSION"
	ErrCodeInvalidName          = "INVALID_NAME"
	ErrCodeInvalidTimeRange     = "INVALID_TIME_RANGE"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeEmailAlreadyUsed     = "EMAIL_ALREADY_USED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeCSRFTokenInvalid     = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
		Kind:     KindUnauthenticated,
	}
}

// NewNotAuthorizedError はスタッフ権限が必要な操作を権限のないユーザーが呼び出した場合のエラーを生成する。
func NewNotAuthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "スタッフ権限を持つユーザーに依頼してください。",
		Kind:     KindNotAuthorized,
	}
}

// NewAccountInactiveError はアカウントが未承認または無効化されている場合のエラーを生成する。
func NewAccountInactiveError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountInactive,
		Message:  "アカウントが有効化されていません。",
		Category: "auth",
		Action:   "スタッフによる承認をお待ちください。",
		Kind:     KindForbidden,
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが見つかりません。",
		Category: "profile",
		Action:   "プロフィールを作成してください。",
		Kind:     KindNotFound,
	}
}

// NewTargetProfileNotFoundError は操作対象のプロフィールが見つからない場合のエラーを生成する。
func NewTargetProfileNotFoundError(profileID string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("指定されたプロフィールが見つかりません: %s", profileID),
		Category: "profile",
		Action:   "ユーザー一覧を再読み込みしてください。",
		Kind:     KindNotFound,
	}
}

// NewProfileAlreadyExistsError はプロフィールが作成済みの場合のエラーを生成する。
func NewProfileAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileAlreadyExists,
		Message:  "プロフィールは既に作成されています。",
		Category: "profile",
		Action:   "既存のプロフィールを編集してください。",
		Kind:     KindConflict,
	}
}

// NewAlreadyCheckedInError は既にチェックイン中の場合のエラーを生成する。
func NewAlreadyCheckedInError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyCheckedIn,
		Message:  "既にチェックインしています。",
		Category: "attendance",
		Action:   "先にチェックアウトしてください。",
		Kind:     KindConflict,
	}
}

// NewNoActiveSessionError はチェックアウト対象のセッションがない場合のエラーを生成する。
func NewNoActiveSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveSession,
		Message:  "アクティブな勤務セッションがありません。",
		Category: "attendance",
		Action:   "先にチェックインしてください。",
		Kind:     KindConflict,
	}
}

// NewInvalidNameError は表示名が不正な場合のエラーを生成する。
func NewInvalidNameError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  fmt.Sprintf("無効な表示名です: %s", reason),
		Category: "validation",
		Action:   "1文字以上100文字以内の表示名を入力してください。",
		Kind:     KindValidation,
	}
}

// NewInvalidTimeRangeError は検索期間が不正な場合のエラーを生成する。
func NewInvalidTimeRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeRange,
		Message:  fmt.Sprintf("無効な期間指定です: %s", reason),
		Category: "validation",
		Action:   "開始時刻が終了時刻以前になるよう指定してください。",
		Kind:     KindValidation,
	}
}

// NewInvalidRequestError はリクエストボディやパラメータが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しい形式でリクエストしてください。",
		Kind:     KindValidation,
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認するか、アカウントを新規作成してください。",
		Kind:     KindUnauthenticated,
	}
}

// NewEmailAlreadyUsedError はメールアドレスが登録済みの場合のエラーを生成する。
func NewEmailAlreadyUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyUsed,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "サインインしてください。",
		Kind:     KindConflict,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
		Kind:     KindNotFound,
	}
}

// NewCSRFTokenInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
		Kind:     KindForbidden,
	}
}

// NewRateLimitExceededError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
