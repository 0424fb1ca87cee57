package model

import (
	"errors"
	"fmt"
)

// Kind はエラーの種別を表す。
// 呼び出し元はKindによって回復可能なプロバイダー障害と内部エラーを区別する。
type Kind int

const (
	// KindInternal は想定外の内部エラー。
	KindInternal Kind = iota
	// KindUnauthorized は認証情報の誤り、トークンの欠落・期限切れ。
	KindUnauthorized
	// KindConflict は重複登録。
	KindConflict
	// KindNotFound は対象が存在しない。
	KindNotFound
	// KindProviderFailure は外部回答プロバイダーの障害。
	KindProviderFailure
)

// String はKindの表示名を返す。
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindProviderFailure:
		return "provider_failure"
	default:
		return "internal"
	}
}

// Error はサービス層が返す統一エラー。
// Messageは利用者に返してよい文言のみを保持し、詳細はErrに保持する。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf はerrに含まれるKindを返す。*Errorを含まない場合はKindInternal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf はerrに含まれる利用者向けメッセージを返す。*Errorを含まない場合はerr.Error()。
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsKind はerrが指定Kindの*Errorを含むかを返す。
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
// 未登録とパスワード不一致は区別しない。
func NewInvalidCredentialsError() *Error {
	return &Error{Kind: KindUnauthorized, Message: "Invalid email or password"}
}

// NewAccountDeactivatedError は無効化されたアカウントのエラーを生成する。
func NewAccountDeactivatedError() *Error {
	return &Error{Kind: KindUnauthorized, Message: "Account is deactivated"}
}

// NewInvalidTokenError は未発行または破棄済みトークンのエラーを生成する。
func NewInvalidTokenError() *Error {
	return &Error{Kind: KindUnauthorized, Message: "Invalid or expired token"}
}

// NewTokenExpiredError は期限切れトークンのエラーを生成する。
func NewTokenExpiredError() *Error {
	return &Error{Kind: KindUnauthorized, Message: "Token expired"}
}

// NewUserExistsError は登録済みメールアドレスのエラーを生成する。
func NewUserExistsError() *Error {
	return &Error{Kind: KindConflict, Message: "User already exists"}
}

// NewUserNotFoundError はユーザー未登録のエラーを生成する。
func NewUserNotFoundError() *Error {
	return &Error{Kind: KindNotFound, Message: "User not found"}
}

// NewProviderFailureError は外部回答プロバイダーの障害を表すエラーを生成する。
func NewProviderFailureError(provider string, err error) *Error {
	return &Error{
		Kind:    KindProviderFailure,
		Message: fmt.Sprintf("answer provider %s failed", provider),
		Err:     err,
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}
