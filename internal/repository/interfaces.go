// Package repository はデータ保持のインターフェースとプロセス内実装を定義する。
// 永続化は行わず、プロセス再起動で内容は失われる。
package repository

import (
	"context"
	"time"

	"github.com/uternity/gateway/internal/model"
)

// IdentityRepository は登録ユーザーの保持インターフェース。
type IdentityRepository interface {
	// Create はユーザーを登録する。
	// 同一メールアドレスが登録済みの場合はKindConflictのエラーを返し、既存ユーザーを上書きしない。
	Create(ctx context.Context, identity *model.Identity) error

	// FindByEmail は正規化済みメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// List は全ユーザーを登録順に返す。
	List(ctx context.Context) ([]model.Identity, error)

	// SetActive はユーザーの有効フラグを更新する。未登録の場合はKindNotFoundのエラーを返す。
	SetActive(ctx context.Context, email string, active bool) error

	// Count は登録ユーザー数を返す。
	Count(ctx context.Context) (int, error)
}

// ExpiryFunc はセッションが期限切れかを判定する述語。
type ExpiryFunc func(session *model.Session, now time.Time) bool

// SessionRepository はログインセッションの保持インターフェース。
type SessionRepository interface {
	// Create はセッションを保存する。トークンが既に存在する場合はエラーを返す。
	Create(ctx context.Context, session *model.Session) error

	// FindByToken はトークンでセッションを取得する。見つからない場合はnilを返す。
	// 期限の判定は行わない。
	FindByToken(ctx context.Context, token string) (*model.Session, error)

	// DeleteByToken は指定トークンのセッションを削除する。削除した場合はtrueを返す。
	DeleteByToken(ctx context.Context, token string) (bool, error)

	// DeleteFirstByEmail は発行順で最初に見つかった指定ユーザーのセッションを1件削除する。
	// 該当がなくてもエラーにしない。
	DeleteFirstByEmail(ctx context.Context, email string) (bool, error)

	// DeleteExpired はexpiredがtrueを返すセッションをすべて削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time, expired ExpiryFunc) (int, error)

	// Count は保持中のセッション数を返す（期限切れで未アクセスのものを含む）。
	Count(ctx context.Context) (int, error)
}

// ConversationRepository はチャットセッションとメッセージログの保持インターフェース。
type ConversationRepository interface {
	// Ensure は(userID, sessionID)の組が未登録であれば空のメタデータと空のログを作成する。
	// 作成した場合はtrueを返す。sessionIDが別ユーザーに属する場合はKindConflictのエラーを返す。
	Ensure(ctx context.Context, userID, sessionID string, now time.Time) (bool, error)

	// Append はメッセージをログ末尾に追記し、MessageCountを同時に更新する。
	// セッションが存在しない場合はKindNotFoundのエラーを返す。
	Append(ctx context.Context, sessionID string, msg model.Message) error

	// Touch は直近発話のプレビューと更新時刻を記録する。
	// セッションが存在しない場合はKindNotFoundのエラーを返す。
	Touch(ctx context.Context, sessionID, preview string, now time.Time) error

	// ListByUser は指定ユーザーのセッションメタデータを返す。順序は保証しない。
	ListByUser(ctx context.Context, userID string) ([]model.Conversation, error)

	// ListMessages は指定セッションのメッセージを挿入順に返す。未登録の場合は空スライス。
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)

	// Delete は指定ユーザーのセッションメタデータとログを削除する。冪等。
	Delete(ctx context.Context, userID, sessionID string) error

	// Stats はセッションを持つユーザー数、セッション数、メッセージ総数を返す。
	Stats(ctx context.Context) (ConversationStats, error)
}

// ConversationStats はチャットデータの件数集計。
type ConversationStats struct {
	Users    int
	Sessions int
	Messages int
}
