// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は登録済みユーザーの認証情報を表す。
// Emailは小文字正規化済みの一意キー。登録後は無効化以外で変更されない。
type Identity struct {
	Email        string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
	IsActive     bool
}

// IdentitySnapshot はセッション発行時点のユーザー情報のコピー。
// Identityへの参照ではなく値として保持する。
type IdentitySnapshot struct {
	Email     string
	Name      string
	CreatedAt time.Time
}

// Snapshot はIdentityからセッション格納用のスナップショットを生成する。
func (i *Identity) Snapshot() IdentitySnapshot {
	return IdentitySnapshot{
		Email:     i.Email,
		Name:      i.Name,
		CreatedAt: i.CreatedAt,
	}
}

// Session はトークンに紐づくログインセッションを表す。
type Session struct {
	Token     string
	User      IdentitySnapshot
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IdentityView はユーザー一覧で公開する情報。パスワードハッシュを含まない。
type IdentityView struct {
	Email     string
	Name      string
	CreatedAt time.Time
	IsActive  bool
}

// View はIdentityから公開用ビューを生成する。
func (i *Identity) View() IdentityView {
	return IdentityView{
		Email:     i.Email,
		Name:      i.Name,
		CreatedAt: i.CreatedAt,
		IsActive:  i.IsActive,
	}
}
