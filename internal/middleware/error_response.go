package middleware

import (
	"encoding/json"
	"net/http"
)

// DetailBody はAPIエラーレスポンスのフォーマット。
type DetailBody struct {
	Detail string `json:"detail"`
}

// WriteDetail は{detail}形式のエラーレスポンスを書き込む。
func WriteDetail(w http.ResponseWriter, statusCode int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(DetailBody{Detail: detail})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteDetail(w, http.StatusInternalServerError, "Internal server error")
}
