// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/uternity/gateway/internal/middleware"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// errBodyRequired はリクエストボディが空の場合のエラー。
var errBodyRequired = errors.New("request body is required")

// requiredField は必須フィールドの未指定を表すエラー。
type requiredField string

func (f requiredField) Error() string {
	return fmt.Sprintf("field required: %s", string(f))
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// デコードに失敗した場合は422と{detail}を書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errBodyRequired
		}
		middleware.WriteDetail(w, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// field は必須チェック対象のフィールド名と値。
type field struct {
	name  string
	value *string
}

// requireFields は未指定の必須フィールドがあれば422を書き込み、falseを返す。
func requireFields(w http.ResponseWriter, fields ...field) bool {
	for _, f := range fields {
		if f.value == nil {
			middleware.WriteDetail(w, http.StatusUnprocessableEntity, requiredField(f.name).Error())
			return false
		}
	}
	return true
}
