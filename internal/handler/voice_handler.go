package handler

import (
	"fmt"
	"html"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/uternity/gateway/internal/voice"
)

const (
	// PageTOEFL はTOEFL案内ページのスラッグ。
	PageTOEFL = "toefl-instructions"
	// PageIELTS はIELTS案内ページのスラッグ。
	PageIELTS = "ielts-instructions"
)

// PageSource は案内ページの取得に必要なインターフェース。
type PageSource interface {
	Get(slug string) (*voice.Page, bool)
	Slugs() []string
}

// requiredPages は配信対象として必須の案内ページ。
var requiredPages = []string{PageTOEFL, PageIELTS}

// VoiceHandler は音声練習サービスのHTTPハンドラー。
type VoiceHandler struct {
	pages PageSource
}

// NewVoiceHandler はVoiceHandlerを生成する。
func NewVoiceHandler(pages PageSource) *VoiceHandler {
	return &VoiceHandler{pages: pages}
}

// Page はスラッグに対応する案内ページを返すハンドラーを生成する。
// GET /toefl-instructions, GET /ielts-instructions
func (h *VoiceHandler) Page(slug string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, ok := h.pages.Get(slug)
		if !ok {
			name := strings.ToUpper(strings.SplitN(slug, "-", 2)[0])
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, "<h1>%s Instructions Page Not Found</h1>", html.EscapeString(name))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(page.HTML)
	}
}

// Index はサービスの概要、エンドポイント一覧、読み込み済みページのスラッグを返す。
// GET /
func (h *VoiceHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Voice Agent Service",
		"version": ServiceVersion,
		"endpoints": map[string]string{
			"health":             "/health",
			"toefl_instructions": "/" + PageTOEFL,
			"ielts_instructions": "/" + PageIELTS,
		},
		"pages": h.pages.Slugs(),
	})
}

// Health は音声練習サービスの稼働状況を返す。
// GET /health
func (h *VoiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	loaded := h.pages.Slugs()
	pages := "available"
	var missing []string
	for _, slug := range requiredPages {
		if !slices.Contains(loaded, slug) {
			pages = "missing"
			missing = append(missing, slug)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   ServiceVersion,
		"components": map[string]string{
			"voice_processor":   "healthy",
			"instruction_pages": pages,
		},
		"missing_pages": missing,
	})
}

// AgentHealth は音声エージェント向けの簡易ヘルスチェック。
// GET /api/v1/health/
func (h *VoiceHandler) AgentHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "voice-agent",
		"timestamp": time.Now(),
		"version":   ServiceVersion,
	})
}
