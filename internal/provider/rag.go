package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/uternity/gateway/internal/model"
)

// maxRAGResponseBytes は検索サービスのレスポンスボディ上限。
const maxRAGResponseBytes = 1 << 20

// ragRequest は検索サービスへのリクエストボディ。
type ragRequest struct {
	Query string `json:"query"`
}

// ragResponse は検索サービスのレスポンスボディ。
type ragResponse struct {
	Success    bool           `json:"success"`
	Answer     string         `json:"answer"`
	Sources    []model.Source `json:"sources"`
	Confidence *float64       `json:"confidence"`
}

// RAGClient は大学情報の検索拡張サービスのクライアント。
// POST {query} に対して {success, answer, sources, confidence} を受け取る。
type RAGClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewRAGClient はRAGClientを生成する。
func NewRAGClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *RAGClient {
	return &RAGClient{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// Name はプロバイダー名を返す。
func (c *RAGClient) Name() string { return "rag" }

// Answer は検索サービスに質問を送信する。
// success=falseの応答もプロバイダー障害として扱う。
func (c *RAGClient) Answer(ctx context.Context, query string) (*Answer, error) {
	body, err := json.Marshal(ragRequest{Query: query})
	if err != nil {
		return nil, model.NewProviderFailureError(c.Name(), fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, model.NewProviderFailureError(c.Name(), fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Uternity/1.0 Chat Service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("retrieval service request failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderFailureError(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("retrieval service returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewProviderFailureError(c.Name(), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRAGResponseBytes))
	if err != nil {
		return nil, model.NewProviderFailureError(c.Name(), fmt.Errorf("failed to read response: %w", err))
	}

	var result ragResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Error("failed to parse retrieval service response",
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderFailureError(c.Name(), fmt.Errorf("failed to decode response: %w", err))
	}

	if !result.Success {
		return nil, model.NewProviderFailureError(c.Name(), fmt.Errorf("retrieval reported failure"))
	}

	confidence := ConfidenceRAG
	if result.Confidence != nil {
		confidence = *result.Confidence
	}
	sources := result.Sources
	if sources == nil {
		sources = []model.Source{}
	}

	return &Answer{
		Text:       result.Answer,
		Sources:    sources,
		Provenance: model.ProvenanceRAGEnhanced,
		Confidence: confidence,
	}, nil
}
