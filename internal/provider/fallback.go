package provider

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/uternity/gateway/internal/metrics"
	"github.com/uternity/gateway/internal/model"
)

// Fallback は複数のプロバイダーを順に試し、全て失敗した場合は定型回答を返す合成プロバイダー。
// プロバイダー障害は内部で回復し、呼び出し元にはコンテキストのキャンセルのみをエラーとして返す。
// 各段階は1回だけ呼び出し、リトライしない。
type Fallback struct {
	stages  []Provider
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	warn    *rate.Sometimes
}

// NewFallback はFallbackを生成する。
// timeoutは各段階の呼び出しに適用する期限。0以下の場合は期限を設けない。
func NewFallback(
	stages []Provider,
	timeout time.Duration,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Fallback {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Fallback{
		stages:  stages,
		timeout: timeout,
		metrics: collector,
		logger:  logger,
		// 障害が続く間は最初の数件と以降は一定間隔でのみ警告を出す
		warn: &rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

// Name はプロバイダー名を返す。
func (f *Fallback) Name() string { return "fallback" }

// Answer は各段階を順に呼び出し、最初に成功した回答を返す。
func (f *Fallback) Answer(ctx context.Context, query string) (*Answer, error) {
	for _, stage := range f.stages {
		answer, err := f.call(ctx, stage, query)
		if err == nil {
			return answer, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.warn.Do(func() {
			f.logger.Warn("answer provider failed, falling back",
				slog.String("provider", stage.Name()),
				slog.String("error", err.Error()),
			)
		})
	}

	return &Answer{
		Text:       FallbackText,
		Sources:    []model.Source{},
		Provenance: model.ProvenanceRAGFallback,
		Confidence: ConfidenceFallback,
	}, nil
}

// call は1段階分の呼び出しを期限付きで実行し、レイテンシを記録する。
func (f *Fallback) call(ctx context.Context, stage Provider, query string) (*Answer, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := stage.Answer(ctx, query)
	f.metrics.RecordProviderLatency(time.Since(start))
	return answer, err
}
