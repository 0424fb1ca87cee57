// Package cleanup は期限切れログインセッションの定期掃除ジョブを提供する。
// 認証時の遅延削除が期限判定の正であり、このジョブは参照されないまま残った
// セッションによるメモリ増加を抑えるためのもの。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionSweeper は期限切れセッションを削除するインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepJob は期限切れセッションの定期掃除ジョブ。
// 冪等な削除処理のため、何度実行しても安全。
type SweepJob struct {
	sweeper  SessionSweeper
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 10分）。0以下の場合Startは何もしない
}

// NewSweepJob は新しいSweepJobを生成する。
// デフォルトの実行間隔は10分。
func NewSweepJob(sweeper SessionSweeper, logger *slog.Logger) *SweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepJob{
		sweeper:  sweeper,
		logger:   logger,
		Interval: 10 * time.Minute,
	}
}

// Run は期限切れセッションを1回掃除する。
// 削除対象がない場合でもエラーにならない。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("セッション掃除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッション掃除の実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッション掃除ジョブが完了しました",
		slog.Int("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はctxがキャンセルされるまでInterval毎にRunを実行する（ブロッキング）。
// 失敗はログに記録し、次の周期で再試行する。
func (j *SweepJob) Start(ctx context.Context) {
	if j.Interval <= 0 {
		j.logger.Info("セッション掃除ジョブは無効化されています")
		return
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
