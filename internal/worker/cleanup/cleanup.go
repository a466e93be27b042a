// Package cleanup は期限切れログインセッションの定期削除ジョブを提供する。
// 実行ごとに現在チェックイン中の勤務セッション数もメトリクスに反映する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れログインセッションを削除するインターフェース。
// repository.AuthSessionRepository が満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OpenSessionCounter はチェックイン中の勤務セッション数を返すインターフェース。
type OpenSessionCounter interface {
	CountOpenSessions(ctx context.Context) (int, error)
}

// Recorder はジョブの結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordLoginSessionsPurged(count int64)
	SetOpenSessions(count int)
}

// CleanupJob は期限切れログインセッションの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	open     OpenSessionCounter
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// openがnilの場合はチェックイン中セッション数を集計しない。
func NewCleanupJob(sessions SessionPurger, open OpenSessionCounter, recorder Recorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		open:     open,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は期限切れのログインセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("ログインセッションのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ログインセッションのクリーンアップに失敗: %w", err)
	}
	if j.recorder != nil {
		j.recorder.RecordLoginSessionsPurged(deletedCount)
	}

	attrs := []slog.Attr{
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	}

	if j.open != nil {
		n, err := j.open.CountOpenSessions(ctx)
		if err != nil {
			return fmt.Errorf("チェックイン中セッション数の取得に失敗: %w", err)
		}
		if j.recorder != nil {
			j.recorder.SetOpenSessions(n)
		}
		attrs = append(attrs, slog.Int("open_sessions", n))
	}

	j.logger.LogAttrs(ctx, slog.LevelInfo, "クリーンアップジョブが完了しました", attrs...)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ出力済み。次の周期で再試行する
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
