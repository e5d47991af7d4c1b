package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultBackfillSchedule はバックフィルジョブのデフォルトスケジュール
const DefaultBackfillSchedule = "@every 30m"

// BackfillJobConfig はEmbeddingバックフィルジョブの設定
type BackfillJobConfig struct {
	CronSchedule string        // Cron形式のスケジュール（例: "@every 30m"）
	BatchSize    int           // 1回の実行で処理する最大件数
	Timeout      time.Duration // 1回の実行のタイムアウト
	// Locker が設定されている場合、複数プロセスのうち1つだけが実行する
	Locker Locker
}

// BackfillLockName はバックフィルジョブのロック名
const BackfillLockName = "study-rag:embedding-backfill"

// Locker はプロセス間の排他を提供する
type Locker interface {
	// TryLock はロックを取得できた場合に解放関数と true を返す
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}

// BackfillJob はEmbedding未計算のドキュメントを定期的に埋めるジョブ
type BackfillJob struct {
	config  BackfillJobConfig
	service *Service
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewBackfillJob は新しいBackfillJobを作成する
func NewBackfillJob(config BackfillJobConfig, service *Service, logger *slog.Logger) *BackfillJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CronSchedule == "" {
		config.CronSchedule = DefaultBackfillSchedule
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	return &BackfillJob{
		config:  config,
		service: service,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start はスケジューラーを起動する
func (j *BackfillJob) Start() error {
	_, err := j.cron.AddFunc(j.config.CronSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
		defer cancel()

		if _, err := j.Run(ctx); err != nil {
			j.logger.Error("Embeddingバックフィルジョブの実行に失敗しました", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron ジョブの登録に失敗: %w", err)
	}

	j.cron.Start()
	j.logger.Info("Embeddingバックフィルジョブを開始しました", "schedule", j.config.CronSchedule)

	return nil
}

// Stop はスケジューラーを停止し、実行中のジョブの完了を待つ
func (j *BackfillJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("Embeddingバックフィルジョブを停止しました")
}

// Run はバックフィルを1回実行する（手動実行可能）。
// 前回の実行が終わっていない場合は何もしない
func (j *BackfillJob) Run(ctx context.Context) (*BackfillResult, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.logger.Info("前回のバックフィルが実行中のためスキップします")
		return &BackfillResult{}, nil
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	if j.config.Locker != nil {
		unlock, ok, err := j.config.Locker.TryLock(ctx, BackfillLockName)
		if err != nil {
			return &BackfillResult{}, fmt.Errorf("ロックの取得に失敗: %w", err)
		}
		if !ok {
			j.logger.Info("他のプロセスがバックフィルを実行中のためスキップします")
			return &BackfillResult{}, nil
		}
		defer unlock()
	}

	result, err := j.service.BackfillEmbeddings(ctx, j.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("バックフィルに失敗: %w", err)
	}

	if result.Processed > 0 {
		j.logger.Info("Embeddingバックフィルが完了しました",
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
		)
	}

	return result, nil
}
