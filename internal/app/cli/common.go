package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/study-rag/internal/platform/config"
	"github.com/jinford/study-rag/internal/platform/container"
	"github.com/jinford/study-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、ストアに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	// 表示を汚さないようログは標準エラーへ
	logCfg := logger.ConfigFrom(cfg.Log.Level, cfg.Log.Format)
	logCfg.Output = os.Stderr
	appLogger := logger.New(logCfg)

	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// withAppContext は AppContext を初期化してからアクションを実行する
func withAppContext(action func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		appCtx, err := NewAppContext(ctx, cmd.String("env"))
		if err != nil {
			return err
		}
		defer appCtx.Close()
		return action(ctx, cmd, appCtx)
	}
}

// requiredUUID はフラグの値をUUIDとして解釈する
func requiredUUID(cmd *cli.Command, name string) (uuid.UUID, error) {
	value := cmd.String(name)
	if value == "" {
		return uuid.Nil, fmt.Errorf("--%s を指定してください", name)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s が不正なUUIDです: %w", name, err)
	}
	return id, nil
}

// optionalUUID は未指定なら None を返す
func optionalUUID(cmd *cli.Command, name string) (mo.Option[uuid.UUID], error) {
	if cmd.String(name) == "" {
		return mo.None[uuid.UUID](), nil
	}
	id, err := requiredUUID(cmd, name)
	if err != nil {
		return mo.None[uuid.UUID](), err
	}
	return mo.Some(id), nil
}
