package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/jinford/study-rag/internal/interface/httpapi"
	"github.com/jinford/study-rag/internal/platform/config"
)

// ServerStartAction はHTTPサーバとEmbeddingバックフィルジョブを起動する
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(serverStart)(ctx, cmd)
}

func serverStart(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
	cfg := appCtx.Config
	if cfg.Server.JWTSecret == "" {
		return errors.New("JWT_SECRET が設定されていません")
	}

	port := cfg.Server.Port
	if cmd.IsSet("port") {
		port = int(cmd.Int("port"))
	}
	gin.SetMode(cfg.Server.GinMode)

	c := appCtx.Container
	logger := appCtx.Logger()

	if cfg.Jobs.BackfillSchedule != "" {
		job := c.NewBackfillJob(0)
		if err := job.Start(); err != nil {
			return fmt.Errorf("バックフィルジョブの起動に失敗: %w", err)
		}
		defer job.Stop()
		logger.Info("embedding backfill job scheduled", "schedule", cfg.Jobs.BackfillSchedule)
	}

	server := httpapi.NewServer(httpapi.Dependencies{
		Conversations: c.ConversationService,
		Documents:     c.DocumentService,
		Metrics:       c.Metrics,
		Health:        c.Health,
	}, httpapi.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer), httpapi.WithServerLogger(logger))

	slog.Info("HTTPサーバを起動します", "port", port, "store", cfg.Store.Backend, "models", cfg.Generation.Models)
	return server.Run(ctx, port)
}

// ServerTokenAction は開発用のアクセストークンを発行する
func ServerTokenAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("JWT_SECRET が設定されていません")
	}

	userID, err := requiredUUID(cmd, "user")
	if err != nil {
		return err
	}

	ttl := cmd.Duration("ttl")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	auth := httpapi.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
	token, expiresAt, err := auth.GenerateToken(userID, ttl)
	if err != nil {
		return fmt.Errorf("トークンの発行に失敗: %w", err)
	}

	fmt.Println(token)
	slog.Info("トークンを発行しました", "userID", userID.String(), "expiresAt", expiresAt)
	return nil
}
