package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinford/study-rag/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

// Dependencies はHTTPサーバーが使うサービス
type Dependencies struct {
	Conversations ConversationService
	Documents     DocumentService
	// Metrics が nil の場合は /metrics を公開しない
	Metrics *metrics.Metrics
	// Health は /healthz で呼ばれる。nil の場合は常に正常
	Health func(ctx context.Context) error
}

// Server は学習アシスタントのHTTP API
type Server struct {
	engine *gin.Engine
	logger *slog.Logger
	deps   Dependencies
	auth   *Authenticator
}

// ServerOption はサーバーのオプション
type ServerOption func(*Server)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer はルーティング済みのサーバーを作成する
func NewServer(deps Dependencies, auth *Authenticator, opts ...ServerOption) *Server {
	registerValidators()

	s := &Server{
		engine: gin.New(),
		logger: slog.Default(),
		deps:   deps,
		auth:   auth,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), requestIDMiddleware(), loggingMiddleware(s.logger))
	if s.deps.Metrics != nil {
		s.engine.Use(s.deps.Metrics.Middleware())
		s.engine.GET("/metrics", s.deps.Metrics.Handler())
	}
	s.engine.GET("/healthz", s.health)

	conversations := &conversationHandler{service: s.deps.Conversations, logger: s.logger}
	documents := &documentHandler{service: s.deps.Documents, logger: s.logger}

	api := s.engine.Group("/api/v1", authMiddleware(s.auth))
	{
		api.POST("/conversations", conversations.create)
		api.GET("/conversations", conversations.list)
		api.GET("/conversations/:id", conversations.get)
		api.POST("/conversations/:id/messages", conversations.sendMessage)
		api.POST("/conversations/:id/messages/stream", conversations.streamMessage)

		api.POST("/documents", documents.create)
		api.GET("/documents", documents.list)
		api.GET("/documents/:id", documents.get)
		api.DELETE("/documents/:id", documents.delete)
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler は http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run は ctx がキャンセルされるまでサーバーを起動する
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE のため書き込みタイムアウトは設定しない
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
