package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"cheesebooth/internal/booth"
	"cheesebooth/internal/config"
)

// Controller はサーバーから参照・操作するコントローラー
type Controller interface {
	Snapshot() booth.Snapshot
	RequestRestart() error
}

// FrameFeed は表示面の映像の購読口
type FrameFeed interface {
	Subscribe() (<-chan []byte, func())
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	handler    *BoothHandler
	engine     *gin.Engine
	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, ctrl Controller, feed FrameFeed) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	done := make(chan struct{})
	s := &Server{
		config:  cfg,
		handler: &BoothHandler{config: cfg, controller: ctrl, feed: feed, done: done},
		engine:  engine,
		done:    done,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()

	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handler.Root)
	s.engine.GET("/health", s.handler.HealthCheck)
	s.engine.GET("/preview.mjpg", s.handler.Preview)

	api := s.engine.Group("/api")
	api.GET("/status", s.handler.GetStatus)
	api.POST("/stream/restart", s.handler.RestartStream)
}

// Start はサーバーを起動し、コンテキストが終了するとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ln で接続を受け付ける
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("サーバーの実行に失敗: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	log.Info().Msg("サーバーをシャットダウンしています...")

	// 配信中のMJPEGを終了させる
	s.closeOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをzerologで記録するミドルウェア
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTPリクエスト")
	}
}
