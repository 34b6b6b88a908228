package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"shikai/internal/calibration"
	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/vision"
)

// Engine はHTTP側から見たキャプチャループ
type Engine interface {
	Status() vision.Status
	Snapshot() vision.Snapshot
	SendKey(k calibration.Key) error
	Controls() camera.Controls
}

// BlobSetter は外部からブロブを与える
type BlobSetter interface {
	Set(blobs []calibration.Blob)
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     Engine
	blobs      BlobSetter
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

// New は新しいServerインスタンスを作成する。blobsがnilならブロブの入力を受け付けない
func New(cfg *config.Config, engine Engine, blobs BlobSetter) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config: cfg,
		engine: engine,
		blobs:  blobs,
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := &Handler{config: s.config, engine: s.engine, blobs: s.blobs}

	s.router.GET("/", h.Root)
	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/calibration", h.GetCalibration)
	api.GET("/calibration/overlay", h.GetOverlay)
	api.POST("/keys", h.PostKey)
	api.PUT("/blobs", h.PutBlobs)
	api.GET("/frame.jpg", h.GetFrame)
	api.GET("/stream", h.GetStream)
	api.GET("/camera/controls", h.GetControls)
	api.PUT("/camera/controls/:name", h.PutControl)
}

// Listen はリッスンを開始する。Startより前に呼ぶとポート0の実際のアドレスを得られる
func (s *Server) Listen() (net.Addr, error) {
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("リッスンに失敗: %w", err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start はサーバーを起動し、コンテキストのキャンセルかシグナルを受けるまで待つ
func (s *Server) Start(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", addr)
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
