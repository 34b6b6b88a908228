// Package app はキャプチャループとHTTPサーバーを組み立てて起動する
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"shikai/internal/calibgrid"
	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/fsutil"
	"shikai/internal/server"
	"shikai/internal/vision"
)

// NewFactory はアプリケーションで使うドライバを登録したファクトリーを返す
func NewFactory() *camera.Factory {
	f := camera.NewFactory()
	f.Register(camera.DriverMock, camera.NewMockSourceFromConfig)
	return f
}

// CameraConfig はレイアウト記述ファイルがあればそれを、なければ既定の単体カメラ設定を返す
func CameraConfig(fsys fsutil.FileSystem, cfg *config.Config) (config.CameraConfig, error) {
	if path := cfg.Camera.LayoutFile; path != "" && fsys.Exists(path) {
		return config.LoadCamera(fsys, path)
	}
	d, err := cfg.Camera.DefaultDevice()
	if err != nil {
		return nil, fmt.Errorf("カメラ設定が不正です: %w", err)
	}
	return d, nil
}

// Run はキャプチャループとHTTPサーバーを起動し、サーバーが止まるまでブロックする
func Run(ctx context.Context, cfg *config.Config) error {
	fsys := fsutil.OSFileSystem{}

	camCfg, err := CameraConfig(fsys, cfg)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(cfg.Calibration.ResourceDir, 0o755); err != nil {
		return fmt.Errorf("リソースディレクトリの作成に失敗: %w", err)
	}

	grids := calibgrid.NewFileStore(fsys)
	blobs := vision.NewManualBlobs()
	engine := vision.New(camCfg, vision.Options{
		Factory:     NewFactory(),
		Grids:       grids,
		FS:          fsys,
		Calibration: cfg.Calibration,
		LayoutFile:  cfg.Camera.LayoutFile,
		IdleBackoff: cfg.Engine.IdleBackoff,
		Blobs:       blobs,
	})

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("キャプチャの開始に失敗: %w", err)
	}
	log.Printf("キャプチャを開始しました: %s", engine.ID())

	srv := server.New(cfg, engine, blobs)
	serveErr := srv.Start(ctx)

	// 終了処理はサーバー停止後に行う
	return shutdown(serveErr, func() error { return engine.Stop(context.Background()) }, grids.Cleanup)
}

// shutdown はキャプチャを止め、問題がなければグリッドの退避ファイルを削除する
//
// サーバーか停止処理が失敗した場合は退避ファイルを残す。
func shutdown(serveErr error, stop, cleanup func() error) error {
	stopErr := stop()
	if err := errors.Join(serveErr, stopErr); err != nil {
		log.Printf("異常終了のためグリッドの退避ファイルを残します: %v", err)
		return err
	}
	return cleanup()
}
