package vision

import (
	"context"
	"fmt"

	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/multicam"
	"shikai/internal/transform"
)

// openLocked はカメラ構成からソースを作り、初期化して開始する
func (e *Engine) openLocked(ctx context.Context, cfg config.CameraConfig, correct bool) (camera.Source, error) {
	src, err := e.build(cfg, correct)
	if err != nil {
		return nil, err
	}
	if err := src.Init(ctx); err != nil {
		return nil, fmt.Errorf("カメラの初期化に失敗: %w", err)
	}
	if err := src.Start(ctx); err != nil {
		_ = src.Close(ctx)
		return nil, fmt.Errorf("カメラの開始に失敗: %w", err)
	}
	return src, nil
}

// build は構成に応じて単体カメラか複数カメラの合成ソースを作る
func (e *Engine) build(cfg config.CameraConfig, correct bool) (camera.Source, error) {
	switch c := cfg.(type) {
	case *config.DeviceConfig:
		return e.device(c, false, correct)
	case *config.GridConfig:
		return multicam.New(c, func(_ context.Context, cell config.GridCell) (camera.Source, error) {
			return e.device(cell.Device, true, correct)
		})
	default:
		return nil, fmt.Errorf("不明なカメラ構成: %T", cfg)
	}
}

// device はドライバのソースに変換パイプラインを掛けたソースを作る
func (e *Engine) device(d *config.DeviceConfig, multi, correct bool) (camera.Source, error) {
	raw, err := e.opts.Factory.Create(d.Driver, d.SourceConfig())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}

	var grids transform.GridLoader
	if correct && e.opts.Grids != nil {
		grids = e.opts.Grids
	}
	return transform.NewSource(raw, d, e.opts.Calibration.DeviceGridPath(d, multi), grids), nil
}
