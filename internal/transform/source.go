package transform

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"shikai/internal/calibgrid"
	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/distortion"
)

// GridLoader はグリッドファイルを読み込む。読めなければ空の格子を返す
type GridLoader interface {
	LoadOrEmpty(path string, countX, countY int) *calibgrid.Grid
}

// Source は生のキャプチャソースに変換パイプラインを掛けたSource実装
//
// 調整項目は生のソースにそのまま委譲する。
type Source struct {
	camera.Controls

	raw      camera.Source
	cfg      *config.DeviceConfig
	gridPath string
	grids    GridLoader // nilなら歪み補正なし

	mu       sync.Mutex
	pipeline *Pipeline
	buf      camera.FrameBuffer
}

// NewSource は新しいSourceを作成する。gridsがnilなら歪み補正を行わない
func NewSource(raw camera.Source, cfg *config.DeviceConfig, gridPath string, grids GridLoader) *Source {
	return &Source{
		Controls: raw,
		raw:      raw,
		cfg:      cfg.CloneDevice(),
		gridPath: gridPath,
		grids:    grids,
	}
}

// Raw は生のキャプチャソースを返す
func (s *Source) Raw() camera.Source { return s.raw }

// Init は生のソースを初期化し、調整項目の適用と変換器の構築を行う
func (s *Source) Init(ctx context.Context) error {
	if err := s.raw.Init(ctx); err != nil {
		return err
	}
	s.applyControls()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rebuild(); err != nil {
		_ = s.raw.Close(ctx)
		return err
	}
	return nil
}

func (s *Source) applyControls() {
	for name, value := range s.cfg.Controls {
		c, err := camera.ParseControl(name)
		if err != nil {
			log.Printf("%s: %v", s.cfg.Name(), err)
			continue
		}
		if err := s.raw.SetControl(c, value); err != nil && !errors.Is(err, camera.ErrUnsupportedControl) {
			log.Printf("%s: 調整項目 %s の設定に失敗: %v", s.cfg.Name(), name, err)
		}
	}
	for name, on := range s.cfg.Autos {
		c, err := camera.ParseControl(name)
		if err != nil {
			log.Printf("%s: %v", s.cfg.Name(), err)
			continue
		}
		if err := s.raw.SetAuto(c, on); err != nil && !errors.Is(err, camera.ErrUnsupportedControl) {
			log.Printf("%s: 自動調整 %s の設定に失敗: %v", s.cfg.Name(), name, err)
		}
	}
}

// rebuild は現在の入力形状と設定から変換器と変位マップを作り直す
func (s *Source) rebuild() error {
	srcW, srcH, srcFormat := s.raw.Width(), s.raw.Height(), s.raw.Format()
	x, y, w, h := s.cfg.Crop.Resolve(srcW, srcH)

	var dmap *distortion.Map
	if s.grids != nil {
		cx, cy := calibgrid.Size(w, h)
		grid := s.grids.LoadOrEmpty(s.gridPath, cx, cy)
		dmap = distortion.Build(grid, w, h, srcW-x, srcH-y)
	}

	p, err := New(Params{
		SrcWidth:  srcW,
		SrcHeight: srcH,
		SrcFormat: srcFormat,
		DstWidth:  w,
		DstHeight: h,
		DstFormat: s.cfg.OutputFormat(),
		XOff:      x,
		YOff:      y,
		FlipH:     s.cfg.FlipH,
		FlipV:     s.cfg.FlipV,
	}, dmap)
	if err != nil {
		return fmt.Errorf("%s: %w", s.cfg.Name(), err)
	}

	s.pipeline = p
	s.buf.Resize(w, h, p.params.DstFormat)
	return nil
}

// Start はキャプチャを開始する
func (s *Source) Start(ctx context.Context) error { return s.raw.Start(ctx) }

// Stop はキャプチャを停止する
func (s *Source) Stop(ctx context.Context) error { return s.raw.Stop(ctx) }

// Reset は生のソースをリセットし、グリッドを読み直して変換器を作り直す
func (s *Source) Reset(ctx context.Context) error {
	if err := s.raw.Reset(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuild()
}

// Close は生のソースをクローズする
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	s.pipeline = nil
	s.mu.Unlock()
	return s.raw.Close(ctx)
}

// Frame は変換済みのフレームを返す。入力の大きさや形式が変わっていれば変換器を作り直す
func (s *Source) Frame(ctx context.Context) ([]byte, error) {
	src, err := s.raw.Frame(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		return nil, camera.ErrNotInitialized
	}
	prm := s.pipeline.params
	if prm.SrcWidth != s.raw.Width() || prm.SrcHeight != s.raw.Height() || prm.SrcFormat != s.raw.Format() {
		if err := s.rebuild(); err != nil {
			return nil, err
		}
	}
	if err := s.pipeline.Transform(src, s.buf.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %w", camera.ErrNoFrame, err)
	}
	return s.buf.Bytes(), nil
}

// Width は出力画像の幅を返す
func (s *Source) Width() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Width()
}

// Height は出力画像の高さを返す
func (s *Source) Height() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Height()
}

// Format は出力画像の形式を返す
func (s *Source) Format() camera.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Format()
}

// Corrected は歪み補正が有効かを返す
func (s *Source) Corrected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline != nil && s.pipeline.dmap != nil
}
