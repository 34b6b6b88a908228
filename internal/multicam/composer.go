package multicam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"

	"shikai/internal/camera"
	"shikai/internal/config"
)

// Opener はセルのカメラ設定から未初期化のソースを作る
type Opener func(ctx context.Context, cell config.GridCell) (camera.Source, error)

// Composer は格子状に並べた複数のソースを1枚の画像として扱うSource実装
//
// 合成画像の大きさは (列数 x セル幅) x (行数 x セル高さ)。
// 調整項目は先頭のカメラ（行優先で最初のセル）だけに作用する。
type Composer struct {
	layout Layout
	open   Opener

	mu       sync.Mutex
	children []camera.Source
	cellW    int
	cellH    int
	format   camera.Format
	buf      camera.FrameBuffer
	valid    bool
}

var _ camera.Source = (*Composer)(nil)

// New はレイアウトを検証してComposerを作成する。デバイスはまだ開かない
func New(grid *config.GridConfig, open Opener) (*Composer, error) {
	layout, err := CheckLayout(grid)
	if err != nil {
		return nil, err
	}
	return &Composer{layout: layout, open: open}, nil
}

// Layout は検証済みのレイアウトを返す
func (c *Composer) Layout() Layout { return c.layout }

// Init は全てのカメラを行優先順に開く
//
// 1台でも失敗すれば、開いたカメラを全て閉じてエラーを返す。
func (c *Composer) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	children := make([]camera.Source, 0, c.layout.Len())
	fail := func(err error) error {
		closeAll(ctx, children)
		c.children = nil
		return err
	}

	for i, cell := range c.layout.Cells {
		src, err := c.open(ctx, cell)
		if err != nil {
			return fail(fmt.Errorf("カメラ%d (%s) の作成に失敗: %w", i, cell.Device.Name(), err))
		}
		if err := src.Init(ctx); err != nil {
			return fail(fmt.Errorf("カメラ%d (%s) の初期化に失敗: %w", i, cell.Device.Name(), err))
		}
		children = append(children, src)
	}

	// 実際の大きさで再検証
	shapes := make([]shape, len(children))
	for i, src := range children {
		shapes[i] = shape{width: src.Width(), height: src.Height(), known: true, format: src.Format()}
	}
	if err := checkShapes(c.layout, shapes); err != nil {
		return fail(err)
	}

	c.children = children
	c.cellW, c.cellH, c.format = shapes[0].width, shapes[0].height, shapes[0].format
	c.buf.Resize(c.layout.Cols*c.cellW, c.layout.Rows*c.cellH, c.format)
	c.valid = false

	log.Printf("複数カメラを初期化しました (%dx%d, セル %dx%d, %s)", c.layout.Cols, c.layout.Rows, c.cellW, c.cellH, c.format)
	return nil
}

func closeAll(ctx context.Context, children []camera.Source) error {
	var errs []error
	for i, src := range children {
		if err := src.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("カメラ%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func stopAll(ctx context.Context, children []camera.Source) error {
	var errs []error
	for i, src := range children {
		if err := src.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("カメラ%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Start は全てのカメラを開始する。1台でも失敗すれば全て停止する
func (c *Composer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.children == nil {
		return camera.ErrNotInitialized
	}
	for i, src := range c.children {
		if err := src.Start(ctx); err != nil {
			if stopErr := stopAll(ctx, c.children); stopErr != nil {
				log.Printf("開始失敗後の停止でエラー: %v", stopErr)
			}
			return fmt.Errorf("カメラ%d の開始に失敗: %w", i, err)
		}
	}
	return nil
}

// Stop は全てのカメラの停止を試みる
func (c *Composer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	return stopAll(ctx, c.children)
}

// Reset は全てのカメラをリセットする
func (c *Composer) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for i, src := range c.children {
		if err := src.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("カメラ%d: %w", i, err))
		}
	}
	c.valid = false
	return errors.Join(errs...)
}

// Close は全てのカメラを閉じる
func (c *Composer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := closeAll(ctx, c.children)
	c.children = nil
	c.valid = false
	return err
}

// Frame は全カメラのフレームを取得して合成する
//
// 1台でも取得できなければErrNoFrameを返し、合成バッファは無効になる。
func (c *Composer) Frame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.children == nil {
		return nil, camera.ErrNotInitialized
	}
	c.valid = false

	line := c.cellW * c.format.PixelSize()
	stride := c.layout.Cols * line
	out := c.buf.Bytes()

	for i, src := range c.children {
		data, err := src.Frame(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: カメラ%d: %w", camera.ErrNoFrame, i, err)
		}
		if len(data) < line*c.cellH {
			return nil, fmt.Errorf("%w: カメラ%d のフレームが不足しています (%d < %d)", camera.ErrNoFrame, i, len(data), line*c.cellH)
		}

		row, col := i/c.layout.Cols, i%c.layout.Cols
		dst := (row*c.cellH)*stride + col*line
		for y := 0; y < c.cellH; y++ {
			copy(out[dst:dst+line], data[y*line:(y+1)*line])
			dst += stride
		}
	}

	c.valid = true
	return out, nil
}

// Valid は直前のFrameで完全な合成画像が得られたかを返す
func (c *Composer) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

// Width は合成画像の幅を返す
func (c *Composer) Width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Width()
}

// Height は合成画像の高さを返す
func (c *Composer) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Height()
}

// Format は合成画像の形式を返す
func (c *Composer) Format() camera.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// CellSize は1台あたりの大きさを返す
func (c *Composer) CellSize() (w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cellW, c.cellH
}

// CellAt は合成画像上の座標が属するセルの行優先インデックスを返す
func (c *Composer) CellAt(x, y int) int {
	w, h := c.CellSize()
	return c.layout.CellAt(x, y, w, h)
}

// CellRect はセルが合成画像上で占める範囲を返す
func (c *Composer) CellRect(index int) image.Rectangle {
	w, h := c.CellSize()
	return c.layout.CellRect(index, w, h)
}

// Children は行優先順のソースを返す
func (c *Composer) Children() []camera.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]camera.Source(nil), c.children...)
}

func (c *Composer) first() (camera.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.children) == 0 {
		return nil, camera.ErrNotInitialized
	}
	return c.children[0], nil
}

// HasControl は先頭のカメラの調整項目の有無を返す
func (c *Composer) HasControl(ctrl camera.Control) bool {
	src, err := c.first()
	return err == nil && src.HasControl(ctrl)
}

// Control は先頭のカメラの値を返す
func (c *Composer) Control(ctrl camera.Control) (int, error) {
	src, err := c.first()
	if err != nil {
		return 0, err
	}
	return src.Control(ctrl)
}

// SetControl は先頭のカメラに値を設定する
func (c *Composer) SetControl(ctrl camera.Control, value int) error {
	src, err := c.first()
	if err != nil {
		return err
	}
	return src.SetControl(ctrl, value)
}

// ControlInfo は先頭のカメラの範囲と既定値を返す
func (c *Composer) ControlInfo(ctrl camera.Control) (camera.ControlInfo, error) {
	src, err := c.first()
	if err != nil {
		return camera.ControlInfo{}, err
	}
	return src.ControlInfo(ctrl)
}

// SetDefault は先頭のカメラを既定値に戻す
func (c *Composer) SetDefault(ctrl camera.Control) error {
	src, err := c.first()
	if err != nil {
		return err
	}
	return src.SetDefault(ctrl)
}

// HasAuto は先頭のカメラの自動調整の有無を返す
func (c *Composer) HasAuto(ctrl camera.Control) bool {
	src, err := c.first()
	return err == nil && src.HasAuto(ctrl)
}

// Auto は先頭のカメラの自動調整の状態を返す
func (c *Composer) Auto(ctrl camera.Control) (bool, error) {
	src, err := c.first()
	if err != nil {
		return false, err
	}
	return src.Auto(ctrl)
}

// SetAuto は先頭のカメラの自動調整を切り替える
func (c *Composer) SetAuto(ctrl camera.Control, on bool) error {
	src, err := c.first()
	if err != nil {
		return err
	}
	return src.SetAuto(ctrl, on)
}
