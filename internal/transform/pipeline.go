// Package transform はキャプチャ画像を出力画像へ変換する
//
// 1フレームにつき、圧縮形式の復号（必要な場合）を1回行ったあと、
// 出力画像の行を並列に処理して反転・切り出し・歪み補正・形式変換を行う。
// Transformは全ての行が書き終わるまで戻らない。
package transform

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"shikai/internal/camera"
	"shikai/internal/distortion"
)

// ErrParams は変換パラメータが不正であることを示す
var ErrParams = errors.New("無効な変換パラメータ")

// Params は変換パラメータ
type Params struct {
	SrcWidth  int
	SrcHeight int
	SrcFormat camera.Format

	DstWidth  int
	DstHeight int
	DstFormat camera.Format

	// 切り出し位置
	XOff int
	YOff int

	FlipH bool
	FlipV bool
}

// Pipeline は1つのパラメータと変位マップに対する変換器
type Pipeline struct {
	params  Params
	dmap    *distortion.Map
	workers int

	// 圧縮形式の復号先
	decoded camera.FrameBuffer
}

// New はパラメータを検証して変換器を作成する。dmapがnilなら歪み補正なし
func New(p Params, dmap *distortion.Map) (*Pipeline, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if dmap != nil && (dmap.Width() != p.DstWidth || dmap.Height() != p.DstHeight) {
		return nil, fmt.Errorf("%w: 変位マップ %dx%d が出力 %dx%d と一致しません",
			ErrParams, dmap.Width(), dmap.Height(), p.DstWidth, p.DstHeight)
	}
	return &Pipeline{
		params:  p,
		dmap:    dmap,
		workers: max(1, min(runtime.GOMAXPROCS(0), p.DstHeight)),
	}, nil
}

func (p Params) validate() error {
	if p.SrcWidth <= 0 || p.SrcHeight <= 0 || p.DstWidth <= 0 || p.DstHeight <= 0 {
		return fmt.Errorf("%w: 大きさ %dx%d -> %dx%d", ErrParams, p.SrcWidth, p.SrcHeight, p.DstWidth, p.DstHeight)
	}
	if p.XOff < 0 || p.YOff < 0 || p.XOff+p.DstWidth > p.SrcWidth || p.YOff+p.DstHeight > p.SrcHeight {
		return fmt.Errorf("%w: 切り出し (%d,%d %dx%d) が入力 %dx%d からはみ出しています",
			ErrParams, p.XOff, p.YOff, p.DstWidth, p.DstHeight, p.SrcWidth, p.SrcHeight)
	}
	if readerFor(p.SrcFormat) == nil && !p.SrcFormat.Compressed() {
		return fmt.Errorf("%w: 未対応の入力形式 %s", ErrParams, p.SrcFormat)
	}
	switch p.DstFormat {
	case camera.FormatGray, camera.FormatRGB, camera.FormatRGBA:
	default:
		return fmt.Errorf("%w: 未対応の出力形式 %s", ErrParams, p.DstFormat)
	}
	return nil
}

// Params は変換パラメータを返す
func (p *Pipeline) Params() Params { return p.params }

// Map は変位マップを返す。補正なしならnil
func (p *Pipeline) Map() *distortion.Map { return p.dmap }

// Transform はsrcを変換してdstに書き込む
func (p *Pipeline) Transform(src, dst []byte) error {
	prm := p.params
	srcFormat := prm.SrcFormat

	if srcFormat.Compressed() {
		format := camera.FormatRGB
		if prm.DstFormat == camera.FormatGray {
			format = camera.FormatGray
		}
		if err := decodeJPEG(src, &p.decoded, prm.SrcWidth, prm.SrcHeight, format); err != nil {
			return err
		}
		src, srcFormat = p.decoded.Bytes(), format
	}

	if need := prm.SrcWidth * prm.SrcHeight * srcFormat.PixelSize(); len(src) < need {
		return fmt.Errorf("入力バッファが不足しています: %d < %d", len(src), need)
	}
	if need := prm.DstWidth * prm.DstHeight * prm.DstFormat.PixelSize(); len(dst) < need {
		return fmt.Errorf("出力バッファが不足しています: %d < %d", len(dst), need)
	}

	k := kernel{
		params: prm,
		dmap:   p.dmap,
		read:   readerFor(srcFormat),
		src:    src,
		dst:    dst,
	}

	rowsPerWorker := (prm.DstHeight + p.workers - 1) / p.workers
	var g errgroup.Group
	for start := 0; start < prm.DstHeight; start += rowsPerWorker {
		end := min(start+rowsPerWorker, prm.DstHeight)
		g.Go(func() error {
			for y := start; y < end; y++ {
				k.row(y)
			}
			return nil
		})
	}
	return g.Wait()
}

// kernel は1フレーム分の行処理
type kernel struct {
	params Params
	dmap   *distortion.Map
	read   pixelReader
	src    []byte
	dst    []byte
}

func (k *kernel) row(y int) {
	prm := k.params
	bpp := prm.DstFormat.PixelSize()
	out := k.dst[y*prm.DstWidth*bpp : (y+1)*prm.DstWidth*bpp]

	var offsets []distortion.Offset
	if k.dmap != nil {
		offsets = k.dmap.Row(y)
	}

	for x := 0; x < prm.DstWidth; x++ {
		sx, sy := k.sourceOf(x, y)
		if offsets != nil {
			o := offsets[x]
			if rx, ry := k.sourceOf(x+int(o.DX), y+int(o.DY)); rx >= 0 && rx < prm.SrcWidth && ry >= 0 && ry < prm.SrcHeight {
				sx, sy = rx, ry
			}
		}

		px := out[x*bpp : (x+1)*bpp]
		r, g, b, luma := k.read(k.src, prm.SrcWidth, sx, sy)
		switch prm.DstFormat {
		case camera.FormatGray:
			px[0] = luma
		case camera.FormatRGB:
			px[0], px[1], px[2] = r, g, b
		case camera.FormatRGBA:
			px[0], px[1], px[2], px[3] = r, g, b, 0xFF
		}
	}
}

// sourceOf は表示座標(x, y)に対応する入力画像上の座標を返す
func (k *kernel) sourceOf(x, y int) (int, int) {
	prm := k.params
	if prm.FlipH {
		x = prm.DstWidth - 1 - x
	}
	if prm.FlipV {
		y = prm.DstHeight - 1 - y
	}
	return x + prm.XOff, y + prm.YOff
}
