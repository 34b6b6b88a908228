// Package multicam は複数カメラを格子状に並べて1枚の画像に合成する
package multicam

import (
	"errors"
	"fmt"
	"image"

	"shikai/internal/camera"
	"shikai/internal/config"
)

// レイアウト検証のエラー
var (
	ErrEmptyLayout    = errors.New("カメラが1台も指定されていません")
	ErrNegativeCell   = errors.New("格子位置が負です")
	ErrDuplicateCell  = errors.New("同じ格子位置に複数のカメラがあります")
	ErrLayoutGap      = errors.New("格子に空きがあります")
	ErrColumnHeight   = errors.New("列ごとのカメラの高さが揃っていません")
	ErrRowWidth       = errors.New("行ごとのカメラの幅が揃っていません")
	ErrFormatMismatch = errors.New("カメラのピクセル形式が揃っていません")
)

// Layout は検証済みの格子
type Layout struct {
	Cols  int
	Rows  int
	Cells []config.GridCell // 行優先順
}

// Len はカメラの台数を返す
func (l Layout) Len() int { return len(l.Cells) }

// CheckLayout はデバイスを開く前に格子の妥当性を検証する
//
// 空き・重複・負の位置を検出し、設定からわかる範囲で大きさと形式の不一致も検出する。
// キャプチャサイズが未指定のカメラの大きさは、開いた後にComposer.Initで検証する。
func CheckLayout(grid *config.GridConfig) (Layout, error) {
	if grid == nil || len(grid.Cells) == 0 {
		return Layout{}, ErrEmptyLayout
	}

	cols, rows := grid.Dimensions()
	seen := make(map[[2]int]bool, len(grid.Cells))
	for _, cell := range grid.Cells {
		if cell.Row < 0 || cell.Col < 0 {
			return Layout{}, fmt.Errorf("%w: (%d,%d)", ErrNegativeCell, cell.Row, cell.Col)
		}
		if cell.Device == nil {
			return Layout{}, fmt.Errorf("%w: (%d,%d) にカメラ設定がありません", ErrLayoutGap, cell.Row, cell.Col)
		}
		key := [2]int{cell.Row, cell.Col}
		if seen[key] {
			return Layout{}, fmt.Errorf("%w: (%d,%d)", ErrDuplicateCell, cell.Row, cell.Col)
		}
		seen[key] = true
	}
	if len(seen) != cols*rows {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if !seen[[2]int{r, c}] {
					return Layout{}, fmt.Errorf("%w: (%d,%d)", ErrLayoutGap, r, c)
				}
			}
		}
	}

	layout := Layout{Cols: cols, Rows: rows, Cells: grid.RowMajor()}

	shapes := make([]shape, len(layout.Cells))
	for i, cell := range layout.Cells {
		w, h, ok := cell.Device.OutputSize()
		shapes[i] = shape{width: w, height: h, known: ok, format: cell.Device.OutputFormat()}
	}
	if err := checkShapes(layout, shapes); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

type shape struct {
	width  int
	height int
	known  bool
	format camera.Format
}

// checkShapes は各カメラの出力の大きさと形式を検証する
//
// 行を走査線単位で連結するため、実際には全カメラが同じ大きさである必要がある。
func checkShapes(l Layout, shapes []shape) error {
	at := func(r, c int) shape { return shapes[r*l.Cols+c] }

	// 列内の高さと、列同士の高さ
	colHeight := -1
	for c := 0; c < l.Cols; c++ {
		h := -1
		for r := 0; r < l.Rows; r++ {
			s := at(r, c)
			if !s.known {
				continue
			}
			if h >= 0 && s.height != h {
				return fmt.Errorf("%w: 列%d (%d != %d)", ErrColumnHeight, c, s.height, h)
			}
			h = s.height
		}
		if h < 0 {
			continue
		}
		if colHeight >= 0 && h != colHeight {
			return fmt.Errorf("%w: 列%d (%d != %d)", ErrColumnHeight, c, h, colHeight)
		}
		colHeight = h
	}

	// 行内の幅と、行同士の幅
	rowWidth := -1
	for r := 0; r < l.Rows; r++ {
		w := -1
		for c := 0; c < l.Cols; c++ {
			s := at(r, c)
			if !s.known {
				continue
			}
			if w >= 0 && s.width != w {
				return fmt.Errorf("%w: 行%d (%d != %d)", ErrRowWidth, r, s.width, w)
			}
			w = s.width
		}
		if w < 0 {
			continue
		}
		if rowWidth >= 0 && w != rowWidth {
			return fmt.Errorf("%w: 行%d (%d != %d)", ErrRowWidth, r, w, rowWidth)
		}
		rowWidth = w
	}

	for i, s := range shapes {
		if s.format != shapes[0].format {
			return fmt.Errorf("%w: カメラ%d (%s != %s)", ErrFormatMismatch, i, s.format, shapes[0].format)
		}
	}
	return nil
}

// CellAt は合成画像上の座標が属するセルの行優先インデックスを返す
func (l Layout) CellAt(x, y, cellW, cellH int) int {
	if cellW <= 0 || cellH <= 0 {
		return 0
	}
	col := min(max(x/cellW, 0), l.Cols-1)
	row := min(max(y/cellH, 0), l.Rows-1)
	return row*l.Cols + col
}

// CellRect は行優先インデックスのセルが合成画像上で占める範囲を返す
func (l Layout) CellRect(index, cellW, cellH int) image.Rectangle {
	if l.Cols <= 0 {
		return image.Rectangle{}
	}
	row, col := index/l.Cols, index%l.Cols
	return image.Rect(col*cellW, row*cellH, (col+1)*cellW, (row+1)*cellH)
}
