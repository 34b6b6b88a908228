package calibration

import (
	"image/color"
	"time"
)

// ShapeKind は描画要素の種類
type ShapeKind string

// 描画要素
const (
	ShapeEllipse ShapeKind = "ellipse" // (X, Y)を中心とするW x Hの塗りつぶし楕円
	ShapeLine    ShapeKind = "line"    // (X, Y)から(X2, Y2)への線分
)

// Shape は合成画像の座標系で表したフィードバック表示の1要素
type Shape struct {
	Kind  ShapeKind  `json:"kind"`
	X     int        `json:"x"`
	Y     int        `json:"y"`
	X2    int        `json:"x2,omitempty"`
	Y2    int        `json:"y2,omitempty"`
	W     int        `json:"w,omitempty"`
	H     int        `json:"h,omitempty"`
	Color color.RGBA `json:"color"`
}

const targetSize = 25

// 表示色
var (
	ColorGreen = color.RGBA{0, 255, 0, 255}
	ColorBlue  = color.RGBA{0, 0, 255, 255}
)

// FadeColor は滞留中の目標の色を返す。経過秒数に応じて赤から青へ変わる
func FadeColor(elapsed time.Duration) color.RGBA {
	if elapsed < 0 {
		elapsed = 0
	}
	fade := min(80*(int(elapsed/time.Second)+1), 255)
	return color.RGBA{uint8(255 - fade), 0, uint8(fade), 255}
}

func ellipse(x, y int, c color.RGBA) Shape {
	return Shape{Kind: ShapeEllipse, X: x, Y: y, W: targetSize, H: targetSize, Color: c}
}

func line(x1, y1, x2, y2 int, c color.RGBA) Shape {
	return Shape{Kind: ShapeLine, X: x1, Y: y1, X2: x2, Y2: y2, Color: c}
}
