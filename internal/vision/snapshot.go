package vision

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"shikai/internal/calibration"
	"shikai/internal/camera"
)

// Image は1フレーム分の画像データ
type Image struct {
	Data   []byte
	Width  int
	Height int
	Format camera.Format
}

// Snapshot はHTTP側に公開する最新フレーム
type Snapshot struct {
	Seq    uint64
	Time   time.Time
	Image  Image
	Shapes []calibration.Shape
	Blobs  []calibration.Blob
}

// Render は画像にフィードバック表示を重ねたRGBA画像を返す
func (s Snapshot) Render() (*image.RGBA, error) {
	img, err := s.Image.RGBA()
	if err != nil {
		return nil, err
	}
	for _, sh := range s.Shapes {
		drawShape(img, sh)
	}
	return img, nil
}

// RGBA は画像データをimage.RGBAに変換する
func (im Image) RGBA() (*image.RGBA, error) {
	if im.Width <= 0 || im.Height <= 0 {
		return nil, fmt.Errorf("画像がありません")
	}
	ps := im.Format.PixelSize()
	if len(im.Data) < im.Width*im.Height*ps {
		return nil, fmt.Errorf("画像データが不足しています (%d < %d)", len(im.Data), im.Width*im.Height*ps)
	}

	dst := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for i, o := 0, 0; i < im.Width*im.Height; i++ {
		var r, g, b uint8
		switch im.Format {
		case camera.FormatGray:
			r = im.Data[i]
			g, b = r, r
		case camera.FormatRGB, camera.FormatRGBA:
			r, g, b = im.Data[i*ps], im.Data[i*ps+1], im.Data[i*ps+2]
		default:
			return nil, fmt.Errorf("表示できない形式です: %s", im.Format)
		}
		dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2], dst.Pix[o+3] = r, g, b, 255
		o += 4
	}
	return dst, nil
}

func drawShape(img *image.RGBA, sh calibration.Shape) {
	switch sh.Kind {
	case calibration.ShapeLine:
		drawLine(img, sh.X, sh.Y, sh.X2, sh.Y2, sh.Color)
	case calibration.ShapeEllipse:
		fillEllipse(img, sh.X, sh.Y, sh.W, sh.H, sh.Color)
	}
}

// drawLine はブレゼンハムのアルゴリズムで線分を描く
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// fillEllipse は(cx, cy)を中心とするw x hの楕円を塗りつぶす
func fillEllipse(img *image.RGBA, cx, cy, w, h int, c color.RGBA) {
	rx, ry := float64(w)/2, float64(h)/2
	if rx <= 0 || ry <= 0 {
		return
	}
	bounds := image.Rect(cx-w/2, cy-h/2, cx+w/2+1, cy+h/2+1).Intersect(img.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			nx, ny := float64(x-cx)/rx, float64(y-cy)/ry
			if nx*nx+ny*ny <= 1 {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
