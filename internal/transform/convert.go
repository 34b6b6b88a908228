package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"shikai/internal/camera"
)

// pixelReader は入力画像の(x, y)の画素をRGBと輝度で返す
type pixelReader func(src []byte, width, x, y int) (r, g, b, luma uint8)

func readerFor(f camera.Format) pixelReader {
	switch f {
	case camera.FormatGray:
		return readGray
	case camera.FormatGray16:
		return readGray16
	case camera.FormatRGB:
		return readRGB
	case camera.FormatRGBA:
		return readRGBA
	case camera.FormatYUYV:
		return readYUYV
	case camera.FormatUYVY:
		return readUYVY
	}
	return nil
}

func readGray(src []byte, width, x, y int) (r, g, b, luma uint8) {
	v := src[y*width+x]
	return v, v, v, v
}

// readGray16 はリトルエンディアンの上位バイトを使う
func readGray16(src []byte, width, x, y int) (r, g, b, luma uint8) {
	v := src[(y*width+x)*2+1]
	return v, v, v, v
}

func readRGB(src []byte, width, x, y int) (r, g, b, luma uint8) {
	i := (y*width + x) * 3
	r, g, b = src[i], src[i+1], src[i+2]
	return r, g, b, rgbToLuma(r, g, b)
}

func readRGBA(src []byte, width, x, y int) (r, g, b, luma uint8) {
	i := (y*width + x) * 4
	r, g, b = src[i], src[i+1], src[i+2]
	return r, g, b, rgbToLuma(r, g, b)
}

// YUYVは2画素で4バイト (Y0 U Y1 V)
func readYUYV(src []byte, width, x, y int) (r, g, b, luma uint8) {
	base := (y*width + x&^1) * 2
	yy := src[base+(x&1)*2]
	u, v := src[base+1], src[base+3]
	r, g, b = yuvToRGB(yy, u, v)
	return r, g, b, yy
}

// UYVYは2画素で4バイト (U Y0 V Y1)
func readUYVY(src []byte, width, x, y int) (r, g, b, luma uint8) {
	base := (y*width + x&^1) * 2
	yy := src[base+1+(x&1)*2]
	u, v := src[base], src[base+2]
	r, g, b = yuvToRGB(yy, u, v)
	return r, g, b, yy
}

// rgbToLuma はBT.601の係数を整数で近似する (77 + 150 + 29 = 256)
func rgbToLuma(r, g, b uint8) uint8 {
	return uint8((77*int(r) + 150*int(g) + 29*int(b)) >> 8)
}

// yuvToRGB はBT.601（スタジオレンジ）の整数変換
func yuvToRGB(y, u, v uint8) (r, g, b uint8) {
	c := 298 * (int(y) - 16)
	d := int(u) - 128
	e := int(v) - 128
	return clip((c + 409*e + 128) >> 8),
		clip((c - 100*d - 208*e + 128) >> 8),
		clip((c + 516*d + 128) >> 8)
}

func clip(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// decodeJPEG はJPEGを復号してGRAYまたはRGBでbufに書き込む
func decodeJPEG(data []byte, buf *camera.FrameBuffer, width, height int, format camera.Format) error {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return fmt.Errorf("JPEG画像の大きさ %dx%d が期待値 %dx%d と異なります", bounds.Dx(), bounds.Dy(), width, height)
	}

	buf.Resize(width, height, format)
	out := buf.Bytes()

	switch src := img.(type) {
	case *image.YCbCr:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				yi := src.YOffset(x+bounds.Min.X, y+bounds.Min.Y)
				if format == camera.FormatGray {
					out[y*width+x] = src.Y[yi]
					continue
				}
				ci := src.COffset(x+bounds.Min.X, y+bounds.Min.Y)
				r, g, b := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				i := (y*width + x) * 3
				out[i], out[i+1], out[i+2] = r, g, b
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+width]
			if format == camera.FormatGray {
				copy(out[y*width:], row)
				continue
			}
			for x, v := range row {
				i := (y*width + x) * 3
				out[i], out[i+1], out[i+2] = v, v, v
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := img.At(x+bounds.Min.X, y+bounds.Min.Y)
				if format == camera.FormatGray {
					out[y*width+x] = color.GrayModel.Convert(c).(color.Gray).Y
					continue
				}
				rgba := color.RGBAModel.Convert(c).(color.RGBA)
				i := (y*width + x) * 3
				out[i], out[i+1], out[i+2] = rgba.R, rgba.G, rgba.B
			}
		}
	}
	return nil
}
