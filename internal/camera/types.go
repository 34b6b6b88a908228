package camera

import (
	"fmt"
	"strings"
)

// Status はキャプチャソースの動作状態を表す
type Status string

const (
	StatusClosed   Status = "closed"   // 未初期化、またはクローズ済み
	StatusInactive Status = "inactive" // 初期化済みで停止中
	StatusActive   Status = "active"   // キャプチャ中
	StatusError    Status = "error"    // エラーが発生
)

// Format はフレームのピクセル形式
type Format int

const (
	FormatUnknown Format = iota
	FormatGray           // 8bit グレースケール
	FormatGray16         // 16bit グレースケール（リトルエンディアン）
	FormatRGB            // 8bit x 3
	FormatRGBA           // 8bit x 4
	FormatYUYV           // YUV 4:2:2 (Y0 U Y1 V)
	FormatUYVY           // YUV 4:2:2 (U Y0 V Y1)
	FormatJPEG           // 単一JPEG
	FormatMJPEG          // Motion JPEG
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatGray:    "gray",
	FormatGray16:  "gray16",
	FormatRGB:     "rgb",
	FormatRGBA:    "rgba",
	FormatYUYV:    "yuyv",
	FormatUYVY:    "uyvy",
	FormatJPEG:    "jpeg",
	FormatMJPEG:   "mjpeg",
}

// String はフォーマット名を返す
func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// PixelSize は1ピクセルあたりのバイト数を返す。圧縮形式と不明な形式は0
func (f Format) PixelSize() int {
	switch f {
	case FormatGray:
		return 1
	case FormatGray16, FormatYUYV, FormatUYVY:
		return 2
	case FormatRGB:
		return 3
	case FormatRGBA:
		return 4
	default:
		return 0
	}
}

// Compressed はフレームの復号が必要な形式かを返す
func (f Format) Compressed() bool {
	return f == FormatJPEG || f == FormatMJPEG
}

// ParseFormat は名前からフォーマットを取得する
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return FormatUnknown, nil
	}
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("不明なピクセル形式: %q", s)
}

// Driver はキャプチャドライバの種類
type Driver string

const (
	DriverV4L2     Driver = "v4l2"     // ffmpeg経由のV4L2デバイス（デフォルト）
	DriverFolder   Driver = "folder"   // ディレクトリ内の画像を順に再生
	DriverMock     Driver = "mock"     // テスト用
	DriverMulticam Driver = "multicam" // 複数カメラの合成
)

// Control はカメラの調整項目
type Control int

const (
	ControlBrightness Control = iota
	ControlContrast
	ControlSharpness
	ControlGain
	ControlExposure
	ControlFocus
	ControlWhite
	ControlGamma
	ControlBacklight
	ControlPowerline
	ControlHue
	ControlRed
	ControlBlue
)

// AllControls は全ての調整項目を定義順で返す
func AllControls() []Control {
	return []Control{
		ControlBrightness, ControlContrast, ControlSharpness, ControlGain,
		ControlExposure, ControlFocus, ControlWhite, ControlGamma,
		ControlBacklight, ControlPowerline, ControlHue, ControlRed, ControlBlue,
	}
}

var controlNames = map[Control]string{
	ControlBrightness: "brightness",
	ControlContrast:   "contrast",
	ControlSharpness:  "sharpness",
	ControlGain:       "gain",
	ControlExposure:   "exposure",
	ControlFocus:      "focus",
	ControlWhite:      "white",
	ControlGamma:      "gamma",
	ControlBacklight:  "backlight",
	ControlPowerline:  "powerline",
	ControlHue:        "hue",
	ControlRed:        "red",
	ControlBlue:       "blue",
}

// String は調整項目名を返す
func (c Control) String() string {
	if name, ok := controlNames[c]; ok {
		return name
	}
	return fmt.Sprintf("control(%d)", int(c))
}

// ParseControl は名前から調整項目を取得する
func ParseControl(s string) (Control, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for c, n := range controlNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("不明な調整項目: %q", s)
}

// ControlInfo は調整項目の範囲と既定値
type ControlInfo struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Step    int `json:"step"`
	Default int `json:"default"`
}

// Clamp は値を範囲内に収め、Stepに合わせて丸める
func (i ControlInfo) Clamp(v int) int {
	if v < i.Min {
		v = i.Min
	}
	if v > i.Max {
		v = i.Max
	}
	if i.Step > 1 {
		v = i.Min + (v-i.Min)/i.Step*i.Step
	}
	return v
}
