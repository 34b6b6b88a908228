package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// V4L2Capturer はシェルコマンドを使ってV4L2デバイスから画像を取得する
//
// 映像はffmpeg、調整項目はv4l2-ctlで扱う。
type V4L2Capturer struct {
	devicePath string
	width      int
	height     int
	fps        float64
	format     Format
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する
func NewV4L2Capturer(devicePath string, width, height int, fps float64, format Format) *V4L2Capturer {
	return &V4L2Capturer{
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
		format:     format,
	}
}

// IsDeviceAvailable はV4L2デバイスが利用可能かチェックする
func (c *V4L2Capturer) IsDeviceAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--info")
	return cmd.Run() == nil
}

// GetDeviceInfo はデバイス情報を取得する
func (c *V4L2Capturer) GetDeviceInfo(ctx context.Context) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--info")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("デバイス情報の取得に失敗: %w", err)
	}
	return parseKeyValueLines(string(output)), nil
}

func parseKeyValueLines(output string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return info
}

// ffmpegArgs はキャプチャ形式に応じたffmpegの引数を組み立てる
func (c *V4L2Capturer) ffmpegArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if c.format.Compressed() {
		args = append(args, "-input_format", "mjpeg")
	}
	if c.width > 0 && c.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.width, c.height))
	}
	if c.fps > 0 {
		args = append(args, "-framerate", strconv.FormatFloat(c.fps, 'f', -1, 64))
	}
	args = append(args, "-i", c.devicePath)

	if c.format.Compressed() {
		// 圧縮ストリームはそのまま流し、復号は変換パイプラインで行う
		return append(args, "-c:v", "copy", "-f", "image2pipe", "-")
	}
	return append(args, "-f", "rawvideo", "-pix_fmt", ffmpegPixelFormat(c.format), "-")
}

func ffmpegPixelFormat(f Format) string {
	switch f {
	case FormatGray:
		return "gray"
	case FormatGray16:
		return "gray16le"
	case FormatRGB:
		return "rgb24"
	case FormatRGBA:
		return "rgba"
	case FormatUYVY:
		return "uyvy422"
	default:
		return "yuyv422"
	}
}

// StartStream は連続キャプチャ用のストリームを開始する
//
// 非圧縮形式は固定長、MJPEGはマーカーで分割して1フレームずつframeChanへ送る。
func (c *V4L2Capturer) StartStream(ctx context.Context, frameChan chan<- []byte, errorChan chan<- error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", c.ffmpegArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errorChan <- fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
		return
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		errorChan <- fmt.Errorf("ffmpegの起動に失敗: %w", err)
		return
	}

	go func() {
		defer func() {
			_ = cmd.Wait() // コンテキストキャンセル時のエラーは無視
		}()

		var readErr error
		if c.format.Compressed() {
			readErr = readJPEGStream(ctx, stdout, frameChan)
		} else {
			frameSize := c.width * c.height * c.format.PixelSize()
			readErr = readRawStream(ctx, stdout, frameSize, frameChan)
		}
		if readErr != nil && ctx.Err() == nil {
			select {
			case errorChan <- fmt.Errorf("フレーム読み取りエラー: %w (stderr: %s)", readErr, stderr.String()):
			default:
			}
		}
	}()
}

func readRawStream(ctx context.Context, r io.Reader, frameSize int, frameChan chan<- []byte) error {
	if frameSize <= 0 {
		return fmt.Errorf("無効なフレームサイズ: %d", frameSize)
	}
	for {
		frame := make([]byte, frameSize)
		if _, err := io.ReadFull(r, frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		select {
		case frameChan <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

func readJPEGStream(ctx context.Context, r io.Reader, frameChan chan<- []byte) error {
	buffer := make([]byte, 256*1024)
	var pending bytes.Buffer
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			pending.Write(buffer[:n])
			for _, frame := range splitJPEGFrames(&pending) {
				select {
				case frameChan <- frame:
				case <-ctx.Done():
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// splitJPEGFrames はpendingから完全なJPEGフレームを取り出し、残りをpendingに残す
func splitJPEGFrames(pending *bytes.Buffer) [][]byte {
	var frames [][]byte
	data := pending.Bytes()
	for {
		// JPEGの開始マーカー（FF D8）を探す
		startIdx := bytes.Index(data, []byte{0xFF, 0xD8})
		if startIdx == -1 {
			data = nil
			break
		}
		// JPEGの終了マーカー（FF D9）を探す
		endIdx := bytes.Index(data[startIdx+2:], []byte{0xFF, 0xD9})
		if endIdx == -1 {
			data = data[startIdx:]
			break
		}
		endIdx += startIdx + 2 + 2
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		frames = append(frames, frame)
		data = data[endIdx:]
	}

	rest := make([]byte, len(data))
	copy(rest, data)
	pending.Reset()
	pending.Write(rest)
	return frames
}

// v4l2Control はv4l2-ctl -lの1行
type v4l2Control struct {
	Name    string
	Type    string
	Min     int
	Max     int
	Step    int
	Default int
	Value   int
}

// ListControls はデバイスの調整項目一覧を取得する
func (c *V4L2Capturer) ListControls(ctx context.Context) (map[string]v4l2Control, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--list-ctrls")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("調整項目一覧の取得に失敗: %w", err)
	}
	return parseControlList(string(output)), nil
}

// parseControlList は次のような行を解析する
//
//	brightness 0x00980900 (int)    : min=-64 max=64 step=1 default=0 value=0
func parseControlList(output string) map[string]v4l2Control {
	controls := make(map[string]v4l2Control)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		head, tail, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(head)
		if len(fields) < 3 {
			continue
		}
		ctrl := v4l2Control{
			Name: fields[0],
			Type: strings.Trim(fields[len(fields)-1], "()"),
			Step: 1,
		}
		if ctrl.Type == "bool" {
			ctrl.Max = 1
		}
		for _, kv := range strings.Fields(tail) {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			switch key {
			case "min":
				ctrl.Min = n
			case "max":
				ctrl.Max = n
			case "step":
				ctrl.Step = n
			case "default":
				ctrl.Default = n
			case "value":
				ctrl.Value = n
			}
		}
		controls[ctrl.Name] = ctrl
	}
	return controls
}

// SetControls はカメラのコントロール（明度、コントラストなど）を設定する
func (c *V4L2Capturer) SetControls(ctx context.Context, controls map[string]int) error {
	for control, value := range controls {
		cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--set-ctrl", fmt.Sprintf("%s=%d", control, value))
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("コントロール %s の設定に失敗: %w", control, err)
		}
	}
	return nil
}

// v4l2の項目名は世代によって異なるので候補を順に探す
var (
	v4l2ControlNames = map[Control][]string{
		ControlBrightness: {"brightness"},
		ControlContrast:   {"contrast"},
		ControlSharpness:  {"sharpness"},
		ControlGain:       {"gain"},
		ControlExposure:   {"exposure_time_absolute", "exposure_absolute"},
		ControlFocus:      {"focus_absolute"},
		ControlWhite:      {"white_balance_temperature"},
		ControlGamma:      {"gamma"},
		ControlBacklight:  {"backlight_compensation"},
		ControlPowerline:  {"power_line_frequency"},
		ControlHue:        {"hue"},
		ControlRed:        {"red_balance"},
		ControlBlue:       {"blue_balance"},
	}
	v4l2AutoNames = map[Control][]string{
		ControlGain:     {"gain_automatic", "autogain"},
		ControlExposure: {"auto_exposure", "exposure_auto"},
		ControlFocus:    {"focus_automatic_continuous", "focus_auto"},
		ControlWhite:    {"white_balance_automatic", "white_balance_temperature_auto"},
		ControlHue:      {"hue_auto"},
	}
)

// exposureは0/1ではなくメニュー値（1: 手動、3: 絞り優先）
const (
	v4l2ExposureManual = 1
	v4l2ExposureAuto   = 3
)

func lookupControl(controls map[string]v4l2Control, names []string) (v4l2Control, bool) {
	for _, name := range names {
		if ctrl, ok := controls[name]; ok {
			return ctrl, true
		}
	}
	return v4l2Control{}, false
}
