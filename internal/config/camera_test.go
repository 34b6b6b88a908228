package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"shikai/internal/camera"
	"shikai/internal/fsutil"
)

const gridLayout = `
camera:
  driver: multicam
  children:
    - device: 1
      grid: {row: 0, col: 1}
      capture: {width: 640, height: 480, format: yuyv}
    - device: 0
      grid: {row: 0, col: 0}
      capture: {width: 640, height: 480, format: yuyv}
      frame: {x: 10, y: 20, width: 320, height: 240}
      flip_h: true
      controls: {brightness: 12}
      calibration: left.grid
`

// TestParseCamera_Single は単体カメラのレイアウト記述をテストする
func TestParseCamera_Single(t *testing.T) {
	cfg, err := ParseCamera([]byte(`
camera:
  driver: folder
  path: /tmp/frames
  capture: {fps: 15, format: rgb}
  color: true
`))
	if err != nil {
		t.Fatalf("解析に失敗しました: %v", err)
	}

	dev, ok := cfg.(*DeviceConfig)
	if !ok {
		t.Fatalf("Expected *DeviceConfig, got %T", cfg)
	}
	want := &DeviceConfig{
		Driver: camera.DriverFolder,
		Path:   "/tmp/frames",
		FPS:    15,
		Format: camera.FormatRGB,
		Color:  true,
	}
	if diff := cmp.Diff(want, dev); diff != "" {
		t.Errorf("設定が一致しません (-want +got):\n%s", diff)
	}
	if dev.OutputFormat() != camera.FormatRGB {
		t.Errorf("出力形式: got %v", dev.OutputFormat())
	}
}

// TestParseCamera_Grid は複数カメラのレイアウト記述をテストする
func TestParseCamera_Grid(t *testing.T) {
	cfg, err := ParseCamera([]byte(gridLayout))
	if err != nil {
		t.Fatalf("解析に失敗しました: %v", err)
	}
	grid, ok := cfg.(*GridConfig)
	if !ok {
		t.Fatalf("Expected *GridConfig, got %T", cfg)
	}

	cols, rows := grid.Dimensions()
	if cols != 2 || rows != 1 {
		t.Errorf("格子の大きさ: got %dx%d, want 2x1", cols, rows)
	}

	devices := Devices(grid)
	if len(devices) != 2 || devices[0].Device != 0 || devices[1].Device != 1 {
		t.Fatalf("行優先順になっていません: %+v", devices)
	}
	left := devices[0]
	if left.Crop != (Crop{X: 10, Y: 20, Width: 320, Height: 240}) || !left.FlipH || left.Controls["brightness"] != 12 {
		t.Errorf("子カメラの設定が反映されていません: %+v", left)
	}
	if w, h, ok := left.OutputSize(); !ok || w != 320 || h != 240 {
		t.Errorf("出力サイズ: got %dx%d %v", w, h, ok)
	}
}

// TestParseCamera_Errors はレイアウト記述の異常系をテストする
func TestParseCamera_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		data   string
		target error
	}{
		{"格子位置なし", "camera:\n  children:\n    - device: 0\n", ErrMissingCell},
		{"入れ子", "camera:\n  children:\n    - grid: {row: 0, col: 0}\n      children:\n        - device: 1\n", ErrNestedGrid},
		{"不明な形式", "camera:\n  capture: {format: bayer}\n", nil},
		{"壊れたYAML", "camera: [", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCamera([]byte(tc.data))
			if err == nil {
				t.Fatal("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Errorf("got %v, want %v", err, tc.target)
			}
		})
	}
}

// TestSaveCamera は書き出したレイアウト記述を読み直せることをテストする
func TestSaveCamera(t *testing.T) {
	cfg, err := ParseCamera([]byte(gridLayout))
	if err != nil {
		t.Fatal(err)
	}

	fsys := fsutil.NewMemoryFileSystem()
	if err := SaveCamera(fsys, "/etc/camera.yaml", cfg); err != nil {
		t.Fatalf("書き込みに失敗しました: %v", err)
	}
	loaded, err := LoadCamera(fsys, "/etc/camera.yaml")
	if err != nil {
		t.Fatalf("読み込みに失敗しました: %v", err)
	}

	if diff := cmp.Diff(cfg.(*GridConfig).RowMajor(), loaded.(*GridConfig).RowMajor()); diff != "" {
		t.Errorf("読み直した設定が一致しません (-want +got):\n%s", diff)
	}
}

// TestGridConfig_SwapAndClone はカメラの入れ替えとディープコピーをテストする
func TestGridConfig_SwapAndClone(t *testing.T) {
	cfg, err := ParseCamera([]byte(gridLayout))
	if err != nil {
		t.Fatal(err)
	}
	grid := cfg.(*GridConfig)
	backup := grid.Clone().(*GridConfig)

	grid.Swap(0, 1)
	devices := Devices(grid)
	if devices[0].Device != 1 || devices[1].Device != 0 {
		t.Errorf("入れ替わっていません: %d %d", devices[0].Device, devices[1].Device)
	}
	devices[1].Controls["brightness"] = 99

	// バックアップは影響を受けない
	orig := Devices(backup)
	if orig[0].Device != 0 || orig[0].Controls["brightness"] != 12 {
		t.Errorf("バックアップが変更されました: %+v", orig[0])
	}
}

// TestCrop_Resolve は切り出し範囲の既定値をテストする
func TestCrop_Resolve(t *testing.T) {
	testCases := []struct {
		name       string
		crop       Crop
		x, y, w, h int
		full       bool
	}{
		{"未指定は全体", Crop{}, 0, 0, 640, 480, true},
		{"オフセットのみ", Crop{X: 40, Y: 30}, 40, 30, 600, 450, false},
		{"はみ出しは端まで", Crop{X: 600, Width: 100, Height: 10}, 600, 0, 40, 10, false},
		{"負のオフセットは0", Crop{X: -5, Y: -5, Width: 640, Height: 480}, 0, 0, 640, 480, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x, y, w, h := tc.crop.Resolve(640, 480)
			if x != tc.x || y != tc.y || w != tc.w || h != tc.h {
				t.Errorf("got (%d,%d,%d,%d), want (%d,%d,%d,%d)", x, y, w, h, tc.x, tc.y, tc.w, tc.h)
			}
			if got := tc.crop.IsFull(640, 480); got != tc.full {
				t.Errorf("IsFull: got %v, want %v", got, tc.full)
			}
		})
	}
}
