package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDeviceNumber(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"/dev/video0", 0},
		{"/dev/video12", 12},
		{"/dev/video", -1},
		{"/dev/video1a", -1},
		{"/tmp/cam", -1},
	}
	for _, tt := range tests {
		if got := deviceNumber(tt.path); got != tt.want {
			t.Errorf("deviceNumber(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestDiscoverDevices(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video10", "video2", "videox", "other"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	devices, err := DiscoverDevices(context.Background(), filepath.Join(dir, "video*"))
	if err != nil {
		t.Fatalf("検出に失敗しました: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("デバイス数 = %d, want 2: %+v", len(devices), devices)
	}
	// 通常のファイルはv4l2-ctlで情報が取れないため既定の名前になる
	if devices[0].Device != 2 || devices[0].Name != "カメラ 2" {
		t.Errorf("1台目 = %+v", devices[0])
	}
	if devices[1].Device != 10 || devices[1].Path != filepath.Join(dir, "video10") {
		t.Errorf("2台目 = %+v", devices[1])
	}
}

func TestDiscoverDevicesBadPattern(t *testing.T) {
	if _, err := DiscoverDevices(context.Background(), "["); err == nil {
		t.Error("不正なパターンでエラーになりませんでした")
	}
}
