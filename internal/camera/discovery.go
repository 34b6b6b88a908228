package camera

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// DevicePattern はV4L2デバイスの検索パターン
const DevicePattern = "/dev/video*"

// DeviceInfo は検出したV4L2デバイス
type DeviceInfo struct {
	Device int    `json:"device"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Driver string `json:"driver,omitempty"`
}

var videoNumber = regexp.MustCompile(`video(\d+)$`)

// deviceNumber はデバイスパスから番号を抽出する。番号がなければ-1
func deviceNumber(path string) int {
	m := videoNumber.FindStringSubmatch(path)
	if len(m) < 2 {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// DiscoverDevices はpatternに一致するV4L2デバイスを番号順に返す
//
// v4l2-ctlで情報が取れたデバイスはカード名とドライバ名を埋める。
func DiscoverDevices(ctx context.Context, pattern string) ([]DeviceInfo, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	var devices []DeviceInfo
	for _, path := range matches {
		n := deviceNumber(path)
		if n < 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return devices, err
		}
		devices = append(devices, describeDevice(ctx, n, path))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Device < devices[j].Device })
	return devices, nil
}

func describeDevice(ctx context.Context, n int, path string) DeviceInfo {
	d := DeviceInfo{Device: n, Path: path, Name: fmt.Sprintf("カメラ %d", n)}
	info, err := NewV4L2Capturer(path, 0, 0, 0, FormatUnknown).GetDeviceInfo(ctx)
	if err != nil {
		return d
	}
	if name := info["Card type"]; name != "" {
		d.Name = name
	}
	d.Driver = info["Driver name"]
	return d
}
