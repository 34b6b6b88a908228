package vision

import (
	"context"
	"slices"
	"sync"

	"shikai/internal/calibration"
)

// BlobSource は現在のフレームで追跡中のブロブを返す外部の検出器
type BlobSource interface {
	Blobs(ctx context.Context, img Image) []calibration.Blob
}

// ManualBlobs は外部から与えたブロブをそのまま返すBlobSource
//
// 検出器を持たない構成でHTTPからブロブを与えてキャリブレーションを操作するために使う。
type ManualBlobs struct {
	mu    sync.RWMutex
	blobs []calibration.Blob
}

// NewManualBlobs は空のManualBlobsを作成する
func NewManualBlobs() *ManualBlobs {
	return &ManualBlobs{}
}

// Set は次のフレーム以降に返すブロブを設定する
func (m *ManualBlobs) Set(blobs []calibration.Blob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = slices.Clone(blobs)
}

// Blobs は設定済みのブロブを返す
func (m *ManualBlobs) Blobs(_ context.Context, _ Image) []calibration.Blob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.blobs)
}
