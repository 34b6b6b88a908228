package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // JPEGデコーダ登録
	_ "image/png"  // PNGデコーダ登録
	"path/filepath"
	"strings"
	"time"

	"shikai/internal/fsutil"
)

// FolderSource はディレクトリ内の画像を名前順に繰り返し再生するSource実装
//
// 実機がない環境でのキャリブレーション確認やテストに使う。
type FolderSource struct {
	baseSource
	NoControls

	fs       fsutil.FileSystem
	dir      string
	interval time.Duration

	frames [][]byte
	next   int
	last   time.Time
}

// NewFolderSource は新しいFolderSourceを作成する
func NewFolderSource(fsys fsutil.FileSystem, dir string, fps float64, format Format) *FolderSource {
	if format != FormatRGB {
		format = FormatGray
	}
	var interval time.Duration
	if fps > 0 {
		interval = time.Duration(float64(time.Second) / fps)
	}
	return &FolderSource{
		baseSource: baseSource{status: StatusClosed, format: format},
		fs:         fsys,
		dir:        dir,
		interval:   interval,
	}
}

// NewFolderSourceFromConfig は設定からFolderSourceを作成する
func NewFolderSourceFromConfig(cfg SourceConfig) (Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("画像ディレクトリの指定が必要です")
	}
	return NewFolderSource(fsutil.OSFileSystem{}, cfg.Path, cfg.FPS, cfg.Format), nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// Init は全画像を読み込んで出力形式に変換する。全画像が同じ大きさである必要がある
func (s *FolderSource) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.fs.ReadDir(s.dir)
	if err != nil {
		s.status = StatusError
		return fmt.Errorf("画像ディレクトリの読み込みに失敗: %w", err)
	}

	s.frames = s.frames[:0]
	for _, name := range names {
		if !isImageFile(name) {
			continue
		}
		data, err := s.fs.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("画像 %s の読み込みに失敗: %w", name, err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("画像 %s のデコードに失敗: %w", name, err)
		}

		b := img.Bounds()
		if len(s.frames) == 0 {
			s.width, s.height = b.Dx(), b.Dy()
		} else if b.Dx() != s.width || b.Dy() != s.height {
			return fmt.Errorf("画像 %s の大きさが異なります: %dx%d (期待値 %dx%d)", name, b.Dx(), b.Dy(), s.width, s.height)
		}
		s.frames = append(s.frames, packImage(img, s.format))
	}
	if len(s.frames) == 0 {
		s.status = StatusError
		return fmt.Errorf("画像が見つかりません: %s", s.dir)
	}

	s.next = 0
	s.status = StatusInactive
	return nil
}

// packImage は画像を行優先のGRAYまたはRGBバイト列に変換する
func packImage(img image.Image, format Format) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*format.PixelSize())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			if format == FormatGray {
				out = append(out, color.GrayModel.Convert(c).(color.Gray).Y)
				continue
			}
			rgba := color.RGBAModel.Convert(c).(color.RGBA)
			out = append(out, rgba.R, rgba.G, rgba.B)
		}
	}
	return out
}

// Start は再生を開始する
func (s *FolderSource) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return ErrNotInitialized
	}
	s.status = StatusActive
	return nil
}

// Stop は再生を停止する
func (s *FolderSource) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusActive {
		s.status = StatusInactive
	}
	return nil
}

// Reset は先頭の画像に戻る
func (s *FolderSource) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	return nil
}

// Close は読み込んだ画像を解放する
func (s *FolderSource) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	s.status = StatusClosed
	return nil
}

// Frame は次の画像を返す。fps指定時は間隔を空ける
func (s *FolderSource) Frame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return nil, fmt.Errorf("再生が停止中です: %w", ErrNoFrame)
	}
	if s.interval > 0 && !s.last.IsZero() {
		if wait := s.interval - time.Since(s.last); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	s.last = time.Now()

	frame := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return frame, nil
}
