package camera

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoFrame は今回のサイクルでフレームが得られなかったことを示す。次のサイクルで再試行する
	ErrNoFrame = errors.New("フレームを取得できません")
	// ErrUnsupportedControl はソースが調整項目に対応していないことを示す
	ErrUnsupportedControl = errors.New("対応していない調整項目")
	// ErrNotInitialized はInit前に操作されたことを示す
	ErrNotInitialized = errors.New("ソースが初期化されていません")
)

// Source は全てのキャプチャソースを統一するインターフェース
//
// 単体カメラも複数カメラの合成も同じ契約で扱う。
// Frameが返すスライスはソースが所有し、次のFrame呼び出しまで有効。
type Source interface {
	// ライフサイクル
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Close(ctx context.Context) error

	// フレーム取得
	Frame(ctx context.Context) ([]byte, error)

	// 出力フレームの形状
	Width() int
	Height() int
	Format() Format

	Controls
}

// Controls はカメラの調整項目へのアクセス
type Controls interface {
	HasControl(c Control) bool
	Control(c Control) (int, error)
	SetControl(c Control, value int) error
	ControlInfo(c Control) (ControlInfo, error)
	SetDefault(c Control) error

	HasAuto(c Control) bool
	Auto(c Control) (bool, error)
	SetAuto(c Control, on bool) error
}

// NoControls は調整項目を持たないソース向けの実装
type NoControls struct{}

func (NoControls) HasControl(Control) bool                 { return false }
func (NoControls) Control(Control) (int, error)            { return 0, ErrUnsupportedControl }
func (NoControls) SetControl(Control, int) error           { return ErrUnsupportedControl }
func (NoControls) ControlInfo(Control) (ControlInfo, error) { return ControlInfo{}, ErrUnsupportedControl }
func (NoControls) SetDefault(Control) error                { return ErrUnsupportedControl }
func (NoControls) HasAuto(Control) bool                    { return false }
func (NoControls) Auto(Control) (bool, error)              { return false, ErrUnsupportedControl }
func (NoControls) SetAuto(Control, bool) error             { return ErrUnsupportedControl }

// FrameBuffer は所有権を明示したフレームバッファ
//
// 幅・高さ・形式が変わった時だけ再確保する。
type FrameBuffer struct {
	data   []byte
	width  int
	height int
	format Format
}

// Resize は形状を変更し、再確保したかどうかを返す
func (b *FrameBuffer) Resize(width, height int, format Format) bool {
	if width == b.width && height == b.height && format == b.format && b.data != nil {
		return false
	}
	b.width, b.height, b.format = width, height, format
	size := width * height * format.PixelSize()
	if cap(b.data) >= size && b.data != nil {
		b.data = b.data[:size]
	} else {
		b.data = make([]byte, size)
	}
	return true
}

// Bytes はバッファ本体を返す
func (b *FrameBuffer) Bytes() []byte { return b.data }

// Width は幅を返す
func (b *FrameBuffer) Width() int { return b.width }

// Height は高さを返す
func (b *FrameBuffer) Height() int { return b.height }

// Format は形式を返す
func (b *FrameBuffer) Format() Format { return b.format }

// Stride は1行のバイト数を返す
func (b *FrameBuffer) Stride() int { return b.width * b.format.PixelSize() }

// baseSource は状態と形状の共通実装
type baseSource struct {
	mu     sync.RWMutex
	status Status
	width  int
	height int
	format Format
}

// Status はステータスを返す
func (b *baseSource) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Width は幅を返す
func (b *baseSource) Width() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width
}

// Height は高さを返す
func (b *baseSource) Height() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.height
}

// Format は形式を返す
func (b *baseSource) Format() Format {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.format
}
