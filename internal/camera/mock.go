package camera

import (
	"context"
	"fmt"
)

// MockSource はテスト用のソース実装
type MockSource struct {
	baseSource

	frame    []byte
	controls map[Control]int
	autos    map[Control]bool
	infos    map[Control]ControlInfo

	// テスト制御用
	shouldFailInit  bool
	shouldFailStart bool
	shouldFailStop  bool
	shouldFailFrame bool

	// 呼び出し回数
	inits, starts, stops, resets, closes, frames int
}

// NewMockSource は全画素がfillの値で埋まったフレームを返すMockSourceを作成する
func NewMockSource(width, height int, format Format, fill byte) *MockSource {
	frame := make([]byte, width*height*format.PixelSize())
	for i := range frame {
		frame[i] = fill
	}
	return &MockSource{
		baseSource: baseSource{status: StatusClosed, width: width, height: height, format: format},
		frame:      frame,
		controls:   map[Control]int{ControlBrightness: 128, ControlGain: 0},
		autos:      map[Control]bool{ControlGain: false},
		infos: map[Control]ControlInfo{
			ControlBrightness: {Min: 0, Max: 255, Step: 1, Default: 128},
			ControlGain:       {Min: 0, Max: 100, Step: 1, Default: 0},
		},
	}
}

// NewMockSourceFromConfig はファクトリー登録用の作成関数
func NewMockSourceFromConfig(cfg SourceConfig) (Source, error) {
	format := cfg.Format
	if format == FormatUnknown {
		format = FormatGray
	}
	width, height := cfg.Width, cfg.Height
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return NewMockSource(width, height, format, byte(cfg.Device)), nil
}

// SetFrame は返すフレームを差し替える
func (m *MockSource) SetFrame(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = frame
}

// SetShouldFailInit はテスト用にInit失敗を設定する
func (m *MockSource) SetShouldFailInit(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailInit = v
}

// SetShouldFailStart はテスト用にStart失敗を設定する
func (m *MockSource) SetShouldFailStart(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailStart = v
}

// SetShouldFailStop はテスト用にStop失敗を設定する
func (m *MockSource) SetShouldFailStop(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailStop = v
}

// SetShouldFailFrame はテスト用にフレーム取得失敗を設定する
func (m *MockSource) SetShouldFailFrame(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailFrame = v
}

// Init は初期化する
func (m *MockSource) Init(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	if m.shouldFailInit {
		m.status = StatusError
		return fmt.Errorf("モック: 初期化に失敗")
	}
	m.status = StatusInactive
	return nil
}

// Start はキャプチャを開始する
func (m *MockSource) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.shouldFailStart {
		m.status = StatusError
		return fmt.Errorf("モック: キャプチャ開始に失敗")
	}
	m.status = StatusActive
	return nil
}

// Stop はキャプチャを停止する
func (m *MockSource) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.shouldFailStop {
		return fmt.Errorf("モック: キャプチャ停止に失敗")
	}
	m.status = StatusInactive
	return nil
}

// Reset はリセットする
func (m *MockSource) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return nil
}

// Close はクローズする
func (m *MockSource) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.status = StatusClosed
	return nil
}

// Frame は設定済みのフレームを返す
func (m *MockSource) Frame(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
	if m.shouldFailFrame {
		return nil, ErrNoFrame
	}
	if m.status != StatusActive {
		return nil, fmt.Errorf("モック: 停止中: %w", ErrNoFrame)
	}
	return m.frame, nil
}

// Calls は各操作の呼び出し回数を返す
func (m *MockSource) Calls() (inits, starts, stops, resets, closes, frames int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inits, m.starts, m.stops, m.resets, m.closes, m.frames
}

// HasControl は調整項目の有無を返す
func (m *MockSource) HasControl(c Control) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.infos[c]
	return ok
}

// Control は現在値を返す
func (m *MockSource) Control(c Control) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.controls[c]
	if !ok {
		return 0, ErrUnsupportedControl
	}
	return v, nil
}

// SetControl は値を設定する
func (m *MockSource) SetControl(c Control, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.infos[c]
	if !ok {
		return ErrUnsupportedControl
	}
	m.controls[c] = info.Clamp(value)
	return nil
}

// ControlInfo は範囲と既定値を返す
func (m *MockSource) ControlInfo(c Control) (ControlInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[c]
	if !ok {
		return ControlInfo{}, ErrUnsupportedControl
	}
	return info, nil
}

// SetDefault は既定値に戻す
func (m *MockSource) SetDefault(c Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.infos[c]
	if !ok {
		return ErrUnsupportedControl
	}
	m.controls[c] = info.Default
	return nil
}

// HasAuto は自動調整の有無を返す
func (m *MockSource) HasAuto(c Control) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.autos[c]
	return ok
}

// Auto は自動調整の状態を返す
func (m *MockSource) Auto(c Control) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.autos[c]
	if !ok {
		return false, ErrUnsupportedControl
	}
	return v, nil
}

// SetAuto は自動調整を切り替える
func (m *MockSource) SetAuto(c Control, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.autos[c]; !ok {
		return ErrUnsupportedControl
	}
	m.autos[c] = on
	return nil
}
