package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultCaptureWidth  = 640
	defaultCaptureHeight = 480
	frameWaitTimeout     = time.Second
)

// V4L2Source はffmpeg経由でV4L2デバイスを読むSource実装
type V4L2Source struct {
	baseSource

	device   string
	fps      float64
	capturer *V4L2Capturer

	controls map[string]v4l2Control

	// ストリーミング用
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	frameChan chan []byte
	errorChan chan error
	latest    []byte
}

// NewV4L2Source は新しいV4L2Sourceを作成する
func NewV4L2Source(device string, width, height int, fps float64, format Format) *V4L2Source {
	if width <= 0 || height <= 0 {
		width, height = defaultCaptureWidth, defaultCaptureHeight
	}
	if format == FormatUnknown {
		format = FormatYUYV
	}
	return &V4L2Source{
		baseSource: baseSource{status: StatusClosed, width: width, height: height, format: format},
		device:     device,
		fps:        fps,
	}
}

// NewV4L2SourceFromConfig は設定からV4L2Sourceを作成する
func NewV4L2SourceFromConfig(cfg SourceConfig) (Source, error) {
	device := cfg.Path
	if device == "" {
		if cfg.Device < 0 {
			return nil, fmt.Errorf("無効なデバイス番号: %d", cfg.Device)
		}
		device = fmt.Sprintf("/dev/video%d", cfg.Device)
	}
	return NewV4L2Source(device, cfg.Width, cfg.Height, cfg.FPS, cfg.Format), nil
}

// Init はデバイスを確認し、調整項目を読み込む
func (s *V4L2Source) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capturer = NewV4L2Capturer(s.device, s.width, s.height, s.fps, s.format)
	if !s.capturer.IsDeviceAvailable(ctx) {
		s.status = StatusError
		return fmt.Errorf("デバイス %s が利用できません", s.device)
	}

	controls, err := s.capturer.ListControls(ctx)
	if err != nil {
		// 調整項目が読めなくてもキャプチャは可能
		controls = map[string]v4l2Control{}
	}
	s.controls = controls
	s.status = StatusInactive
	return nil
}

// Start はストリーミングを開始する
func (s *V4L2Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturer == nil {
		return ErrNotInitialized
	}
	if s.status == StatusActive {
		return nil // 既に開始済み
	}

	// ストリームは呼び出し元のリクエストより長く生きる
	streamCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.frameChan = make(chan []byte, 2)
	s.errorChan = make(chan error, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.capturer.StartStream(streamCtx, s.frameChan, s.errorChan)
	}()

	s.status = StatusActive
	return nil
}

// Stop はストリーミングを停止する
func (s *V4L2Source) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return nil // 既に停止済み
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.status = StatusInactive
	return nil
}

// Reset はストリームを張り直す
func (s *V4L2Source) Reset(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Close はストリームを停止してデバイスを解放する
func (s *V4L2Source) Close(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturer = nil
	s.latest = nil
	s.status = StatusClosed
	return nil
}

// Frame は最新のフレームを返す。溜まっている古いフレームは捨てる
func (s *V4L2Source) Frame(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	frameChan, errorChan, active := s.frameChan, s.errorChan, s.status == StatusActive
	s.mu.RUnlock()
	if !active {
		return nil, fmt.Errorf("カメラが非アクティブです: %w", ErrNoFrame)
	}

	timer := time.NewTimer(frameWaitTimeout)
	defer timer.Stop()

	var frame []byte
	select {
	case frame = <-frameChan:
	case err := <-errorChan:
		s.mu.Lock()
		s.status = StatusError
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
	case <-timer.C:
		return nil, ErrNoFrame
	case <-ctx.Done():
		return nil, ctx.Err()
	}

drain:
	for {
		select {
		case newer := <-frameChan:
			frame = newer
		default:
			break drain
		}
	}

	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
	return frame, nil
}

func (s *V4L2Source) findControl(c Control) (v4l2Control, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupControl(s.controls, v4l2ControlNames[c])
}

func (s *V4L2Source) findAuto(c Control) (v4l2Control, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupControl(s.controls, v4l2AutoNames[c])
}

func (s *V4L2Source) refresh(name string) (v4l2Control, error) {
	s.mu.RLock()
	capturer := s.capturer
	s.mu.RUnlock()
	if capturer == nil {
		return v4l2Control{}, ErrNotInitialized
	}
	controls, err := capturer.ListControls(context.Background())
	if err != nil {
		return v4l2Control{}, err
	}
	s.mu.Lock()
	s.controls = controls
	s.mu.Unlock()
	ctrl, ok := controls[name]
	if !ok {
		return v4l2Control{}, ErrUnsupportedControl
	}
	return ctrl, nil
}

func (s *V4L2Source) set(name string, value int) error {
	s.mu.RLock()
	capturer := s.capturer
	s.mu.RUnlock()
	if capturer == nil {
		return ErrNotInitialized
	}
	return capturer.SetControls(context.Background(), map[string]int{name: value})
}

// HasControl は調整項目の有無を返す
func (s *V4L2Source) HasControl(c Control) bool {
	_, ok := s.findControl(c)
	return ok
}

// Control は現在値をデバイスから読み直して返す
func (s *V4L2Source) Control(c Control) (int, error) {
	ctrl, ok := s.findControl(c)
	if !ok {
		return 0, ErrUnsupportedControl
	}
	fresh, err := s.refresh(ctrl.Name)
	if err != nil {
		return 0, err
	}
	return fresh.Value, nil
}

// SetControl は範囲内に丸めた値を設定する
func (s *V4L2Source) SetControl(c Control, value int) error {
	ctrl, ok := s.findControl(c)
	if !ok {
		return ErrUnsupportedControl
	}
	info := ControlInfo{Min: ctrl.Min, Max: ctrl.Max, Step: ctrl.Step, Default: ctrl.Default}
	return s.set(ctrl.Name, info.Clamp(value))
}

// ControlInfo は範囲と既定値を返す
func (s *V4L2Source) ControlInfo(c Control) (ControlInfo, error) {
	ctrl, ok := s.findControl(c)
	if !ok {
		return ControlInfo{}, ErrUnsupportedControl
	}
	return ControlInfo{Min: ctrl.Min, Max: ctrl.Max, Step: ctrl.Step, Default: ctrl.Default}, nil
}

// SetDefault は既定値に戻す
func (s *V4L2Source) SetDefault(c Control) error {
	ctrl, ok := s.findControl(c)
	if !ok {
		return ErrUnsupportedControl
	}
	return s.set(ctrl.Name, ctrl.Default)
}

// HasAuto は自動調整の有無を返す
func (s *V4L2Source) HasAuto(c Control) bool {
	_, ok := s.findAuto(c)
	return ok
}

// Auto は自動調整の状態を返す
func (s *V4L2Source) Auto(c Control) (bool, error) {
	ctrl, ok := s.findAuto(c)
	if !ok {
		return false, ErrUnsupportedControl
	}
	fresh, err := s.refresh(ctrl.Name)
	if err != nil {
		return false, err
	}
	if ctrl.Type == "menu" {
		return fresh.Value != v4l2ExposureManual, nil
	}
	return fresh.Value != 0, nil
}

// SetAuto は自動調整を切り替える
func (s *V4L2Source) SetAuto(c Control, on bool) error {
	ctrl, ok := s.findAuto(c)
	if !ok {
		return ErrUnsupportedControl
	}
	value := 0
	switch {
	case ctrl.Type == "menu" && on:
		value = v4l2ExposureAuto
	case ctrl.Type == "menu":
		value = v4l2ExposureManual
	case on:
		value = 1
	}
	return s.set(ctrl.Name, value)
}
