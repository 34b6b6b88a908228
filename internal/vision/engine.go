package vision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"shikai/internal/calibgrid"
	"shikai/internal/calibration"
	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/fsutil"
	"shikai/internal/timeutil"
)

// ErrKeyQueueFull はキー入力のキューが溢れたことを示す
var ErrKeyQueueFull = errors.New("キー入力が処理待ちで溢れています")

const keyQueueSize = 64

// Options はEngineの構成
type Options struct {
	Factory     *camera.Factory
	Grids       *calibgrid.FileStore
	FS          fsutil.FileSystem
	Calibration config.CalibrationConfig
	LayoutFile  string        // カメラ構成の保存先。空なら保存しない
	IdleBackoff time.Duration // フレームが得られなかった時の待機
	Blobs       BlobSource    // nilなら検出しない
	Clock       timeutil.Clock
}

// Engine はキャプチャ・変換・合成・キャリブレーションを1つのゴルーチンで回す
//
// カメラ構成はEngineが所有し、キャリブレーション中の変更は同じループ内で同期的に反映する。
type Engine struct {
	id    string
	opts  Options
	keys  chan calibration.Key
	calib *calibration.Machine

	mu      sync.RWMutex
	cfg     config.CameraConfig
	source  camera.Source
	correct bool
	running bool
	finder  calibration.FinderSettings
	display calibration.DisplayMode
	snap    Snapshot
	frames  uint64
	dropped uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New は新しいEngineを作成する。カメラはStartまで開かない
func New(cfg config.CameraConfig, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Grids == nil {
		opts.Grids = calibgrid.NewFileStore(opts.FS)
	}
	if opts.Factory == nil {
		opts.Factory = camera.NewFactory()
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = 10 * time.Millisecond
	}

	e := &Engine{
		id:      uuid.NewString(),
		opts:    opts,
		keys:    make(chan calibration.Key, keyQueueSize),
		cfg:     cfg.Clone(),
		correct: true,
		finder: calibration.FinderSettings{
			DetectFingers: true,
			MinBlobSize:   5,
			MaxBlobSize:   200,
		},
		display: calibration.DisplayDestination,
		stopCh:  make(chan struct{}),
	}
	e.calib = calibration.New(calibration.Deps{
		Controller: e,
		Finder:     e,
		Display:    e,
		Grids:      opts.Grids,
		Paths:      opts.Calibration,
		Clock:      opts.Clock,
	})
	return e
}

// ID はEngineの識別子を返す
func (e *Engine) ID() string { return e.id }

// Calibration はキャリブレーションの状態機械を返す
func (e *Engine) Calibration() *calibration.Machine { return e.calib }

// Open はカメラを開いて開始する
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := e.openLocked(ctx, e.cfg, e.correct)
	if err != nil {
		return err
	}
	e.source = src
	log.Printf("カメラを開きました (%dx%d, %s)", src.Width(), src.Height(), src.Format())
	return nil
}

// Start はカメラを開いてキャプチャループを開始する
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Open(ctx); err != nil {
		return fmt.Errorf("カメラの起動に失敗: %w", err)
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx)

	log.Printf("キャプチャループを開始しました (エンジン %s)", e.id)
	return nil
}

// Stop はキャプチャループを止めてカメラを閉じる
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return e.closeSource(ctx)
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		log.Printf("キャプチャループの停止がタイムアウトしました")
	case <-ctx.Done():
		log.Printf("コンテキストがキャンセルされました。停止処理を中断します")
	}

	err := e.closeSource(ctx)
	log.Println("キャプチャループを停止しました")
	return err
}

func (e *Engine) closeSource(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return nil
	}
	err := stopAndClose(ctx, e.source)
	e.source = nil
	return err
}

func stopAndClose(ctx context.Context, src camera.Source) error {
	return errors.Join(src.Stop(ctx), src.Close(ctx))
}

// run はStopまでフレームを処理し続ける
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		default:
		}

		if err := e.Tick(ctx); err != nil {
			if !errors.Is(err, camera.ErrNoFrame) && !errors.Is(err, camera.ErrNotInitialized) {
				log.Printf("フレーム処理エラー: %v", err)
			}
			e.opts.Clock.Sleep(e.opts.IdleBackoff)
		}
	}
}

// Tick はキー入力を処理し、1フレームを取得して処理する
func (e *Engine) Tick(ctx context.Context) error {
	e.drainKeys(ctx)

	e.mu.RLock()
	src := e.source
	e.mu.RUnlock()
	if src == nil {
		return camera.ErrNotInitialized
	}

	data, err := src.Frame(ctx)
	if err != nil {
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		return err
	}

	// ソースのバッファは次のFrameで上書きされるため複製する
	img := Image{
		Data:   slices.Clone(data),
		Width:  src.Width(),
		Height: src.Height(),
		Format: src.Format(),
	}

	var blobs []calibration.Blob
	if e.opts.Blobs != nil {
		blobs = e.opts.Blobs.Blobs(ctx, img)
	}
	shapes := e.calib.Process(ctx, calibration.Frame{Width: img.Width, Height: img.Height, Blobs: blobs})

	e.mu.Lock()
	e.frames++
	e.snap = Snapshot{
		Seq:    e.frames,
		Time:   e.opts.Clock.Now(),
		Image:  img,
		Shapes: shapes,
		Blobs:  blobs,
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) drainKeys(ctx context.Context) {
	for {
		select {
		case k := <-e.keys:
			e.calib.HandleKey(ctx, k)
		default:
			return
		}
	}
}

// SendKey はキー入力を次のフレームで処理するようキューに入れる
func (e *Engine) SendKey(k calibration.Key) error {
	select {
	case e.keys <- k:
		return nil
	default:
		return ErrKeyQueueFull
	}
}

// Snapshot は最新フレームを返す
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Status はエンジンの状態
type Status struct {
	ID          string             `json:"id"`
	Running     bool               `json:"running"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Format      string             `json:"format"`
	Cameras     int                `json:"cameras"`
	Corrected   bool               `json:"corrected"`
	Frames      uint64             `json:"frames"`
	Dropped     uint64             `json:"dropped"`
	DisplayMode string             `json:"display_mode"`
	Calibration calibration.Status `json:"calibration"`
}

// Status は現在の状態を返す
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		ID:          e.id,
		Running:     e.running,
		Cameras:     len(config.Devices(e.cfg)),
		Corrected:   e.correct,
		Frames:      e.frames,
		Dropped:     e.dropped,
		DisplayMode: string(e.display),
	}
	if e.source != nil {
		st.Width, st.Height, st.Format = e.source.Width(), e.source.Height(), e.source.Format().String()
	}
	e.mu.RUnlock()

	st.Calibration = e.calib.Status()
	return st
}

// Controls は現在のソースの調整項目を返す。カメラが開いていなければnil
//
// 返した値の操作はEngineのロック下で行い、カメラのリセットと重ならない。
func (e *Engine) Controls() camera.Controls {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.source == nil {
		return nil
	}
	return engineControls{e: e}
}

// CameraConfig は現在のカメラ構成の複製を返す
func (e *Engine) CameraConfig() config.CameraConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Clone()
}

// ResetCamera はカメラを閉じ、新しい構成で開き直す
//
// 開けなかった場合は元の構成で開き直してからエラーを返す。
func (e *Engine) ResetCamera(ctx context.Context, cfg config.CameraConfig, correct bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source != nil {
		if err := stopAndClose(ctx, e.source); err != nil {
			log.Printf("カメラの停止に失敗: %v", err)
		}
		e.source = nil
	}

	src, err := e.openLocked(ctx, cfg, correct)
	if err != nil {
		if prev, perr := e.openLocked(ctx, e.cfg, e.correct); perr == nil {
			e.source = prev
		} else {
			log.Printf("元の構成でもカメラを開けません: %v", perr)
		}
		return fmt.Errorf("カメラのリセットに失敗: %w", err)
	}

	e.source = src
	e.cfg = cfg.Clone()
	e.correct = correct
	log.Printf("カメラをリセットしました (%dx%d, 補正=%t)", src.Width(), src.Height(), correct)
	return nil
}

// SaveCameraConfig はカメラ構成をレイアウト記述ファイルに書き出す
func (e *Engine) SaveCameraConfig(cfg config.CameraConfig) error {
	if e.opts.LayoutFile == "" {
		log.Printf("レイアウト記述の保存先がないため構成を保存しません")
		return nil
	}
	if err := config.SaveCamera(e.opts.FS, e.opts.LayoutFile, cfg); err != nil {
		return err
	}
	log.Printf("カメラ構成を保存しました: %s", e.opts.LayoutFile)
	return nil
}

// FinderSettings は検出器の設定を返す
func (e *Engine) FinderSettings() calibration.FinderSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.finder
}

// SetFinderSettings は検出器の設定を変更する
func (e *Engine) SetFinderSettings(s calibration.FinderSettings) {
	e.mu.Lock()
	e.finder = s
	e.mu.Unlock()

	if c, ok := e.opts.Blobs.(interface {
		Configure(calibration.FinderSettings)
	}); ok {
		c.Configure(s)
	}
}

// DisplayMode は表示の種類を返す
func (e *Engine) DisplayMode() calibration.DisplayMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.display
}

// SetDisplayMode は表示の種類を変更する
func (e *Engine) SetDisplayMode(m calibration.DisplayMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.display = m
}
