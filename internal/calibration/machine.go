package calibration

import (
	"context"
	"image"
	"image/color"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"shikai/internal/calibgrid"
	"shikai/internal/config"
	"shikai/internal/multicam"
	"shikai/internal/timeutil"
)

// Step はキャリブレーションの段階
type Step int

// キャリブレーションの段階
const (
	StepPosition   Step = iota // 格子のどのセルをどのカメラが担当するか決める（複数カメラのみ）
	StepBounding               // 切り出し範囲を決める
	StepDistortion             // 歪み補正の制御点を集める
	StepTestResult             // 補正結果の表示
)

// String は段階の名前を返す
func (s Step) String() string {
	switch s {
	case StepPosition:
		return "position"
	case StepBounding:
		return "bounding"
	case StepDistortion:
		return "distortion"
	case StepTestResult:
		return "testresult"
	default:
		return "unknown"
	}
}

// FinderSettings はブロブ検出器の設定
type FinderSettings struct {
	DetectBlobs   bool `json:"detect_blobs"`
	DetectFingers bool `json:"detect_fingers"`
	MinBlobSize   int  `json:"min_blob_size"`
	MaxBlobSize   int  `json:"max_blob_size"`
}

// DisplayMode は画面表示の種類
type DisplayMode string

// 表示の種類
const (
	DisplayNone        DisplayMode = "none"
	DisplaySource      DisplayMode = "source"      // 補正前の画像
	DisplayDestination DisplayMode = "destination" // 検出結果
)

// Controller はカメラ構成の取得と再構築を行う
//
// ResetCameraはカメラを同期的に作り直す。cfgは呼び出し後も変更されるため複製して使うこと。
type Controller interface {
	CameraConfig() config.CameraConfig
	ResetCamera(ctx context.Context, cfg config.CameraConfig, correct bool) error
	SaveCameraConfig(cfg config.CameraConfig) error
}

// Finder はブロブ検出器の設定を読み書きする
type Finder interface {
	FinderSettings() FinderSettings
	SetFinderSettings(s FinderSettings)
}

// Display は画面表示の種類を読み書きする
type Display interface {
	DisplayMode() DisplayMode
	SetDisplayMode(m DisplayMode)
}

// GridStore はグリッドファイルを読み書きする
type GridStore interface {
	Load(path string) (*calibgrid.Grid, error)
	Save(path string, g *calibgrid.Grid) error
}

// Deps はMachineが使う外部の協調者
type Deps struct {
	Controller Controller
	Finder     Finder  // nilなら設定の退避を行わない
	Display    Display // nilなら表示を切り替えない
	Grids      GridStore
	Paths      config.CalibrationConfig
	Clock      timeutil.Clock // nilなら実時間
}

// Frame は1フレーム分の入力
type Frame struct {
	Width  int
	Height int
	Blobs  []Blob
}

// 歪み補正の段階で使う検出器の設定
var distortionFinder = FinderSettings{
	DetectBlobs:   true,
	DetectFingers: false,
	MinBlobSize:   10,
	MaxBlobSize:   100,
}

const (
	minCropSize = 10
	quickStep   = 10.0
	preciseStep = 1.0
)

var colorRed = color.RGBA{255, 0, 0, 255}

// Machine はキャリブレーションの状態機械
//
// HandleKeyとProcessはキャプチャループから呼ぶ。Statusは他のゴルーチンから呼んでよい。
type Machine struct {
	deps Deps

	mu     sync.Mutex
	s      *session
	frameW int
	frameH int
}

// state は段階ごとのデータを持つ
type state interface {
	step() Step
}

type positionState struct{}

type boundingState struct {
	ready  bool
	limitW int // 切り出し前の1台分の大きさ
	limitH int
	x, y   int
	w, h   int
}

type distortionState struct {
	dev    *config.DeviceConfig
	grid   *calibgrid.Grid
	origin image.Point // 合成画像上のセルの左上

	curX, curY int
	spacingX   float64
	spacingY   float64
}

type resultState struct {
	prev *distortionState
}

func (*positionState) step() Step   { return StepPosition }
func (*boundingState) step() Step   { return StepBounding }
func (*distortionState) step() Step { return StepDistortion }
func (*resultState) step() Step     { return StepTestResult }

// session は1回のキャリブレーションの状態
type session struct {
	id     string
	cfg    config.CameraConfig // 作業中の構成
	backup config.CameraConfig
	finder FinderSettings
	mode   DisplayMode
	grid   *config.GridConfig // 単体カメラならnil
	camIdx int

	crops map[*config.DeviceConfig]config.Crop
	grids map[*config.DeviceConfig]*calibgrid.Grid

	state  state
	dwell  dwell
	quick  bool
	stored bool
}

// New は新しいMachineを作成する
func New(deps Deps) *Machine {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Machine{deps: deps}
}

// Active はキャリブレーション中かを返す
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s != nil
}

// HandleKey はオペレーターの入力を処理し、キーを消費したかを返す
func (m *Machine) HandleKey(ctx context.Context, k Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k == KeyToggle {
		if m.s == nil {
			m.start(ctx)
		} else {
			m.stop(ctx)
		}
		return true
	}

	s := m.s
	if s == nil {
		return false
	}
	if k == KeyQuick {
		s.quick = !s.quick
		return true
	}

	switch st := s.state.(type) {
	case *boundingState:
		return m.boundingKey(ctx, s, st, k)
	case *distortionState:
		return m.distortionKey(ctx, s, st, k)
	case *resultState:
		if k == KeyResult {
			m.reset(ctx, s, false)
			m.enter(s, st.prev)
			return true
		}
	}
	return false
}

// Process は1フレーム分の入力を処理し、表示する図形を返す
func (m *Machine) Process(ctx context.Context, f Frame) []Shape {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frameW, m.frameH = f.Width, f.Height
	s := m.s
	if s == nil || f.Width <= 0 || f.Height <= 0 {
		return nil
	}
	now := m.deps.Clock.Now()

	switch st := s.state.(type) {
	case *positionState:
		return m.processPosition(ctx, s, f, now)
	case *boundingState:
		return m.processBounding(s, st, f)
	case *distortionState:
		return m.processDistortion(ctx, s, st, f, now)
	}
	return nil
}

func (m *Machine) start(ctx context.Context) {
	cfg := m.deps.Controller.CameraConfig()
	if cfg == nil {
		log.Printf("カメラ構成がないためキャリブレーションを開始できません")
		return
	}

	s := &session{
		id:     uuid.NewString(),
		cfg:    cfg.Clone(),
		backup: cfg.Clone(),
		crops:  make(map[*config.DeviceConfig]config.Crop),
		grids:  make(map[*config.DeviceConfig]*calibgrid.Grid),
	}
	if g, ok := s.cfg.(*config.GridConfig); ok {
		s.grid = g
	}
	if m.deps.Finder != nil {
		s.finder = m.deps.Finder.FinderSettings()
	}
	if m.deps.Display != nil {
		s.mode = m.deps.Display.DisplayMode()
		m.deps.Display.SetDisplayMode(DisplaySource)
	}
	m.s = s
	log.Printf("キャリブレーションを開始しました (セッション %s, カメラ%d台)", s.id, len(config.Devices(s.cfg)))

	if s.grid != nil {
		m.reset(ctx, s, false)
		m.enter(s, &positionState{})
		return
	}
	m.setupBounding(ctx, s)
}

// stop はキャリブレーションを終了し、カメラを開始前の構成に戻す
//
// 結果を保存済みなら新しい構成はレイアウト記述に書き出す。
func (m *Machine) stop(ctx context.Context) {
	s := m.s
	m.s = nil

	if s.stored {
		if err := m.deps.Controller.SaveCameraConfig(s.cfg); err != nil {
			log.Printf("カメラ構成の保存に失敗: %v", err)
		}
	}
	if err := m.deps.Controller.ResetCamera(ctx, s.backup, true); err != nil {
		log.Printf("カメラの復元に失敗: %v", err)
	}
	if m.deps.Finder != nil {
		m.deps.Finder.SetFinderSettings(s.finder)
	}
	if m.deps.Display != nil {
		m.deps.Display.SetDisplayMode(s.mode)
	}
	log.Printf("キャリブレーションを終了しました (セッション %s, 保存=%t)", s.id, s.stored)
}

func (m *Machine) reset(ctx context.Context, s *session, correct bool) {
	if err := m.deps.Controller.ResetCamera(ctx, s.cfg, correct); err != nil {
		log.Printf("カメラのリセットに失敗: %v", err)
	}
}

func (m *Machine) enter(s *session, st state) {
	s.state = st
	log.Printf("キャリブレーション: %s (カメラ%d)", st.step(), s.camIdx)
}

// cellSize は現在のフレームでの1台分の大きさを返す
func (s *session) cellSize(frameW, frameH int) (layout multicam.Layout, w, h int) {
	if s.grid == nil {
		return multicam.Layout{Cols: 1, Rows: 1}, frameW, frameH
	}
	cols, rows := s.grid.Dimensions()
	layout = multicam.Layout{Cols: cols, Rows: rows}
	return layout, frameW / cols, frameH / rows
}

func (s *session) activeDevice() *config.DeviceConfig {
	if s.grid == nil {
		return s.cfg.(*config.DeviceConfig)
	}
	return s.grid.RowMajor()[s.camIdx].Device
}

// --- POSITION ---

func (m *Machine) processPosition(ctx context.Context, s *session, f Frame, now time.Time) []Shape {
	layout, cellW, cellH := s.cellSize(f.Width, f.Height)
	if cellW <= 0 || cellH <= 0 {
		return nil
	}

	c := ColorGreen
	if b, elapsed, ok := s.dwell.observe(f.Blobs, now); ok {
		c = FadeColor(elapsed)
		if elapsed >= DwellTime {
			s.dwell.submit()
			m.commitPosition(ctx, s, layout.CellAt(int(b.X), int(b.Y), cellW, cellH))
			return nil
		}
	}

	r := layout.CellRect(s.camIdx, cellW, cellH)
	return []Shape{ellipse(r.Min.X+cellW/2, r.Min.Y+cellH/2, c)}
}

// commitPosition はブロブが置かれたセルのカメラを現在のセルに割り当てる
func (m *Machine) commitPosition(ctx context.Context, s *session, cell int) {
	if cell != s.camIdx {
		s.grid.Swap(s.camIdx, cell)
		log.Printf("キャリブレーション: セル%d とセル%d のカメラを入れ替えました", s.camIdx, cell)
	}
	m.setupBounding(ctx, s)
}

// --- BOUNDING ---

// setupBounding は切り出しを解除して元の画像全体を表示する
func (m *Machine) setupBounding(ctx context.Context, s *session) {
	for _, d := range config.Devices(s.cfg) {
		d.Crop = config.Crop{}
	}
	m.reset(ctx, s, false)
	m.enter(s, &boundingState{})
}

func (m *Machine) processBounding(s *session, st *boundingState, f Frame) []Shape {
	layout, cellW, cellH := s.cellSize(f.Width, f.Height)
	if !st.ready {
		if cellW < minCropSize || cellH < minCropSize {
			return nil
		}
		*st = boundingState{ready: true, limitW: cellW, limitH: cellH, w: cellW, h: cellH}
	}

	origin := layout.CellRect(s.camIdx, cellW, cellH).Min
	left, top := origin.X+st.x, origin.Y+st.y
	right, bottom := left+st.w-1, top+st.h-1
	return []Shape{
		line(left, top, right, top, ColorGreen),
		line(right, top, right, bottom, ColorGreen),
		line(right, bottom, left, bottom, ColorGreen),
		line(left, bottom, left, top, ColorGreen),
		line(left, top, right, bottom, ColorBlue),
		line(right, top, left, bottom, ColorBlue),
	}
}

// boundingKey は切り出し枠を動かす。範囲外になる操作は無視する
func (m *Machine) boundingKey(ctx context.Context, s *session, st *boundingState, k Key) bool {
	if !st.ready {
		return false
	}
	switch k {
	case KeyEnter:
		m.commitBounding(ctx, s, st)
		m.setupDistortion(s, st)
	case KeyD:
		if st.x < st.limitW-minCropSize && st.w > minCropSize {
			st.x++
			st.w--
		}
	case KeyS:
		if st.y < st.limitH-minCropSize && st.h > minCropSize {
			st.y++
			st.h--
		}
	case KeyA:
		if st.x > 0 {
			st.x--
			st.w++
		}
	case KeyW:
		if st.y > 0 {
			st.y--
			st.h++
		}
	case KeyRight:
		if st.w < st.limitW-st.x {
			st.w++
		}
	case KeyLeft:
		if st.w > minCropSize {
			st.w--
		}
	case KeyUp:
		if st.h > minCropSize {
			st.h--
		}
	case KeyDown:
		if st.h < st.limitH-st.y {
			st.h++
		}
	default:
		return false
	}
	return true
}

func (st *boundingState) full() bool {
	return st.x == 0 && st.y == 0 && st.w == st.limitW && st.h == st.limitH
}

// commitBounding は切り出し枠をカメラ構成に反映する
//
// 格子構成では全カメラの大きさを揃える必要があるため、大きさは全カメラに適用し、
// オフセットは現在のカメラにだけ適用する。他のカメラは確定済みのオフセットを保つ。
func (m *Machine) commitBounding(ctx context.Context, s *session, st *boundingState) {
	if st.full() {
		if s.grid != nil {
			delete(s.crops, s.activeDevice())
		}
		return
	}

	crop := config.Crop{X: st.x, Y: st.y, Width: st.w, Height: st.h}
	if s.grid == nil {
		s.activeDevice().Crop = crop
		m.reset(ctx, s, false)
		return
	}

	active := s.activeDevice()
	s.crops[active] = crop
	for _, d := range config.Devices(s.cfg) {
		c := config.Crop{Width: st.w, Height: st.h}
		if prev, ok := s.crops[d]; ok {
			c.X = min(prev.X, st.limitW-st.w)
			c.Y = min(prev.Y, st.limitH-st.h)
		}
		if c.IsFull(st.limitW, st.limitH) {
			c = config.Crop{}
		}
		d.Crop = c
	}
	m.reset(ctx, s, false)
}

// --- DISTORTION ---

func (m *Machine) setupDistortion(s *session, st *boundingState) {
	w, h := st.w, st.h
	origin := image.Point{}
	if s.grid != nil {
		cols, _ := s.grid.Dimensions()
		origin = image.Pt((s.camIdx%cols)*w, (s.camIdx/cols)*h)
	}

	countX, countY := calibgrid.Size(w, h)
	dev := s.activeDevice()
	g := calibgrid.New(countX, countY)
	s.grids[dev] = g

	if m.deps.Finder != nil {
		m.deps.Finder.SetFinderSettings(distortionFinder)
	}
	m.enter(s, &distortionState{
		dev:      dev,
		grid:     g,
		origin:   origin,
		spacingX: float64(w-1) / float64(countX-1),
		spacingY: float64(h-1) / float64(countY-1),
	})
}

// target は制御点の目標位置をセル内の座標で返す
func (st *distortionState) target(x, y int) (float64, float64) {
	return float64(x) * st.spacingX, float64(y) * st.spacingY
}

func (st *distortionState) done() bool {
	return st.curY >= st.grid.CountY()
}

func (m *Machine) processDistortion(ctx context.Context, s *session, st *distortionState, f Frame, now time.Time) []Shape {
	cur := colorRed
	if b, elapsed, ok := s.dwell.observe(f.Blobs, now); ok {
		cur = FadeColor(elapsed)
		if elapsed >= DwellTime {
			tx, ty := st.target(st.curX, st.curY)
			p := calibgrid.Point{
				X: (b.X - float64(st.origin.X) - tx) / st.spacingX,
				Y: (b.Y - float64(st.origin.Y) - ty) / st.spacingY,
			}
			if err := st.grid.Set(st.curX, st.curY, p); err != nil {
				log.Printf("制御点の記録に失敗: %v", err)
			}
			s.dwell.submit()
			cur = colorRed

			st.curX++
			if st.curX >= st.grid.CountX() {
				st.curX = 0
				st.curY++
			}
			if st.done() {
				m.finishCamera(ctx, s, st)
				return nil
			}
		}
	}

	shapes := make([]Shape, 0, st.grid.CountX()*st.grid.CountY())
	for y := 0; y < st.grid.CountY(); y++ {
		for x := 0; x < st.grid.CountX(); x++ {
			c := ColorBlue
			switch {
			case x == st.curX && y == st.curY:
				c = cur
			case st.grid.Get(x, y).IsZero():
				c = ColorGreen
			}
			tx, ty := st.target(x, y)
			shapes = append(shapes, ellipse(st.origin.X+int(tx), st.origin.Y+int(ty), c))
		}
	}
	return shapes
}

// finishCamera は1台分の制御点が揃った時に次のカメラか結果表示へ進む
func (m *Machine) finishCamera(ctx context.Context, s *session, st *distortionState) {
	if s.grid != nil && s.camIdx+1 < len(s.grid.Cells) {
		s.camIdx++
		m.enter(s, &positionState{})
		return
	}
	m.storeResult(ctx, s, st)
}

// storeResult は全カメラのグリッドを保存して補正を有効にする
func (m *Machine) storeResult(ctx context.Context, s *session, st *distortionState) {
	multi := s.grid != nil
	for _, d := range config.Devices(s.cfg) {
		g, ok := s.grids[d]
		if !ok {
			continue
		}
		if err := m.deps.Grids.Save(m.deps.Paths.DeviceGridPath(d, multi), g); err != nil {
			log.Printf("グリッドの保存に失敗 (%s): %v", d.Name(), err)
		}
	}
	s.stored = true

	if st.done() {
		st.curX, st.curY = st.grid.CountX()-1, st.grid.CountY()-1
	}
	m.reset(ctx, s, true)
	m.enter(s, &resultState{prev: st})
}

func (m *Machine) distortionKey(ctx context.Context, s *session, st *distortionState, k Key) bool {
	step := preciseStep
	if s.quick {
		step = quickStep
	}

	switch k {
	case KeyA:
		st.curX = max(st.curX-1, 0)
	case KeyD:
		st.curX = min(st.curX+1, st.grid.CountX()-1)
	case KeyW:
		st.curY = max(st.curY-1, 0)
	case KeyX:
		st.curY = min(st.curY+1, st.grid.CountY()-1)
	case KeyLeft:
		m.nudge(st, -step/st.spacingX, 0)
		return true
	case KeyRight:
		m.nudge(st, step/st.spacingX, 0)
		return true
	case KeyUp:
		m.nudge(st, 0, -step/st.spacingY)
		return true
	case KeyDown:
		m.nudge(st, 0, step/st.spacingY)
		return true
	case KeyResetPoint:
		st.grid.ResetPoint(st.curX, st.curY)
		return true
	case KeyResetGrid:
		st.grid.Reset()
		st.curX, st.curY = 0, 0
	case KeyRevert:
		m.revert(s, st)
		return true
	case KeyResult:
		m.storeResult(ctx, s, st)
		return true
	default:
		return false
	}
	// 選択が変わったら滞留をやり直す
	s.dwell.tracking = false
	return true
}

func (m *Machine) nudge(st *distortionState, dx, dy float64) {
	p := st.grid.Get(st.curX, st.curY)
	p.X += dx
	p.Y += dy
	if err := st.grid.Set(st.curX, st.curY, p); err != nil {
		log.Printf("制御点の調整に失敗: %v", err)
	}
}

// revert は保存済みのグリッドを読み込み直す
func (m *Machine) revert(s *session, st *distortionState) {
	path := m.deps.Paths.DeviceGridPath(st.dev, s.grid != nil)
	g, err := m.deps.Grids.Load(path)
	if err != nil {
		log.Printf("保存済みのグリッドを読み込めません: %v", err)
		return
	}
	if g.CountX() != st.grid.CountX() || g.CountY() != st.grid.CountY() {
		log.Printf("保存済みのグリッドの大きさが異なります (%dx%d != %dx%d)", g.CountX(), g.CountY(), st.grid.CountX(), st.grid.CountY())
		return
	}
	st.grid = g
	s.grids[st.dev] = g
}
