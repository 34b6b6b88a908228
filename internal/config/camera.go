package config

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"shikai/internal/camera"
	"shikai/internal/fsutil"
)

// CameraConfig はキャプチャ構成。単体カメラ(*DeviceConfig)か複数カメラの格子(*GridConfig)のどちらか
type CameraConfig interface {
	Clone() CameraConfig
	isCameraConfig()
}

// Crop はキャプチャ画像の切り出し範囲
//
// 各値は独立に既定値を持つ。WidthとHeightが0以下ならオフセットから端までを使う。
type Crop struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Resolve はsrcW x srcHの画像に対する実際の切り出し範囲を返す
func (c Crop) Resolve(srcW, srcH int) (x, y, w, h int) {
	x, y = clamp(c.X, 0, srcW-1), clamp(c.Y, 0, srcH-1)
	w, h = c.Width, c.Height
	if w <= 0 || x+w > srcW {
		w = srcW - x
	}
	if h <= 0 || y+h > srcH {
		h = srcH - y
	}
	return x, y, w, h
}

// IsFull は切り出しが画像全体かを返す
func (c Crop) IsFull(srcW, srcH int) bool {
	x, y, w, h := c.Resolve(srcW, srcH)
	return x == 0 && y == 0 && w == srcW && h == srcH
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}

// DeviceConfig は単体カメラの設定
type DeviceConfig struct {
	Driver camera.Driver
	Device int     // デバイス番号
	Path   string  // デバイスパスまたは画像ディレクトリ
	Width  int     // キャプチャ幅（0はドライバ既定）
	Height int     // キャプチャ高さ（0はドライバ既定）
	FPS    float64 // フレームレート（0はドライバ既定）
	Format camera.Format

	Crop  Crop
	FlipH bool
	FlipV bool
	Color bool // trueならRGB、falseならGRAYで出力

	Controls map[string]int  // 調整項目の値
	Autos    map[string]bool // 自動調整

	Calibration string // グリッドファイル（空なら既定）
}

func (*DeviceConfig) isCameraConfig() {}

// Clone はディープコピーを返す
func (d *DeviceConfig) Clone() CameraConfig {
	return d.CloneDevice()
}

// CloneDevice は*DeviceConfigとしてディープコピーを返す
func (d *DeviceConfig) CloneDevice() *DeviceConfig {
	c := *d
	c.Controls = maps.Clone(d.Controls)
	c.Autos = maps.Clone(d.Autos)
	return &c
}

// SourceConfig はドライバに渡す設定を返す
func (d *DeviceConfig) SourceConfig() camera.SourceConfig {
	return camera.SourceConfig{
		Device: d.Device,
		Path:   d.Path,
		Width:  d.Width,
		Height: d.Height,
		FPS:    d.FPS,
		Format: d.Format,
	}
}

// OutputFormat は変換後のピクセル形式を返す
func (d *DeviceConfig) OutputFormat() camera.Format {
	if d.Color {
		return camera.FormatRGB
	}
	return camera.FormatGray
}

// OutputSize は設定から分かる変換後の大きさを返す。キャプチャサイズが未指定ならokはfalse
func (d *DeviceConfig) OutputSize() (w, h int, ok bool) {
	if d.Width <= 0 || d.Height <= 0 {
		return 0, 0, false
	}
	_, _, w, h = d.Crop.Resolve(d.Width, d.Height)
	return w, h, true
}

// Name はログ表示用の名前を返す
func (d *DeviceConfig) Name() string {
	driver := d.Driver
	if driver == "" {
		driver = camera.DriverV4L2
	}
	if d.Path != "" {
		return fmt.Sprintf("%s:%s", driver, d.Path)
	}
	return fmt.Sprintf("%s:%d", driver, d.Device)
}

// GridCell は格子内の1台のカメラ
type GridCell struct {
	Row    int
	Col    int
	Device *DeviceConfig
}

// GridConfig は複数カメラを格子状に並べた構成
type GridConfig struct {
	Cells []GridCell
}

func (*GridConfig) isCameraConfig() {}

// Clone はディープコピーを返す
func (g *GridConfig) Clone() CameraConfig {
	c := &GridConfig{Cells: make([]GridCell, len(g.Cells))}
	for i, cell := range g.Cells {
		c.Cells[i] = GridCell{Row: cell.Row, Col: cell.Col, Device: cell.Device.CloneDevice()}
	}
	return c
}

// Devices はカメラ設定を返す。単体ならその1台、格子なら行優先順の全台
func Devices(cfg CameraConfig) []*DeviceConfig {
	switch c := cfg.(type) {
	case *DeviceConfig:
		return []*DeviceConfig{c}
	case *GridConfig:
		ordered := c.RowMajor()
		out := make([]*DeviceConfig, len(ordered))
		for i, cell := range ordered {
			out[i] = cell.Device
		}
		return out
	}
	return nil
}

// RowMajor は行優先順に並べたセルを返す
func (g *GridConfig) RowMajor() []GridCell {
	cells := slices.Clone(g.Cells)
	slices.SortStableFunc(cells, func(a, b GridCell) int {
		if c := cmp.Compare(a.Row, b.Row); c != 0 {
			return c
		}
		return cmp.Compare(a.Col, b.Col)
	})
	return cells
}

// Dimensions は格子の列数と行数を返す
func (g *GridConfig) Dimensions() (cols, rows int) {
	for _, cell := range g.Cells {
		cols = max(cols, cell.Col+1)
		rows = max(rows, cell.Row+1)
	}
	return cols, rows
}

// Swap は2つのセルに割り当てたカメラを入れ替える。セルの位置は変わらない
func (g *GridConfig) Swap(a, b int) {
	cells := g.RowMajor()
	ia, ib := g.indexOf(cells[a]), g.indexOf(cells[b])
	g.Cells[ia].Device, g.Cells[ib].Device = g.Cells[ib].Device, g.Cells[ia].Device
}

func (g *GridConfig) indexOf(cell GridCell) int {
	for i, c := range g.Cells {
		if c.Row == cell.Row && c.Col == cell.Col {
			return i
		}
	}
	return -1
}

// レイアウト記述ファイルの形式
type layoutFile struct {
	Camera deviceFile `yaml:"camera"`
}

type deviceFile struct {
	Driver      string          `yaml:"driver,omitempty"`
	Device      int             `yaml:"device"`
	Path        string          `yaml:"path,omitempty"`
	Capture     captureFile     `yaml:"capture,omitempty"`
	Frame       *Crop           `yaml:"frame,omitempty"`
	FlipH       bool            `yaml:"flip_h,omitempty"`
	FlipV       bool            `yaml:"flip_v,omitempty"`
	Color       bool            `yaml:"color,omitempty"`
	Controls    map[string]int  `yaml:"controls,omitempty"`
	Autos       map[string]bool `yaml:"auto,omitempty"`
	Calibration string          `yaml:"calibration,omitempty"`
	Grid        *cellFile       `yaml:"grid,omitempty"`
	Children    []deviceFile    `yaml:"children,omitempty"`
}

type captureFile struct {
	Width  int     `yaml:"width,omitempty"`
	Height int     `yaml:"height,omitempty"`
	FPS    float64 `yaml:"fps,omitempty"`
	Format string  `yaml:"format,omitempty"`
}

type cellFile struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

var (
	// ErrNestedGrid は子カメラがさらに子を持つことを示す
	ErrNestedGrid = errors.New("複数カメラ構成は入れ子にできません")
	// ErrMissingCell は子カメラに格子位置がないことを示す
	ErrMissingCell = errors.New("子カメラに格子位置(grid)がありません")
)

// ParseCamera はレイアウト記述を解析する
func ParseCamera(data []byte) (CameraConfig, error) {
	var f layoutFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("レイアウト記述の解析に失敗: %w", err)
	}

	if len(f.Camera.Children) == 0 {
		return f.Camera.toDevice()
	}

	grid := &GridConfig{}
	for i, child := range f.Camera.Children {
		if len(child.Children) > 0 {
			return nil, fmt.Errorf("子カメラ %d: %w", i, ErrNestedGrid)
		}
		if child.Grid == nil {
			return nil, fmt.Errorf("子カメラ %d: %w", i, ErrMissingCell)
		}
		dev, err := child.toDevice()
		if err != nil {
			return nil, fmt.Errorf("子カメラ %d: %w", i, err)
		}
		grid.Cells = append(grid.Cells, GridCell{Row: child.Grid.Row, Col: child.Grid.Col, Device: dev})
	}
	return grid, nil
}

func (f deviceFile) toDevice() (*DeviceConfig, error) {
	format, err := camera.ParseFormat(f.Capture.Format)
	if err != nil {
		return nil, err
	}
	d := &DeviceConfig{
		Driver:      camera.Driver(f.Driver),
		Device:      f.Device,
		Path:        f.Path,
		Width:       f.Capture.Width,
		Height:      f.Capture.Height,
		FPS:         f.Capture.FPS,
		Format:      format,
		FlipH:       f.FlipH,
		FlipV:       f.FlipV,
		Color:       f.Color,
		Controls:    f.Controls,
		Autos:       f.Autos,
		Calibration: f.Calibration,
	}
	if f.Frame != nil {
		d.Crop = *f.Frame
	}
	return d, nil
}

func fromDevice(d *DeviceConfig) deviceFile {
	f := deviceFile{
		Driver: string(d.Driver),
		Device: d.Device,
		Path:   d.Path,
		Capture: captureFile{
			Width:  d.Width,
			Height: d.Height,
			FPS:    d.FPS,
		},
		FlipH:       d.FlipH,
		FlipV:       d.FlipV,
		Color:       d.Color,
		Controls:    d.Controls,
		Autos:       d.Autos,
		Calibration: d.Calibration,
	}
	if d.Format != camera.FormatUnknown {
		f.Capture.Format = d.Format.String()
	}
	if d.Crop != (Crop{}) {
		crop := d.Crop
		f.Frame = &crop
	}
	return f
}

// MarshalCamera はレイアウト記述をYAMLに変換する
func MarshalCamera(cfg CameraConfig) ([]byte, error) {
	var f layoutFile
	switch c := cfg.(type) {
	case *DeviceConfig:
		f.Camera = fromDevice(c)
	case *GridConfig:
		f.Camera.Driver = string(camera.DriverMulticam)
		for _, cell := range c.RowMajor() {
			child := fromDevice(cell.Device)
			child.Grid = &cellFile{Row: cell.Row, Col: cell.Col}
			f.Camera.Children = append(f.Camera.Children, child)
		}
	default:
		return nil, fmt.Errorf("不明なカメラ構成: %T", cfg)
	}
	return yaml.Marshal(&f)
}

// LoadCamera はレイアウト記述ファイルを読み込む
func LoadCamera(fsys fsutil.FileSystem, path string) (CameraConfig, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("レイアウト記述の読み込みに失敗: %w", err)
	}
	cfg, err := ParseCamera(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveCamera はレイアウト記述ファイルを書き込む
func SaveCamera(fsys fsutil.FileSystem, path string, cfg CameraConfig) error {
	data, err := MarshalCamera(cfg)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("レイアウト記述の書き込みに失敗: %w", err)
	}
	return nil
}
