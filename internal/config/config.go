package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"shikai/internal/camera"
	"shikai/internal/fsutil"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Camera      CameraSection     `yaml:"camera"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Engine      EngineConfig      `yaml:"engine"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraSection はカメラ関連の設定
//
// LayoutFileが指定されていればそのレイアウト記述を使い、
// なければ単体カメラの既定設定から構成する。
type CameraSection struct {
	LayoutFile string `yaml:"layout_file"` // カメラレイアウト記述（YAML）

	// 既定の単体カメラ
	Driver string  `yaml:"driver"`
	Device int     `yaml:"device"`
	Path   string  `yaml:"path"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FPS    float64 `yaml:"fps"`
	Format string  `yaml:"format"`
	Color  bool    `yaml:"color"`
}

// CalibrationConfig はキャリブレーションの設定
type CalibrationConfig struct {
	ResourceDir string `yaml:"resource_dir"` // グリッドファイルの保存先
	GridFile    string `yaml:"grid_file"`    // 単体カメラ用のグリッドファイル名
}

// EngineConfig はキャプチャループの設定
type EngineConfig struct {
	IdleBackoff     time.Duration `yaml:"idle_backoff"`     // フレームが得られなかった時の待機
	SnapshotQuality int           `yaml:"snapshot_quality"` // スナップショットのJPEG品質
}

// Default は既定値の設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraSection{
			Driver: string(camera.DriverV4L2),
			Device: 0,
			Width:  640,
			Height: 480,
			FPS:    30,
			Format: camera.FormatYUYV.String(),
		},
		Calibration: CalibrationConfig{
			ResourceDir: DefaultResourceDir(),
			GridFile:    "calibration.grid",
		},
		Engine: EngineConfig{
			IdleBackoff:     10 * time.Millisecond,
			SnapshotQuality: 80,
		},
	}
}

// Load は設定を読み込む
//
// 既定値、SHIKAI_CONFIGのYAMLファイル、環境変数の順に上書きする。
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SHIKAI_CONFIG"); path != "" {
		if err := cfg.mergeFile(fsutil.OSFileSystem{}, path); err != nil {
			return nil, err
		}
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Camera.LayoutFile = getEnvOrDefault("SHIKAI_CAMERA_CONFIG", cfg.Camera.LayoutFile)
	cfg.Calibration.ResourceDir = getEnvOrDefault("SHIKAI_RESOURCE_DIR", cfg.Calibration.ResourceDir)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile は既定値にYAMLファイルの内容を重ねた設定を返す
func LoadFile(fsys fsutil.FileSystem, path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(fsys, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(fsys fsutil.FileSystem, path string) error {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	// カメラ設定の検証
	if c.Camera.LayoutFile == "" {
		if _, err := c.Camera.DefaultDevice(); err != nil {
			errs = append(errs, err)
		}
	}

	// キャリブレーション設定の検証
	if c.Calibration.ResourceDir == "" {
		errs = append(errs, errors.New("リソースディレクトリが指定されていません"))
	}
	if c.Calibration.GridFile == "" {
		errs = append(errs, errors.New("グリッドファイル名が指定されていません"))
	}

	// エンジン設定の検証
	if c.Engine.IdleBackoff < 0 {
		errs = append(errs, fmt.Errorf("無効な待機時間: %v", c.Engine.IdleBackoff))
	}
	if c.Engine.SnapshotQuality < 1 || c.Engine.SnapshotQuality > 100 {
		errs = append(errs, fmt.Errorf("無効なJPEG品質: %d", c.Engine.SnapshotQuality))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultDevice は既定の単体カメラ設定を返す
func (s CameraSection) DefaultDevice() (*DeviceConfig, error) {
	format, err := camera.ParseFormat(s.Format)
	if err != nil {
		return nil, err
	}
	if s.Width < 0 || s.Height < 0 {
		return nil, fmt.Errorf("無効なキャプチャサイズ: %dx%d", s.Width, s.Height)
	}
	return &DeviceConfig{
		Driver: camera.Driver(s.Driver),
		Device: s.Device,
		Path:   s.Path,
		Width:  s.Width,
		Height: s.Height,
		FPS:    s.FPS,
		Format: format,
		Color:  s.Color,
	}, nil
}

// GridPath はグリッドファイルのパスを返す。相対パスはリソースディレクトリ基準
func (c CalibrationConfig) GridPath(name string) string {
	if name == "" {
		name = c.GridFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ResourceDir, name)
}

// DeviceGridPath はカメラごとのグリッドファイルのパスを返す
//
// カメラ設定にファイル名があればそれを使う。格子構成で未指定なら
// 各カメラが別のファイルを持つよう、ドライバとデバイス番号から名前を作る。
func (c CalibrationConfig) DeviceGridPath(d *DeviceConfig, multi bool) string {
	if d.Calibration != "" || !multi {
		return c.GridPath(d.Calibration)
	}
	driver := d.Driver
	if driver == "" {
		driver = camera.DriverV4L2
	}
	name := fmt.Sprintf("calibration-%s-%d.grid", driver, d.Device)
	if d.Path != "" {
		name = fmt.Sprintf("calibration-%s-%s.grid", driver, filepath.Base(d.Path))
	}
	return c.GridPath(name)
}

// DefaultResourceDir はプラットフォームに応じたリソースディレクトリを返す
//
// macOSのアプリケーションバンドル内で動いている場合はContents/Resources、
// それ以外はカレントディレクトリ。
func DefaultResourceDir() string {
	if runtime.GOOS == "darwin" {
		if exe, err := os.Executable(); err == nil {
			dir := filepath.Join(filepath.Dir(exe), "..", "Resources")
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				return dir
			}
		}
	}
	return "."
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
