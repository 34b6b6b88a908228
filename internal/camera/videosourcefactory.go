package camera

import (
	"fmt"
	"sort"
)

// SourceConfig はドライバに渡すソース作成設定
type SourceConfig struct {
	Device int     // デバイス番号 (/dev/videoN)
	Path   string  // デバイスパスまたは画像ディレクトリ（指定時はDeviceより優先）
	Width  int     // 要求する幅（0はドライバ既定）
	Height int     // 要求する高さ（0はドライバ既定）
	FPS    float64 // 要求するフレームレート（0はドライバ既定）
	Format Format  // 要求するピクセル形式（Unknownはドライバ既定）
}

// Creator はソース作成関数の型
type Creator func(cfg SourceConfig) (Source, error)

// Factory はドライバ種別からソースを作成する
type Factory struct {
	creators map[Driver]Creator
}

// NewFactory は標準ドライバを登録したファクトリーを作成する
func NewFactory() *Factory {
	f := &Factory{creators: make(map[Driver]Creator)}

	// V4L2デバイスの作成関数を登録
	f.Register(DriverV4L2, NewV4L2SourceFromConfig)

	// 画像ディレクトリ再生の作成関数を登録
	f.Register(DriverFolder, NewFolderSourceFromConfig)

	return f
}

// Register はソース作成関数を登録する
func (f *Factory) Register(driver Driver, creator Creator) {
	f.creators[driver] = creator
}

// Create はソースを作成する。空のドライバ名はV4L2として扱う
func (f *Factory) Create(driver Driver, cfg SourceConfig) (Source, error) {
	if driver == "" {
		driver = DriverV4L2
	}
	creator, exists := f.creators[driver]
	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバ: %s", driver)
	}
	return creator(cfg)
}

// Drivers は登録済みのドライバを名前順で返す
func (f *Factory) Drivers() []Driver {
	drivers := make([]Driver, 0, len(f.creators))
	for d := range f.creators {
		drivers = append(drivers, d)
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i] < drivers[j] })
	return drivers
}
