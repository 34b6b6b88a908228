package calibgrid

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"shikai/internal/fsutil"
)

const fileVersion = 1

// gridFile はグリッドファイルの中身。gobでエンコードしてgzipで圧縮する
type gridFile struct {
	Version int
	CountX  int
	CountY  int
	Points  []Point
}

// MarshalBinary は格子をgob+gzipに変換する。float64はそのまま保存される
func (g *Grid) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	f := gridFile{Version: fileVersion, CountX: g.countX, CountY: g.countY, Points: g.points}
	if err := enc.Encode(&f); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode はgob+gzipのデータから格子を復元する
func Decode(blob []byte) (*Grid, error) {
	if len(blob) == 0 {
		return nil, errors.New("グリッドデータが空です")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gzipの展開に失敗: %w", err)
	}
	defer gz.Close()

	var f gridFile
	if err := gob.NewDecoder(gz).Decode(&f); err != nil {
		return nil, fmt.Errorf("グリッドのデコードに失敗: %w", err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("未対応のグリッドファイルのバージョン: %d", f.Version)
	}
	if f.CountX < 2 || f.CountY < 2 || len(f.Points) != f.CountX*f.CountY {
		return nil, fmt.Errorf("グリッドの大きさが不正です: %dx%d (%d点)", f.CountX, f.CountY, len(f.Points))
	}
	return &Grid{countX: f.CountX, countY: f.CountY, points: f.Points}, nil
}

// BackupPath は保存前の内容を退避するパスを返す
func BackupPath(path string) string {
	return path + ".bak"
}

// FileStore はグリッドファイルの読み書きを行う
//
// セッション中に初めて上書きする時だけ元のファイルを退避し、
// 正常終了時のCleanupで退避ファイルを削除する。
type FileStore struct {
	fs fsutil.FileSystem

	mu      sync.Mutex
	backups map[string]struct{}
}

// NewFileStore は新しいFileStoreを作成する
func NewFileStore(fsys fsutil.FileSystem) *FileStore {
	return &FileStore{fs: fsys, backups: make(map[string]struct{})}
}

// Load はグリッドファイルを読み込む
func (s *FileStore) Load(path string) (*Grid, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("グリッドファイルの読み込みに失敗: %w", err)
	}
	g, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// LoadOrEmpty はグリッドファイルを読み込む。読めない場合は空の格子（補正なし）を返す
func (s *FileStore) LoadOrEmpty(path string, countX, countY int) *Grid {
	g, err := s.Load(path)
	if err != nil {
		if !fsutil.IsNotExist(err) {
			log.Printf("グリッドファイルを読めないため補正なしで続行します: %v", err)
		}
		return New(countX, countY)
	}
	return g
}

// Save はグリッドファイルを書き込む
func (s *FileStore) Save(path string, g *Grid) error {
	data, err := g.MarshalBinary()
	if err != nil {
		return fmt.Errorf("グリッドのエンコードに失敗: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ディレクトリの作成に失敗: %w", err)
		}
	}

	if _, done := s.backups[path]; !done && s.fs.Exists(path) {
		old, err := s.fs.ReadFile(path)
		if err != nil {
			return fmt.Errorf("既存グリッドの退避に失敗: %w", err)
		}
		if err := s.fs.WriteFile(BackupPath(path), old, 0o644); err != nil {
			return fmt.Errorf("既存グリッドの退避に失敗: %w", err)
		}
		s.backups[path] = struct{}{}
	}

	tmp := path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("グリッドファイルの書き込みに失敗: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("グリッドファイルの置き換えに失敗: %w", err)
	}
	log.Printf("キャリブレーショングリッドを保存しました: %s (%dx%d, 計測済み%d点)", path, g.countX, g.countY, g.Measured())
	return nil
}

// Cleanup は退避ファイルを削除する。正常終了時に呼ぶ
func (s *FileStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for path := range s.backups {
		if err := s.fs.Remove(BackupPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		delete(s.backups, path)
	}
	return errors.Join(errs...)
}
