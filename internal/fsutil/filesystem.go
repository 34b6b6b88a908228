// Package fsutil はファイル操作を差し替え可能にする
//
// キャリブレーショングリッドやカメラレイアウトの保存処理を、
// テストではメモリ上で完結させるために使う。
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// FileSystem はファイル操作の抽象
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Rename(oldName, newName string) error
	Remove(name string) error
	MkdirAll(dir string, perm os.FileMode) error
	ReadDir(dir string) ([]string, error)
	Exists(name string) bool
}

// OSFileSystem は実ファイルシステムを使うFileSystem
type OSFileSystem struct{}

// ReadFile はファイルを読み込む
func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// WriteFile はファイルに書き込む
func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// Rename はファイル名を変更する
func (OSFileSystem) Rename(oldName, newName string) error { return os.Rename(oldName, newName) }

// Remove はファイルを削除する
func (OSFileSystem) Remove(name string) error { return os.Remove(name) }

// MkdirAll はディレクトリを作成する
func (OSFileSystem) MkdirAll(dir string, perm os.FileMode) error { return os.MkdirAll(dir, perm) }

// ReadDir はディレクトリ内のファイル名を名前順で返す（サブディレクトリは除く）
func (OSFileSystem) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Exists はファイルが存在するかを返す
func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem はテスト用のメモリ上のFileSystem
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryFileSystem は空のMemoryFileSystemを作成する
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(map[string][]byte)}
}

// ReadFile はファイルを読み込む
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[path.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile はファイルに書き込む
func (m *MemoryFileSystem) WriteFile(name string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[path.Clean(name)] = buf
	return nil
}

// Rename はファイル名を変更する
func (m *MemoryFileSystem) Rename(oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[path.Clean(oldName)]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldName, Err: fs.ErrNotExist}
	}
	delete(m.files, path.Clean(oldName))
	m.files[path.Clean(newName)] = data
	return nil
}

// Remove はファイルを削除する
func (m *MemoryFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path.Clean(name)]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(m.files, path.Clean(name))
	return nil
}

// MkdirAll はメモリ上では何もしない
func (m *MemoryFileSystem) MkdirAll(string, os.FileMode) error { return nil }

// ReadDir はdir直下のファイル名を名前順で返す
func (m *MemoryFileSystem) ReadDir(dir string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := path.Clean(dir) + "/"
	var names []string
	for name := range m.files {
		rest, ok := strings.CutPrefix(name, prefix)
		if ok && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	if len(names) == 0 {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}
	sort.Strings(names)
	return names, nil
}

// Exists はファイルが存在するかを返す
func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path.Clean(name)]
	return ok
}

// IsNotExist はファイルが存在しないことを示すエラーかを返す
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
