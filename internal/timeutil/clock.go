// Package timeutil は時刻取得を差し替え可能にする
//
// キャリブレーションの滞留判定（指を3秒置く）など、経過時間に依存する処理を
// テストから決定的に進められるようにする。
package timeutil

import (
	"sync"
	"time"
)

// Clock は時刻操作の抽象
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// RealClock は標準のtimeパッケージを使うClock
type RealClock struct{}

// Now は現在時刻を返す
func (RealClock) Now() time.Time { return time.Now() }

// Since はtからの経過時間を返す
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Sleep はdだけ待機する
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// After はd経過後に現在時刻を送るチャンネルを返す
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// MockClock はテスト用に手動で進めるClock
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	waiters []mockWaiter
}

type mockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMockClock は指定時刻で止まったMockClockを作成する
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now は現在のモック時刻を返す
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set はモック時刻を設定する
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.fire()
}

// Advance はモック時刻をdだけ進める
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fire()
}

// Since はモック時刻でのtからの経過時間を返す
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep は待機せずに時刻を進め、呼び出しを記録する
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Sleeps は記録されたSleep呼び出しを返す
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// After はモック時刻がd進んだ時点で発火するチャンネルを返す
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, mockWaiter{deadline: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	c.fire()
	return ch
}

func (c *MockClock) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !c.now.Before(w.deadline) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}
