package calibration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDwell(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	one := []Blob{{ID: 1, X: 10, Y: 10}}

	t.Run("1つのブロブの滞留時間を計る", func(t *testing.T) {
		var d dwell
		_, elapsed, ok := d.observe(one, t0)
		assert.True(t, ok)
		assert.Zero(t, elapsed)

		b, elapsed, ok := d.observe(one, t0.Add(2*time.Second))
		assert.True(t, ok)
		assert.Equal(t, int64(1), b.ID)
		assert.Equal(t, 2*time.Second, elapsed)
	})

	t.Run("ブロブが0個や複数になると計測をやめる", func(t *testing.T) {
		var d dwell
		d.observe(one, t0)

		_, _, ok := d.observe(nil, t0.Add(time.Second))
		assert.False(t, ok)
		_, elapsed, _ := d.observe(one, t0.Add(2*time.Second))
		assert.Zero(t, elapsed)

		two := []Blob{{ID: 1}, {ID: 2}}
		_, _, ok = d.observe(two, t0.Add(3*time.Second))
		assert.False(t, ok)
		_, elapsed, _ = d.observe(one, t0.Add(4*time.Second))
		assert.Zero(t, elapsed)
	})

	t.Run("別のブロブに変わると計測をやり直す", func(t *testing.T) {
		var d dwell
		d.observe(one, t0)
		_, elapsed, ok := d.observe([]Blob{{ID: 2}}, t0.Add(2*time.Second))
		assert.True(t, ok)
		assert.Zero(t, elapsed)
	})

	t.Run("確定後はブロブが離れるまで計測しない", func(t *testing.T) {
		var d dwell
		d.observe(one, t0)
		d.submit()

		_, _, ok := d.observe(one, t0.Add(5*time.Second))
		assert.False(t, ok)

		d.observe(nil, t0.Add(6*time.Second))
		_, elapsed, ok := d.observe(one, t0.Add(7*time.Second))
		assert.True(t, ok)
		assert.Zero(t, elapsed)
	})
}
