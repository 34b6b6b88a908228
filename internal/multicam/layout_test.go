package multicam

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shikai/internal/camera"
	"shikai/internal/config"
)

func dev(id, w, h int) *config.DeviceConfig {
	return &config.DeviceConfig{Driver: camera.DriverMock, Device: id, Width: w, Height: h}
}

func grid2x2(w, h int) *config.GridConfig {
	return &config.GridConfig{Cells: []config.GridCell{
		{Row: 1, Col: 1, Device: dev(3, w, h)},
		{Row: 0, Col: 0, Device: dev(0, w, h)},
		{Row: 1, Col: 0, Device: dev(2, w, h)},
		{Row: 0, Col: 1, Device: dev(1, w, h)},
	}}
}

func TestCheckLayout(t *testing.T) {
	t.Run("2x2は行優先で並ぶ", func(t *testing.T) {
		l, err := CheckLayout(grid2x2(4, 2))
		require.NoError(t, err)
		assert.Equal(t, 2, l.Cols)
		assert.Equal(t, 2, l.Rows)
		require.Equal(t, 4, l.Len())
		for i, cell := range l.Cells {
			assert.Equal(t, i, cell.Device.Device)
		}
	})

	cases := []struct {
		name string
		grid *config.GridConfig
		want error
	}{
		{"空", &config.GridConfig{}, ErrEmptyLayout},
		{"nil", nil, ErrEmptyLayout},
		{"負の位置", &config.GridConfig{Cells: []config.GridCell{{Row: -1, Col: 0, Device: dev(0, 4, 2)}}}, ErrNegativeCell},
		{"重複", &config.GridConfig{Cells: []config.GridCell{
			{Row: 0, Col: 0, Device: dev(0, 4, 2)},
			{Row: 0, Col: 0, Device: dev(1, 4, 2)},
		}}, ErrDuplicateCell},
		{"空き", &config.GridConfig{Cells: []config.GridCell{
			{Row: 0, Col: 0, Device: dev(0, 4, 2)},
			{Row: 1, Col: 1, Device: dev(1, 4, 2)},
		}}, ErrLayoutGap},
		{"列の高さ不一致", &config.GridConfig{Cells: []config.GridCell{
			{Row: 0, Col: 0, Device: dev(0, 4, 2)},
			{Row: 1, Col: 0, Device: dev(1, 4, 3)},
		}}, ErrColumnHeight},
		{"行の幅不一致", &config.GridConfig{Cells: []config.GridCell{
			{Row: 0, Col: 0, Device: dev(0, 4, 2)},
			{Row: 0, Col: 1, Device: dev(1, 5, 2)},
		}}, ErrRowWidth},
		{"形式不一致", &config.GridConfig{Cells: []config.GridCell{
			{Row: 0, Col: 0, Device: dev(0, 4, 2)},
			{Row: 0, Col: 1, Device: &config.DeviceConfig{Driver: camera.DriverMock, Width: 4, Height: 2, Color: true}},
		}}, ErrFormatMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CheckLayout(tc.grid)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("サイズ未指定のカメラは開くまで検証しない", func(t *testing.T) {
		g := &config.GridConfig{Cells: []config.GridCell{
			{Row: 0, Col: 0, Device: dev(0, 4, 2)},
			{Row: 0, Col: 1, Device: dev(1, 0, 0)},
		}}
		_, err := CheckLayout(g)
		assert.NoError(t, err)
	})
}

func TestLayoutCells(t *testing.T) {
	l := Layout{Cols: 3, Rows: 2}

	assert.Equal(t, 0, l.CellAt(0, 0, 10, 5))
	assert.Equal(t, 2, l.CellAt(25, 4, 10, 5))
	assert.Equal(t, 4, l.CellAt(15, 7, 10, 5))
	assert.Equal(t, 5, l.CellAt(100, 100, 10, 5), "範囲外は端のセルに丸める")

	assert.Equal(t, image.Rect(10, 5, 20, 10), l.CellRect(4, 10, 5))
	assert.Equal(t, image.Rect(0, 0, 10, 5), l.CellRect(0, 10, 5))
}
