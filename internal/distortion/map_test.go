package distortion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shikai/internal/calibgrid"
)

func TestBuild_EmptyGridIsIdentity(t *testing.T) {
	assert.Nil(t, Build(nil, 64, 48, 64, 48))
	assert.Nil(t, Build(calibgrid.New(6, 6), 64, 48, 64, 48))

	var m *Map
	dx, dy := m.At(3, 3)
	assert.Zero(t, dx)
	assert.Zero(t, dy)
	assert.Zero(t, m.Nonzero())
}

func TestBuild_UniformShift(t *testing.T) {
	// 全点に0.1マスの変位を与えると、全画素が同じだけずれる
	g := calibgrid.New(6, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			require.NoError(t, g.Set(x, y, calibgrid.Point{X: 0.1, Y: -0.2}))
		}
	}

	const w, h = 100, 50
	m := Build(g, w, h, w, h)
	require.NotNil(t, m)
	assert.Equal(t, w, m.Width())
	assert.Equal(t, h, m.Height())

	// マス幅20px, 高さ10px → (2, -2)
	dx, dy := m.At(50, 25)
	assert.Equal(t, 2, dx)
	assert.Equal(t, -2, dy)

	// 変位先が入力の外になる画素は変位なし
	dx, dy = m.At(99, 25)
	assert.Zero(t, dx)
	assert.Zero(t, dy)
	dx, dy = m.At(50, 0)
	assert.Zero(t, dx)
	assert.Zero(t, dy)
}

func TestBuild_SinglePoint(t *testing.T) {
	g := calibgrid.New(3, 3)
	require.NoError(t, g.Set(1, 1, calibgrid.Point{X: 0.5, Y: 0}))

	m := Build(g, 40, 40, 40, 40)
	require.NotNil(t, m)

	// 中央の制御点（マス幅20px）で10px
	dx, dy := m.At(20, 20)
	assert.Equal(t, 10, dx)
	assert.Zero(t, dy)

	// 角の制御点は変位なし
	dx, _ = m.At(0, 0)
	assert.Zero(t, dx)

	// 中間は補間される: x=10 → 0.25マス → 5px
	dx, _ = m.At(10, 20)
	assert.Equal(t, 5, dx)

	assert.Positive(t, m.Nonzero())
	assert.Len(t, m.Row(20), 40)
}

func TestBuild_RespectsSourceBounds(t *testing.T) {
	g := calibgrid.New(2, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			require.NoError(t, g.Set(x, y, calibgrid.Point{X: 0.5}))
		}
	}

	// 出力より入力が広い場合は範囲内に収まる
	m := Build(g, 10, 10, 20, 10)
	dx, _ := m.At(9, 0)
	assert.Equal(t, 5, dx)

	// 入力が同じ幅なら右端は変位なし
	m = Build(g, 10, 10, 10, 10)
	dx, _ = m.At(9, 0)
	assert.Zero(t, dx)
	dx, _ = m.At(4, 0)
	assert.Equal(t, 5, dx)
}
