// Package distortion はキャリブレーショングリッドから画素ごとの変位マップを作る
package distortion

import (
	"math"

	"shikai/internal/calibgrid"
)

// Offset は出力画素から入力画素への変位
type Offset struct {
	DX int32
	DY int32
}

// Map は出力画像の全画素の変位を持つ。作成後は変更しない
type Map struct {
	width   int
	height  int
	offsets []Offset
}

// Build は格子を補間して出力dstW x dstHの変位マップを作る
//
// 格子がnilまたは未計測なら補正なしとしてnilを返す。
// 変位先が入力srcW x srcHの範囲外になる画素は変位ゼロにする。
func Build(g *calibgrid.Grid, dstW, dstH, srcW, srcH int) *Map {
	if g == nil || g.IsEmpty() || dstW <= 0 || dstH <= 0 {
		return nil
	}

	cellW := float64(dstW) / float64(g.CountX()-1)
	cellH := float64(dstH) / float64(g.CountY()-1)

	m := &Map{width: dstW, height: dstH, offsets: make([]Offset, dstW*dstH)}
	for y := 0; y < dstH; y++ {
		row := m.offsets[y*dstW : (y+1)*dstW]
		for x := 0; x < dstW; x++ {
			p := g.Interpolate(float64(x)/cellW, float64(y)/cellH)
			dx := int(math.Floor(0.5 + p.X*cellW))
			dy := int(math.Floor(0.5 + p.Y*cellH))

			sx, sy := x+dx, y+dy
			if sx < 0 || sx >= srcW || sy < 0 || sy >= srcH {
				continue
			}
			row[x] = Offset{DX: int32(dx), DY: int32(dy)}
		}
	}
	return m
}

// Width は出力画像の幅を返す
func (m *Map) Width() int { return m.width }

// Height は出力画像の高さを返す
func (m *Map) Height() int { return m.height }

// At は出力画素(x, y)の変位を返す。範囲外はゼロ
func (m *Map) At(x, y int) (dx, dy int) {
	if m == nil || x < 0 || x >= m.width || y < 0 || y >= m.height {
		return 0, 0
	}
	o := m.offsets[y*m.width+x]
	return int(o.DX), int(o.DY)
}

// Row は出力画像のy行目の変位を返す
func (m *Map) Row(y int) []Offset {
	return m.offsets[y*m.width : (y+1)*m.width]
}

// Nonzero は変位を持つ画素の数を返す
func (m *Map) Nonzero() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, o := range m.offsets {
		if o.DX != 0 || o.DY != 0 {
			n++
		}
	}
	return n
}
