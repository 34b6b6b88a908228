// Package calibgrid はレンズ歪み補正用の格子（キャリブレーショングリッド）を扱う
//
// 格子は画像上に等間隔に並べた制御点ごとの変位を持つ。
// 変位の単位は制御点の間隔（1.0 = 1マス）で、(0,0)は未計測を意味する。
package calibgrid

import (
	"fmt"
	"math"
)

// Point は制御点の変位
type Point struct {
	X float64
	Y float64
}

// IsZero は未計測（変位なし）かを返す
func (p Point) IsZero() bool { return p.X == 0 && p.Y == 0 }

// Grid はCountX x CountYの制御点の変位を持つ
type Grid struct {
	countX int
	countY int
	points []Point
}

// 格子の制御点数の基本値。横長の画像では列を増やす
const (
	baseCount   = 6
	wideAspect  = 1.3
	ultraAspect = 1.7
)

// Size は画像の縦横比から制御点の列数と行数を決める
func Size(width, height int) (countX, countY int) {
	countX, countY = baseCount, baseCount
	if height <= 0 {
		return countX, countY
	}
	aspect := float64(width) / float64(height)
	if aspect > wideAspect {
		countX += 2
	}
	if aspect > ultraAspect {
		countX += 2
	}
	return countX, countY
}

// New は全点が未計測の格子を作成する。各方向2点未満は2点に切り上げる
func New(countX, countY int) *Grid {
	countX, countY = max(countX, 2), max(countY, 2)
	return &Grid{
		countX: countX,
		countY: countY,
		points: make([]Point, countX*countY),
	}
}

// NewForFrame は画像サイズに合わせた空の格子を作成する
func NewForFrame(width, height int) *Grid {
	return New(Size(width, height))
}

// CountX は列数を返す
func (g *Grid) CountX() int { return g.countX }

// CountY は行数を返す
func (g *Grid) CountY() int { return g.countY }

func (g *Grid) index(x, y int) (int, error) {
	if x < 0 || x >= g.countX || y < 0 || y >= g.countY {
		return 0, fmt.Errorf("制御点が範囲外です: (%d,%d) / %dx%d", x, y, g.countX, g.countY)
	}
	return y*g.countX + x, nil
}

// Set は制御点の変位を設定する
func (g *Grid) Set(x, y int, p Point) error {
	i, err := g.index(x, y)
	if err != nil {
		return err
	}
	g.points[i] = p
	return nil
}

// Get は制御点の変位を返す。範囲外はゼロ
func (g *Grid) Get(x, y int) Point {
	i, err := g.index(x, y)
	if err != nil {
		return Point{}
	}
	return g.points[i]
}

// ResetPoint は制御点を未計測に戻す
func (g *Grid) ResetPoint(x, y int) {
	if i, err := g.index(x, y); err == nil {
		g.points[i] = Point{}
	}
}

// Reset は全ての制御点を未計測に戻す
func (g *Grid) Reset() {
	clear(g.points)
}

// IsEmpty は計測済みの点が1つもないかを返す
func (g *Grid) IsEmpty() bool {
	for _, p := range g.points {
		if !p.IsZero() {
			return false
		}
	}
	return true
}

// Measured は計測済みの点の数を返す
func (g *Grid) Measured() int {
	n := 0
	for _, p := range g.points {
		if !p.IsZero() {
			n++
		}
	}
	return n
}

// Interpolate は格子座標(x, y)の変位を周囲4点から双線形補間する
//
// x, yは制御点単位の座標で、範囲外は端に寄せる。制御点上では設定値そのものを返す。
func (g *Grid) Interpolate(x, y float64) Point {
	x = clampFloat(x, 0, float64(g.countX-1))
	y = clampFloat(y, 0, float64(g.countY-1))

	ix := min(int(math.Floor(x)), g.countX-2)
	iy := min(int(math.Floor(y)), g.countY-2)
	fx, fy := x-float64(ix), y-float64(iy)

	p00 := g.points[iy*g.countX+ix]
	p10 := g.points[iy*g.countX+ix+1]
	p01 := g.points[(iy+1)*g.countX+ix]
	p11 := g.points[(iy+1)*g.countX+ix+1]

	return Point{
		X: lerp2(p00.X, p10.X, p01.X, p11.X, fx, fy),
		Y: lerp2(p00.Y, p10.Y, p01.Y, p11.Y, fx, fy),
	}
}

func lerp2(v00, v10, v01, v11, fx, fy float64) float64 {
	switch {
	case v00 == v10 && v00 == v01 && v00 == v11:
		return v00
	case fx == 0 && fy == 0:
		return v00
	case fx == 1 && fy == 0:
		return v10
	case fx == 0 && fy == 1:
		return v01
	case fx == 1 && fy == 1:
		return v11
	}
	top := v00*(1-fx) + v10*fx
	bottom := v01*(1-fx) + v11*fx
	return top*(1-fy) + bottom*fy
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clone はコピーを返す
func (g *Grid) Clone() *Grid {
	c := &Grid{countX: g.countX, countY: g.countY, points: make([]Point, len(g.points))}
	copy(c.points, g.points)
	return c
}
