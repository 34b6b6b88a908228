package multicam

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shikai/internal/camera"
	"shikai/internal/config"
)

// mockOpener はデバイス番号を画素値にしたMockSourceを作る
func mockOpener(created map[int]*camera.MockSource) Opener {
	return func(_ context.Context, cell config.GridCell) (camera.Source, error) {
		d := cell.Device
		src := camera.NewMockSource(d.Width, d.Height, d.OutputFormat(), byte(d.Device+1))
		created[d.Device] = src
		return src, nil
	}
}

func TestComposerFrame(t *testing.T) {
	ctx := context.Background()
	created := map[int]*camera.MockSource{}

	c, err := New(grid2x2(3, 2), mockOpener(created))
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Start(ctx))

	assert.Equal(t, 6, c.Width())
	assert.Equal(t, 4, c.Height())
	assert.Equal(t, camera.FormatGray, c.Format())

	frame, err := c.Frame(ctx)
	require.NoError(t, err)
	assert.True(t, c.Valid())

	want := []byte{
		1, 1, 1, 2, 2, 2,
		1, 1, 1, 2, 2, 2,
		3, 3, 3, 4, 4, 4,
		3, 3, 3, 4, 4, 4,
	}
	assert.Equal(t, want, frame)

	assert.Equal(t, 3, c.CellAt(4, 3))
	assert.Len(t, c.Children(), 4)
}

// gradient はデバイスと位置ごとに異なる値のフレームを作る
func gradient(device, size int) []byte {
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = byte(device*61 + i*7 + 1)
	}
	return frame
}

func TestComposerFrameGradient(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
		w, h       int
	}{
		{name: "1行3列", rows: 1, cols: 3, w: 4, h: 3},
		{name: "3行1列", rows: 3, cols: 1, w: 5, h: 2},
		{name: "2行3列", rows: 2, cols: 3, w: 3, h: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			created := map[int]*camera.MockSource{}

			grid := &config.GridConfig{}
			for row := 0; row < tt.rows; row++ {
				for col := 0; col < tt.cols; col++ {
					d := dev(row*tt.cols+col, tt.w, tt.h)
					d.Color = true
					grid.Cells = append(grid.Cells, config.GridCell{Row: row, Col: col, Device: d})
				}
			}

			c, err := New(grid, mockOpener(created))
			require.NoError(t, err)
			require.NoError(t, c.Init(ctx))
			require.NoError(t, c.Start(ctx))
			require.Equal(t, camera.FormatRGB, c.Format())

			const bpp = 3
			for id, src := range created {
				src.SetFrame(gradient(id, tt.w*tt.h*bpp))
			}

			frame, err := c.Frame(ctx)
			require.NoError(t, err)
			require.Len(t, frame, tt.cols*tt.w*tt.rows*tt.h*bpp)

			width := tt.cols * tt.w
			mismatches := 0
			for y := 0; y < tt.rows*tt.h; y++ {
				for x := 0; x < width; x++ {
					id := (y/tt.h)*tt.cols + x/tt.w
					src := gradient(id, tt.w*tt.h*bpp)
					for ch := 0; ch < bpp; ch++ {
						want := src[((y%tt.h)*tt.w+x%tt.w)*bpp+ch]
						if got := frame[(y*width+x)*bpp+ch]; got != want {
							mismatches++
						}
					}
				}
			}
			assert.Zero(t, mismatches)
		})
	}
}

func TestComposerFrameFailure(t *testing.T) {
	ctx := context.Background()
	created := map[int]*camera.MockSource{}

	c, err := New(grid2x2(2, 2), mockOpener(created))
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Start(ctx))

	created[2].SetShouldFailFrame(true)
	_, err = c.Frame(ctx)
	assert.ErrorIs(t, err, camera.ErrNoFrame)
	assert.False(t, c.Valid())

	created[2].SetShouldFailFrame(false)
	_, err = c.Frame(ctx)
	assert.NoError(t, err)
	assert.True(t, c.Valid())
}

func TestComposerInitFailureClosesOpened(t *testing.T) {
	ctx := context.Background()
	var opened []*camera.MockSource
	open := func(_ context.Context, cell config.GridCell) (camera.Source, error) {
		src := camera.NewMockSource(2, 2, camera.FormatGray, 0)
		if cell.Device.Device == 2 {
			src.SetShouldFailInit(true)
		}
		opened = append(opened, src)
		return src, nil
	}

	c, err := New(grid2x2(2, 2), open)
	require.NoError(t, err)
	require.Error(t, c.Init(ctx))

	require.Len(t, opened, 3, "失敗したカメラ以降は開かない")
	for _, src := range opened[:2] {
		_, _, _, _, closes, _ := src.Calls()
		assert.Equal(t, 1, closes)
	}
	_, err = c.Frame(ctx)
	assert.ErrorIs(t, err, camera.ErrNotInitialized)
}

func TestComposerInitChecksActualSize(t *testing.T) {
	ctx := context.Background()
	g := &config.GridConfig{Cells: []config.GridCell{
		{Row: 0, Col: 0, Device: dev(0, 0, 0)},
		{Row: 0, Col: 1, Device: dev(1, 0, 0)},
	}}
	open := func(_ context.Context, cell config.GridCell) (camera.Source, error) {
		return camera.NewMockSource(4, 2+cell.Device.Device, camera.FormatGray, 0), nil
	}

	c, err := New(g, open)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Init(ctx), ErrColumnHeight)
}

func TestComposerOpenError(t *testing.T) {
	errOpen := errors.New("open")
	c, err := New(grid2x2(2, 2), func(context.Context, config.GridCell) (camera.Source, error) {
		return nil, errOpen
	})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Init(context.Background()), errOpen)
}

func TestComposerStartFailureStopsAll(t *testing.T) {
	ctx := context.Background()
	created := map[int]*camera.MockSource{}

	c, err := New(grid2x2(2, 2), mockOpener(created))
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))

	created[3].SetShouldFailStart(true)
	require.Error(t, c.Start(ctx))
	for id, src := range created {
		_, _, stops, _, _, _ := src.Calls()
		assert.Equal(t, 1, stops, "カメラ%d", id)
	}
}

func TestComposerLifecycleFanOut(t *testing.T) {
	ctx := context.Background()
	created := map[int]*camera.MockSource{}

	c, err := New(grid2x2(2, 2), mockOpener(created))
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Start(ctx))

	created[0].SetShouldFailStop(true)
	assert.Error(t, c.Stop(ctx))
	require.NoError(t, c.Reset(ctx))
	require.NoError(t, c.Close(ctx))

	for id, src := range created {
		_, _, stops, resets, closes, _ := src.Calls()
		assert.Equal(t, 1, stops, "カメラ%d", id)
		assert.Equal(t, 1, resets, "カメラ%d", id)
		assert.Equal(t, 1, closes, "カメラ%d", id)
	}
}

func TestComposerControlsUseFirstCamera(t *testing.T) {
	ctx := context.Background()
	created := map[int]*camera.MockSource{}

	c, err := New(grid2x2(2, 2), mockOpener(created))
	require.NoError(t, err)

	assert.False(t, c.HasControl(camera.ControlBrightness))
	_, err = c.Control(camera.ControlBrightness)
	assert.ErrorIs(t, err, camera.ErrNotInitialized)

	require.NoError(t, c.Init(ctx))
	assert.True(t, c.HasControl(camera.ControlBrightness))
	require.NoError(t, c.SetControl(camera.ControlBrightness, 200))

	v, err := created[0].Control(camera.ControlBrightness)
	require.NoError(t, err)
	assert.Equal(t, 200, v)

	v, err = created[1].Control(camera.ControlBrightness)
	require.NoError(t, err)
	assert.Equal(t, 128, v)

	assert.True(t, c.HasAuto(camera.ControlGain))
	require.NoError(t, c.SetAuto(camera.ControlGain, true))
	on, err := created[0].Auto(camera.ControlGain)
	require.NoError(t, err)
	assert.True(t, on)
}
