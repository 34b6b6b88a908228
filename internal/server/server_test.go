package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"shikai/internal/calibration"
	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/vision"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct {
	mu       sync.Mutex
	status   vision.Status
	snap     vision.Snapshot
	keys     []calibration.Key
	keyErr   error
	controls camera.Controls
}

func (f *fakeEngine) Status() vision.Status { return f.status }

func (f *fakeEngine) Snapshot() vision.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) SendKey(k calibration.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keyErr != nil {
		return f.keyErr
	}
	f.keys = append(f.keys, k)
	return nil
}

func (f *fakeEngine) Controls() camera.Controls {
	if f.controls == nil {
		return nil
	}
	return f.controls
}

type fakeBlobs struct {
	got []calibration.Blob
}

func (f *fakeBlobs) Set(blobs []calibration.Blob) { f.got = blobs }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Second
	return cfg
}

func grayFrame(w, h int, fill byte) vision.Snapshot {
	data := bytes.Repeat([]byte{fill}, w*h)
	return vision.Snapshot{
		Seq:   1,
		Time:  time.Now(),
		Image: vision.Image{Data: data, Width: w, Height: h, Format: camera.FormatGray},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv := New(testConfig(), &fakeEngine{}, nil)

	addr, err := srv.Listen()
	if err != nil {
		t.Fatalf("リッスンに失敗しました: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// 起動を待ってからヘルスチェックを呼ぶ
	url := fmt.Sprintf("http://%s/health", addr)
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("ヘルスチェックに失敗しました: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

func TestStatusEndpoints(t *testing.T) {
	eng := &fakeEngine{status: vision.Status{
		ID:      "engine-1",
		Running: true,
		Width:   640,
		Height:  480,
		Cameras: 1,
		Calibration: calibration.Status{
			Active: true,
			Step:   "bounding",
		},
	}}
	h := New(testConfig(), eng, nil).Handler()

	t.Run("状態を返す", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/api/status", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d", w.Code)
		}
		var resp StatusResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSONの解析に失敗: %v", err)
		}
		if resp.Status != "running" || resp.Engine.ID != "engine-1" || resp.Engine.Width != 640 {
			t.Errorf("想定外の応答: %+v", resp)
		}
	})

	t.Run("キャリブレーション状態と操作説明を返す", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/api/calibration", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d", w.Code)
		}
		var resp CalibrationResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSONの解析に失敗: %v", err)
		}
		if !resp.Active || resp.Step != "bounding" {
			t.Errorf("想定外の状態: %+v", resp.Status)
		}
		if len(resp.Help) != len(calibration.Help()) {
			t.Errorf("操作説明の行数 = %d", len(resp.Help))
		}
	})

	t.Run("停止中", func(t *testing.T) {
		h := New(testConfig(), &fakeEngine{}, nil).Handler()
		w := do(t, h, http.MethodGet, "/api/status", "")
		if !strings.Contains(w.Body.String(), `"status":"stopped"`) {
			t.Errorf("応答 = %s", w.Body.String())
		}
	})

	t.Run("ルートはHTMLを返す", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/", "")
		if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
			t.Errorf("ステータスコード = %d, Content-Type = %s", w.Code, w.Header().Get("Content-Type"))
		}
	})
}

func TestPostKey(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		keyErr error
		want   int
		key    calibration.Key
	}{
		{name: "受け付ける", body: `{"key":"C"}`, want: http.StatusAccepted, key: calibration.KeyToggle},
		{name: "returnはenter", body: `{"key":"return"}`, want: http.StatusAccepted, key: calibration.KeyEnter},
		{name: "不明なキー", body: `{"key":"z"}`, want: http.StatusBadRequest},
		{name: "キーなし", body: `{}`, want: http.StatusBadRequest},
		{name: "不正なJSON", body: `{`, want: http.StatusBadRequest},
		{name: "キューが満杯", body: `{"key":"c"}`, keyErr: vision.ErrKeyQueueFull, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{keyErr: tt.keyErr}
			h := New(testConfig(), eng, nil).Handler()

			w := do(t, h, http.MethodPost, "/api/keys", tt.body)
			if w.Code != tt.want {
				t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusAccepted {
				var resp ErrorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error == "" {
					t.Errorf("エラー応答の形式が不正: %s", w.Body.String())
				}
				return
			}
			if len(eng.keys) != 1 || eng.keys[0] != tt.key {
				t.Errorf("送られたキー = %v, want %v", eng.keys, tt.key)
			}
		})
	}
}

func TestPutBlobs(t *testing.T) {
	t.Run("ブロブを渡す", func(t *testing.T) {
		blobs := &fakeBlobs{}
		h := New(testConfig(), &fakeEngine{}, blobs).Handler()

		w := do(t, h, http.MethodPut, "/api/blobs", `{"blobs":[{"id":3,"x":1.5,"y":2}]}`)
		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード = %d: %s", w.Code, w.Body.String())
		}
		want := calibration.Blob{ID: 3, X: 1.5, Y: 2}
		if len(blobs.got) != 1 || blobs.got[0] != want {
			t.Errorf("ブロブ = %+v", blobs.got)
		}
	})

	t.Run("入力先がなければ未対応", func(t *testing.T) {
		h := New(testConfig(), &fakeEngine{}, nil).Handler()
		w := do(t, h, http.MethodPut, "/api/blobs", `{"blobs":[]}`)
		if w.Code != http.StatusNotImplemented {
			t.Errorf("ステータスコード = %d", w.Code)
		}
	})
}

func TestGetFrame(t *testing.T) {
	t.Run("フレームがなければ503", func(t *testing.T) {
		h := New(testConfig(), &fakeEngine{}, nil).Handler()
		w := do(t, h, http.MethodGet, "/api/frame.jpg", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d", w.Code)
		}
	})

	eng := &fakeEngine{snap: grayFrame(40, 20, 100)}
	eng.snap.Shapes = []calibration.Shape{{Kind: calibration.ShapeEllipse, X: 10, Y: 10, W: 5, H: 5, Color: calibration.ColorGreen}}
	h := New(testConfig(), eng, nil).Handler()

	tests := []struct {
		name  string
		query string
		want  int
		w, h  int
	}{
		{name: "元の大きさ", query: "", want: http.StatusOK, w: 40, h: 20},
		{name: "縮小", query: "?width=20", want: http.StatusOK, w: 20, h: 10},
		{name: "拡大はしない", query: "?width=80", want: http.StatusOK, w: 40, h: 20},
		{name: "不正な幅", query: "?width=abc", want: http.StatusBadRequest},
		{name: "負の幅", query: "?width=-1", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/api/frame.jpg"+tt.query, "")
			if w.Code != tt.want {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
				t.Errorf("Content-Type = %s", ct)
			}
			img, err := jpeg.Decode(w.Body)
			if err != nil {
				t.Fatalf("JPEGの解析に失敗: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
				t.Errorf("大きさ = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.w, tt.h)
			}
		})
	}
}

func TestGetOverlay(t *testing.T) {
	eng := &fakeEngine{snap: grayFrame(8, 6, 0)}
	eng.snap.Blobs = []calibration.Blob{{ID: 1, X: 2, Y: 3}}
	h := New(testConfig(), eng, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/calibration/overlay", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d", w.Code)
	}
	var resp OverlayResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("JSONの解析に失敗: %v", err)
	}
	if resp.Seq != 1 || resp.Width != 8 || resp.Height != 6 {
		t.Errorf("想定外の応答: %+v", resp)
	}
	if resp.Shapes == nil || len(resp.Shapes) != 0 {
		t.Errorf("図形は空の配列であるべき: %s", w.Body.String())
	}
	if len(resp.Blobs) != 1 {
		t.Errorf("ブロブ数 = %d", len(resp.Blobs))
	}
}

func TestStream(t *testing.T) {
	eng := &fakeEngine{snap: grayFrame(8, 6, 50)}
	srv := httptest.NewServer(New(testConfig(), eng, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("リクエストに失敗: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %s", ct)
	}
	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("読み込みに失敗: %v", err)
	}
	if !strings.HasPrefix(string(buf[:n]), "--frame") {
		t.Errorf("先頭 = %q", buf[:n])
	}
}

func TestControls(t *testing.T) {
	t.Run("カメラがなければ503", func(t *testing.T) {
		h := New(testConfig(), &fakeEngine{}, nil).Handler()
		if w := do(t, h, http.MethodGet, "/api/camera/controls", ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d", w.Code)
		}
		if w := do(t, h, http.MethodPut, "/api/camera/controls/brightness", `{"value":1}`); w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード = %d", w.Code)
		}
	})

	t.Run("一覧", func(t *testing.T) {
		mock := camera.NewMockSource(4, 4, camera.FormatGray, 0)
		h := New(testConfig(), &fakeEngine{controls: mock}, nil).Handler()

		w := do(t, h, http.MethodGet, "/api/camera/controls", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d", w.Code)
		}
		var resp struct {
			Controls []ControlResponse `json:"controls"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSONの解析に失敗: %v", err)
		}
		if len(resp.Controls) != 2 {
			t.Fatalf("調整項目数 = %d: %s", len(resp.Controls), w.Body.String())
		}
		for _, c := range resp.Controls {
			switch c.Name {
			case camera.ControlBrightness.String():
				if c.Value != 128 || c.Max != 255 || c.Auto != nil {
					t.Errorf("明るさ = %+v", c)
				}
			case camera.ControlGain.String():
				if c.Auto == nil || *c.Auto {
					t.Errorf("ゲインの自動調整 = %+v", c.Auto)
				}
			default:
				t.Errorf("想定外の項目: %s", c.Name)
			}
		}
	})

	tests := []struct {
		name  string
		path  string
		body  string
		want  int
		check func(t *testing.T, m *camera.MockSource)
	}{
		{
			name: "値を設定",
			path: "brightness", body: `{"value":300}`, want: http.StatusOK,
			check: func(t *testing.T, m *camera.MockSource) {
				if v, _ := m.Control(camera.ControlBrightness); v != 255 {
					t.Errorf("明るさ = %d, want 255", v)
				}
			},
		},
		{
			name: "自動調整を有効化",
			path: "gain", body: `{"auto":true}`, want: http.StatusOK,
			check: func(t *testing.T, m *camera.MockSource) {
				if on, _ := m.Auto(camera.ControlGain); !on {
					t.Error("自動調整が有効になっていない")
				}
			},
		},
		{
			name: "既定値に戻す",
			path: "brightness", body: `{"default":true}`, want: http.StatusOK,
			check: func(t *testing.T, m *camera.MockSource) {
				if v, _ := m.Control(camera.ControlBrightness); v != 128 {
					t.Errorf("明るさ = %d, want 128", v)
				}
			},
		},
		{name: "自動調整のない項目", path: "brightness", body: `{"auto":true}`, want: http.StatusBadRequest},
		{name: "未対応の項目", path: "contrast", body: `{"value":1}`, want: http.StatusNotFound},
		{name: "不明な項目", path: "nothing", body: `{"value":1}`, want: http.StatusNotFound},
		{name: "指定なし", path: "brightness", body: `{}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := camera.NewMockSource(4, 4, camera.FormatGray, 0)
			if tt.name == "既定値に戻す" {
				_ = mock.SetControl(camera.ControlBrightness, 10)
			}
			h := New(testConfig(), &fakeEngine{controls: mock}, nil).Handler()

			w := do(t, h, http.MethodPut, "/api/camera/controls/"+tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, mock)
			}
		})
	}
}
