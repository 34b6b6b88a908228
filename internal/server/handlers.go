package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/image/draw"

	"shikai/internal/calibration"
	"shikai/internal/camera"
	"shikai/internal/config"
	"shikai/internal/vision"
)

// Handler はAPIエンドポイントの実装
type Handler struct {
	config *config.Config
	engine Engine
	blobs  BlobSetter
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態
type StatusResponse struct {
	Status    string        `json:"status"`
	Server    ServerInfo    `json:"server"`
	Engine    vision.Status `json:"engine"`
	Timestamp time.Time     `json:"timestamp"`
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	st := h.engine.Status()
	status := "running"
	if !st.Running {
		status = "stopped"
	}
	c.JSON(http.StatusOK, StatusResponse{
		Status:    status,
		Server:    ServerInfo{Host: h.config.Server.Host, Port: h.config.Server.Port},
		Engine:    st,
		Timestamp: time.Now(),
	})
}

// CalibrationResponse はキャリブレーションの状態と操作説明
type CalibrationResponse struct {
	calibration.Status
	Help []string `json:"help"`
}

// GetCalibration はキャリブレーション状態取得エンドポイントの実装
func (h *Handler) GetCalibration(c *gin.Context) {
	c.JSON(http.StatusOK, CalibrationResponse{
		Status: h.engine.Status().Calibration,
		Help:   calibration.Help(),
	})
}

// OverlayResponse は最新フレームのフィードバック表示
type OverlayResponse struct {
	Seq    uint64              `json:"seq"`
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Shapes []calibration.Shape `json:"shapes"`
	Blobs  []calibration.Blob  `json:"blobs"`
}

// GetOverlay はフィードバック表示取得エンドポイントの実装
func (h *Handler) GetOverlay(c *gin.Context) {
	snap := h.engine.Snapshot()
	resp := OverlayResponse{
		Seq:    snap.Seq,
		Width:  snap.Image.Width,
		Height: snap.Image.Height,
		Shapes: snap.Shapes,
		Blobs:  snap.Blobs,
	}
	if resp.Shapes == nil {
		resp.Shapes = []calibration.Shape{}
	}
	if resp.Blobs == nil {
		resp.Blobs = []calibration.Blob{}
	}
	c.JSON(http.StatusOK, resp)
}

// KeyRequest はキー入力
type KeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// PostKey はキー入力エンドポイントの実装
func (h *Handler) PostKey(c *gin.Context) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	key, err := calibration.ParseKey(req.Key)
	if err != nil {
		abort(c, http.StatusBadRequest, "unknown_key", err.Error())
		return
	}
	if err := h.engine.SendKey(key); err != nil {
		abort(c, http.StatusServiceUnavailable, "key_queue_full", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"key": key})
}

// BlobsRequest はブロブの入力
type BlobsRequest struct {
	Blobs []calibration.Blob `json:"blobs"`
}

// PutBlobs はブロブ入力エンドポイントの実装
func (h *Handler) PutBlobs(c *gin.Context) {
	if h.blobs == nil {
		abort(c, http.StatusNotImplemented, "not_supported", "外部からのブロブ入力は無効です")
		return
	}
	var req BlobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h.blobs.Set(req.Blobs)
	c.Status(http.StatusNoContent)
}

// GetFrame は最新フレームをJPEGで返す。widthを指定すると縮小する
func (h *Handler) GetFrame(c *gin.Context) {
	width := 0
	if v := c.Query("width"); v != "" {
		w, err := strconv.Atoi(v)
		if err != nil || w <= 0 {
			abort(c, http.StatusBadRequest, "invalid_width", fmt.Sprintf("無効な幅: %q", v))
			return
		}
		width = w
	}

	data, err := h.encodeFrame(h.engine.Snapshot(), width)
	if err != nil {
		abort(c, http.StatusServiceUnavailable, "no_frame", err.Error())
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// encodeFrame はフィードバック表示を重ねたフレームをJPEGにする
func (h *Handler) encodeFrame(snap vision.Snapshot, width int) ([]byte, error) {
	if snap.Seq == 0 {
		return nil, errors.New("まだフレームがありません")
	}
	img, err := snap.Render()
	if err != nil {
		return nil, err
	}

	var out image.Image = img
	if b := img.Bounds(); width > 0 && width < b.Dx() {
		height := max(b.Dy()*width/b.Dx(), 1)
		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: h.config.Engine.SnapshotQuality}); err != nil {
		return nil, fmt.Errorf("JPEGへの変換に失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// GetStream は最新フレームをMJPEGで配信する
func (h *Handler) GetStream(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	var last uint64
	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
			snap := h.engine.Snapshot()
			if snap.Seq == last {
				continue
			}
			last = snap.Seq

			frame, err := h.encodeFrame(snap, 0)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

const streamInterval = 40 * time.Millisecond

// ControlResponse は調整項目の状態
type ControlResponse struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	camera.ControlInfo
	Auto *bool `json:"auto,omitempty"`
}

func describeControl(ctrls camera.Controls, ctrl camera.Control) (ControlResponse, error) {
	resp := ControlResponse{Name: ctrl.String()}
	info, err := ctrls.ControlInfo(ctrl)
	if err != nil {
		return resp, err
	}
	resp.ControlInfo = info
	if resp.Value, err = ctrls.Control(ctrl); err != nil {
		return resp, err
	}
	if ctrls.HasAuto(ctrl) {
		if on, err := ctrls.Auto(ctrl); err == nil {
			resp.Auto = &on
		}
	}
	return resp, nil
}

// GetControls は調整項目一覧取得エンドポイントの実装
func (h *Handler) GetControls(c *gin.Context) {
	ctrls := h.engine.Controls()
	if ctrls == nil {
		abort(c, http.StatusServiceUnavailable, "camera_not_active", "カメラがアクティブではありません")
		return
	}

	controls := make([]ControlResponse, 0)
	for _, ctrl := range camera.AllControls() {
		if !ctrls.HasControl(ctrl) {
			continue
		}
		resp, err := describeControl(ctrls, ctrl)
		if err != nil {
			continue
		}
		controls = append(controls, resp)
	}
	c.JSON(http.StatusOK, gin.H{"controls": controls})
}

// ControlRequest は調整項目の変更。Defaultがtrueなら既定値に戻す
type ControlRequest struct {
	Value   *int  `json:"value"`
	Auto    *bool `json:"auto"`
	Default bool  `json:"default"`
}

// PutControl は調整項目変更エンドポイントの実装
func (h *Handler) PutControl(c *gin.Context) {
	ctrl, err := camera.ParseControl(c.Param("name"))
	if err != nil {
		abort(c, http.StatusNotFound, "control_not_found", err.Error())
		return
	}
	ctrls := h.engine.Controls()
	if ctrls == nil {
		abort(c, http.StatusServiceUnavailable, "camera_not_active", "カメラがアクティブではありません")
		return
	}
	if !ctrls.HasControl(ctrl) {
		abort(c, http.StatusNotFound, "control_not_supported", fmt.Sprintf("カメラは %s に対応していません", ctrl))
		return
	}

	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch {
	case req.Default:
		err = ctrls.SetDefault(ctrl)
	case req.Auto != nil:
		err = ctrls.SetAuto(ctrl, *req.Auto)
	case req.Value != nil:
		err = ctrls.SetControl(ctrl, *req.Value)
	default:
		abort(c, http.StatusBadRequest, "invalid_request", "value, auto, defaultのいずれかを指定してください")
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, camera.ErrUnsupportedControl) {
			status = http.StatusBadRequest
		}
		abort(c, status, "control_failed", err.Error())
		return
	}

	resp, err := describeControl(ctrls, ctrl)
	if err != nil {
		abort(c, http.StatusInternalServerError, "control_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Root はルートパスのハンドラ
func (h *Handler) Root(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Shikai - カメラキャリブレーション</title>
</head>
<body>
    <h1>Shikai</h1>
    <p><img src="/api/stream" alt="カメラ映像"></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>キャリブレーション: <a href="/api/calibration">/api/calibration</a></p>
    <p>調整項目: <a href="/api/camera/controls">/api/camera/controls</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`))
}
