package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"cheesebooth/internal/booth"
	"cheesebooth/internal/config"
)

// BoothHandler は各エンドポイントの実装
type BoothHandler struct {
	config     *config.Config
	controller Controller
	feed       FrameFeed
	done       <-chan struct{}
}

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーの情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Booth     booth.Snapshot `json:"booth"`
	Server    ServerInfo     `json:"server"`
	Webcam    bool           `json:"webcam"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const kioskPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>cheesebooth</title>
<style>
html, body { margin: 0; height: 100%; background: #000; overflow: hidden; }
img { width: 100%; height: 100%; object-fit: contain; }
</style>
</head>
<body><img src="/preview.mjpg" alt=""></body>
</html>
`

// Root はキオスク表示用のページを返す
func (h *BoothHandler) Root(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(kioskPage))
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *BoothHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *BoothHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Booth: h.controller.Snapshot(),
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Webcam:    h.config.Camera.Webcam,
		Timestamp: time.Now(),
	})
}

// RestartStream はフィードの再開を要求する
// 要求はコントローラーのループで処理されるため、受付のみを返す
func (h *BoothHandler) RestartStream(c *gin.Context) {
	if err := h.controller.RequestRestart(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, booth.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, ErrorResponse{
			Error:     "restart_rejected",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	log.Info().Str("remote", c.ClientIP()).Msg("フィードの再開要求を受け付けました")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Preview は表示面の映像をMJPEGで配信する
func (h *BoothHandler) Preview(c *gin.Context) {
	h.streamMJPEG(c)
}

// streamMJPEG はMJPEGストリームを配信する
func (h *BoothHandler) streamMJPEG(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	frames, cancel := h.feed.Subscribe()
	defer cancel()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return

		case <-h.done:
			return

		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := writePart(writer, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writePart はMJPEGの1フレームを書き込む
func writePart(w gin.ResponseWriter, frame []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
