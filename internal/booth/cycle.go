package booth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cheesebooth/internal/camera"
)

// 撮影シーケンスで表示する文字列
const (
	statusReady    = "- READY -"
	statusHold     = "- DON'T MOVE -"
	statusCheese   = "- ! CHEESE ! -"
	statusWait     = "Wait..."
	photoPrefix    = "cheese_"
	photoTimestamp = "2006-01-02_15-04-05"
	photoExt       = ".jpg"
)

// captureTask は別ゴルーチンで実行中の撮影
type captureTask struct {
	done   chan struct{}
	result camera.CaptureResult
}

// wait は撮影の完了を待って結果を返す
func (t *captureTask) wait() camera.CaptureResult {
	<-t.done
	return t.result
}

// runCycle は1回分の撮影サイクルを実行する
// 終了要求があってもサイクルは最後まで実行し、フィードの再開だけを省略する
func (c *Controller) runCycle(ctx context.Context) {
	cycleCtx := context.WithoutCancel(ctx)
	id := uuid.NewString()
	logger := log.With().Str("cycle", id).Logger()

	c.beginCycle(id)
	logger.Info().Msg("合図を検出しました。撮影を始めます")

	// Preparing
	previewFrame := c.screen.LastFrame()
	handle, frames := c.detach(StatePreparing)
	c.release(handle, frames)

	path := c.photoPath()

	c.dwell(cycleCtx, statusReady, c.cfg.Booth.ReadyDwell)
	c.dwell(cycleCtx, statusHold, c.cfg.Booth.HoldDwell)

	// Capturing
	c.transition(StateCapturing)
	task := c.startCapture(cycleCtx, camera.CaptureRequest{TargetPath: path, PreviewFrame: previewFrame}, logger)

	c.pause(cycleCtx, c.cfg.Booth.CheeseDelay)
	c.dwell(cycleCtx, statusCheese, c.cfg.Booth.CheeseDwell)
	c.screen.ShowStatus(statusWait)

	result := c.joinCapture(task)

	// Reviewing
	c.transition(StateReviewing)
	c.finishCycle(id, result)

	if result.Success {
		c.notifier.PhotoSaved(result.Path)
		if c.screen.ShowImage(result.Path) {
			c.pause(cycleCtx, c.cfg.Booth.ReviewDwell)
		} else {
			logger.Warn().Str("path", result.Path).Msg("撮影した写真を表示できません")
		}
	} else {
		logger.Error().Err(result.Err).Int("attempts", result.Attempts).Msg("撮影に失敗しました")
		c.notifier.CaptureFailed(result.Attempts)
	}

	// サイクル中に溜まった音声で再び合図が検出されないようにする
	c.discardPendingAudio()

	if c.quitRequested(ctx) {
		logger.Info().Msg("終了要求があるためフィードを再開しません")
		return
	}

	// RestartingStream
	c.transition(StateRestartingStream)
	c.restartStream(ctx, StateAwaitingCue)
}

// startCapture は撮影を別ゴルーチンで開始する
func (c *Controller) startCapture(ctx context.Context, req camera.CaptureRequest, logger zerolog.Logger) *captureTask {
	c.mu.Lock()
	c.captureInFlight = true
	c.mu.Unlock()

	task := &captureTask{done: make(chan struct{})}
	go func() {
		defer close(task.done)
		task.result = c.capture(ctx, req, logger)
	}()
	return task
}

// joinCapture は撮影の完了を待つ
func (c *Controller) joinCapture(task *captureTask) camera.CaptureResult {
	result := task.wait()

	c.mu.Lock()
	c.captureInFlight = false
	c.mu.Unlock()

	return result
}

// capture はサーキットブレーカーを通して撮影する
func (c *Controller) capture(ctx context.Context, req camera.CaptureRequest, logger zerolog.Logger) camera.CaptureResult {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		result := c.driver.CapturePhoto(ctx, req, c.cfg.Camera.CaptureAttempts)
		if !result.Success {
			if result.Err == nil {
				result.Err = camera.ErrCaptureFailed
			}
			return result, result.Err
		}
		return result, nil
	})

	result, ok := out.(camera.CaptureResult)
	if !ok {
		// ブレーカーが撮影を実行しなかった
		logger.Warn().Err(err).Msg("サーキットブレーカーにより撮影を省略しました")
		return camera.CaptureResult{
			Path: req.TargetPath,
			Err:  fmt.Errorf("%w: %v", camera.ErrCaptureFailed, err),
		}
	}
	return result
}

// dwell は文字を表示して指定時間待つ
func (c *Controller) dwell(ctx context.Context, text string, d time.Duration) {
	c.screen.ShowStatus(text)
	c.pause(ctx, d)
}

func (c *Controller) pause(ctx context.Context, d time.Duration) {
	if err := c.sleep(ctx, d); err != nil {
		log.Debug().Err(err).Msg("待機が中断されました")
	}
}

// photoPath は現在時刻から写真の保存先を決める
// 同じ秒に撮影済みのファイルがあれば _1, _2 ... を付けて重複を避ける
func (c *Controller) photoPath() string {
	base := photoPrefix + c.now().Format(photoTimestamp)
	path := filepath.Join(c.cfg.PhotoDir, base+photoExt)
	for i := 1; exists(path); i++ {
		path = filepath.Join(c.cfg.PhotoDir, fmt.Sprintf("%s_%d%s", base, i, photoExt))
	}
	return path
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// discardPendingAudio は現在時刻より前に録音されたブロックを捨て、認識中の発話を破棄する
func (c *Controller) discardPendingAudio() {
	c.mu.Lock()
	c.discardBefore = c.now()
	c.mu.Unlock()

	c.detector.Reset()
}
