package camera

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// WebcamDriver はWebカメラモードのドライバー
// プレビューの最新フレームをそのまま写真として保存する
type WebcamDriver struct{}

// NewWebcamDriver は新しいWebcamDriverを作成する
func NewWebcamDriver() *WebcamDriver {
	return &WebcamDriver{}
}

// Configure は何もしない
func (w *WebcamDriver) Configure(_ context.Context, _ Mode, _ Settings) error {
	return nil
}

// ResetDevice は何もしない
func (w *WebcamDriver) ResetDevice(_ context.Context) error {
	return nil
}

// CapturePhoto は要求に含まれるプレビューフレームを保存する
func (w *WebcamDriver) CapturePhoto(_ context.Context, req CaptureRequest, _ int) CaptureResult {
	if req.PreviewFrame == nil || len(req.PreviewFrame.JPEG) == 0 {
		return CaptureResult{
			Path:     req.TargetPath,
			Attempts: 1,
			Err:      fmt.Errorf("%w: 保存するフレームがありません", ErrCaptureFailed),
		}
	}

	if err := writeNewFile(req.TargetPath, req.PreviewFrame.JPEG); err != nil {
		return CaptureResult{
			Path:     req.TargetPath,
			Attempts: 1,
			Err:      fmt.Errorf("%w: %v", ErrCaptureFailed, err),
		}
	}

	log.Info().Str("path", req.TargetPath).Msg("写真を保存しました")
	return CaptureResult{Success: true, Path: req.TargetPath, Attempts: 1}
}

// writeNewFile は path に新しいファイルを作って書き込む。既存のファイルは上書きしない
func writeNewFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
