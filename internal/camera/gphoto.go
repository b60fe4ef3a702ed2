package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cheesebooth/internal/clock"
)

const gphotoCommand = "gphoto2"

// GPhotoDriver は gphoto2 経由で外部カメラを制御する
type GPhotoDriver struct {
	runner   Runner
	resetter Resetter
	port     Port
	settings Settings
	backoff  time.Duration
	sleep    clock.SleepFunc
}

// NewGPhotoDriver は新しいGPhotoDriverを作成する
// port がゼロ値の場合、USBリセットは常に失敗として扱われる
func NewGPhotoDriver(runner Runner, port Port, settings Settings, backoff time.Duration) *GPhotoDriver {
	return &GPhotoDriver{
		runner:   runner,
		resetter: ioctlResetter{},
		port:     port,
		settings: settings,
		backoff:  backoff,
		sleep:    clock.Sleep,
	}
}

// Settings はドライバーが撮影時に適用する設定を返す
func (d *GPhotoDriver) Settings() Settings {
	return d.settings
}

// Configure は設定を1回の gphoto2 呼び出しでまとめて適用する
func (d *GPhotoDriver) Configure(ctx context.Context, mode Mode, settings Settings) error {
	if _, err := d.runner.Run(ctx, gphotoCommand, configArgs(mode, settings)...); err != nil {
		derr := &DeviceError{Op: "configure", Err: err}
		log.Warn().Err(err).Str("mode", string(mode)).Msg("カメラの設定に失敗しました")
		return derr
	}

	log.Info().Str("mode", string(mode)).Msg("カメラを設定しました")
	return nil
}

// ResetDevice はカメラをUSBレベルでリセットする
func (d *GPhotoDriver) ResetDevice(_ context.Context) error {
	if err := d.resetter.Reset(d.port); err != nil {
		log.Warn().Err(err).Str("port", d.port.String()).Msg("USBデバイスのリセットに失敗しました")
		return &DeviceError{Op: "reset", Err: err}
	}
	return nil
}

// CapturePhoto はリセットと撮影用の設定を行ってから、最大 maxAttempts 回撮影を試みる
// リセットや設定の失敗は撮影を妨げない
func (d *GPhotoDriver) CapturePhoto(ctx context.Context, req CaptureRequest, maxAttempts int) CaptureResult {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	_ = d.ResetDevice(ctx)
	_ = d.Configure(ctx, ModePhoto, d.settings)

	args := captureArgs(req.TargetPath, d.settings.KeepRaw)
	log.Info().Str("path", req.TargetPath).Msg("高解像度の写真を撮影しています")

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := d.runner.Run(ctx, gphotoCommand, args...)
		if err == nil {
			log.Info().Str("path", req.TargetPath).Int("attempt", attempt).Msg("写真を保存しました")
			return CaptureResult{Success: true, Path: req.TargetPath, Attempts: attempt}
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("撮影に失敗しました")

		if attempt == maxAttempts {
			break
		}
		if err := d.sleep(ctx, d.backoff); err != nil {
			return CaptureResult{
				Path:     req.TargetPath,
				Attempts: attempt,
				Err:      fmt.Errorf("%w: %v", ErrCaptureFailed, err),
			}
		}
	}

	log.Error().Str("path", req.TargetPath).Int("attempts", maxAttempts).Msg("写真を撮影できませんでした")
	return CaptureResult{
		Path:     req.TargetPath,
		Attempts: maxAttempts,
		Err:      fmt.Errorf("%w: %d回試行 (最後のエラー: %v)", ErrCaptureFailed, maxAttempts, lastErr),
	}
}

// configArgs は gphoto2 の --set-config 引数を組み立てる
func configArgs(mode Mode, s Settings) []string {
	viewfinder := "0"
	if mode == ModePreview {
		viewfinder = "1"
	}
	quality := "JPEG Fine"
	if s.KeepRaw {
		quality = "NEF+Fine"
	}

	pairs := []string{
		"capturetarget=1",
		"/main/actions/viewfinder=" + viewfinder,
		"/main/imgsettings/whitebalance=" + s.WhiteBalance,
		"/main/capturesettings/flashmode=" + s.FlashMode,
		"/main/capturesettings/shutterspeed2=" + s.ShutterSpeed,
		"/main/imgsettings/iso=" + s.ISO,
		"/main/capturesettings/f-number=" + s.Aperture,
		"/main/capturesettings/exposurecompensation=" + s.ExposureCompensation,
		"/main/capturesettings/nikonflashmode=iTTL",
		"/main/capturesettings/imagequality=" + quality,
		"/main/imgsettings/imagesize=" + s.ImageSize,
		"/main/imgsettings/colorspace=" + s.ColorSpace,
		"/main/imgsettings/isoauto=" + s.ISOAuto,
		"/main/capturesettings/microphone=0",
	}
	if mode == ModePreview {
		pairs = append(pairs, "/main/capturesettings/manualmoviesetting=1")
	}

	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, "--set-config", p)
	}
	return args
}

// captureArgs は撮影とダウンロードの引数を組み立てる
func captureArgs(path string, keepRaw bool) []string {
	args := []string{"--capture-image-and-download", "--filename=" + path}
	if keepRaw {
		args = append(args, "--keep-raw")
	}
	return args
}
