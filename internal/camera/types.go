package camera

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mode はデバイスの動作モードを表す
type Mode string

const (
	ModePhoto   Mode = "photo"   // 静止画の撮影
	ModePreview Mode = "preview" // ライブビューの映像出力
)

// Settings は撮影デバイスの設定を表す
// 値はデバイスにそのまま渡す不透明な文字列として扱う
type Settings struct {
	WhiteBalance         string `yaml:"white_balance"`
	FlashMode            string `yaml:"flash_mode"`
	ShutterSpeed         string `yaml:"shutter_speed"`
	ISO                  string `yaml:"iso"`
	Aperture             string `yaml:"aperture"`
	ExposureCompensation string `yaml:"exposure_compensation"`
	KeepRaw              bool   `yaml:"keep_raw"` // RAWファイルも保存する
	ImageSize            string `yaml:"image_size"`
	ColorSpace           string `yaml:"color_space"`
	ISOAuto              string `yaml:"iso_auto"`
}

// DefaultSettings はデフォルトのカメラ設定を返す
func DefaultSettings() Settings {
	return Settings{
		WhiteBalance:         "Automatic",
		FlashMode:            "Auto",
		ShutterSpeed:         "1/100",
		ISO:                  "400",
		Aperture:             "4",
		ExposureCompensation: "0.0",
		KeepRaw:              true,
		ImageSize:            "4928x3264",
		ColorSpace:           "AdobeRGB",
		ISOAuto:              "False",
	}
}

// Frame はプレビュー映像の1フレーム
type Frame struct {
	JPEG       []byte    // JPEGエンコード済みの画像
	CapturedAt time.Time // 取得時刻
}

// FrameSource はプレビュー映像の読み出し口
type FrameSource interface {
	// Next は最新のフレームを返す。まだフレームがない場合は false
	// ブロックしない
	Next() (Frame, bool)

	// Close は読み出しを終了する
	Close() error
}

// CaptureRequest は撮影要求
type CaptureRequest struct {
	TargetPath   string // 保存先のパス
	PreviewFrame *Frame // Webカメラモードで保存するフレーム
}

// CaptureResult は撮影結果
type CaptureResult struct {
	Success  bool   // 撮影に成功したか
	Path     string // 保存されたファイルのパス
	Attempts int    // 試行回数
	Err      error  // 失敗時のエラー
}

// Driver は撮影デバイスを制御するインターフェース
type Driver interface {
	// Configure は指定モードの設定をデバイスに適用する
	// 失敗してもデバイスは使用を継続できる
	Configure(ctx context.Context, mode Mode, settings Settings) error

	// ResetDevice はデバイスをUSBレベルでリセットする
	ResetDevice(ctx context.Context) error

	// CapturePhoto は静止画を撮影して保存する。数秒かかる場合がある
	CapturePhoto(ctx context.Context, req CaptureRequest, maxAttempts int) CaptureResult
}

// ErrCaptureFailed はすべての撮影試行が失敗した場合に返される
var ErrCaptureFailed = errors.New("撮影に失敗しました")

// DeviceError は設定やリセットなどデバイス操作の失敗を表す
// ログに記録されるが致命的ではない
type DeviceError struct {
	Op  string // 失敗した操作
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("カメラ操作 %s に失敗: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
