package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cheesebooth/internal/camera"
)

// defaultPhrases は "cheese" とその聞き間違いとして実際に観測されたもの
var defaultPhrases = []string{
	"cheese", "cheers", "choose", "she", "she's", "geez", "news",
	"he's", "gee is", "gee", "key", "teams", "these",
}

// Config はアプリケーション全体の設定を保持する構造体
// 起動時に一度だけ構築され、各コンポーネントのコンストラクタへポインタで渡される
type Config struct {
	PhotoDir      string        `yaml:"photo_dir" validate:"required"` // 撮影した写真の保存先
	Notifications bool          `yaml:"notifications"`                 // デスクトップ通知の有効/無効
	Audio         AudioConfig   `yaml:"audio"`
	Trigger       TriggerConfig `yaml:"trigger"`
	Camera        CameraConfig  `yaml:"camera"`
	Stream        StreamConfig  `yaml:"stream"`
	Display       DisplayConfig `yaml:"display"`
	Booth         BoothConfig   `yaml:"booth"`
	Server        ServerConfig  `yaml:"server"`
}

// AudioConfig はマイク入力と音声認識の設定
type AudioConfig struct {
	Input      string `yaml:"input" validate:"required"`      // "default" または入力デバイスの番号
	BlockSize  int    `yaml:"block_size" validate:"min=256"`  // 1ブロックあたりのサンプル数
	QueueSize  int    `yaml:"queue_size" validate:"min=1"`    // 未処理ブロックの最大数
	ModelPath  string `yaml:"model_path" validate:"required"` // Voskモデルのディレクトリ
	ReplayFile string `yaml:"replay_file"`                    // マイクの代わりに再生するWAVファイル
	Realtime   bool   `yaml:"realtime"`                       // WAV再生を実時間で行うか
}

// TriggerConfig は合図となるフレーズの設定
type TriggerConfig struct {
	Phrases []string `yaml:"phrases" validate:"min=1,dive,required"`
}

// CameraConfig は撮影デバイスの設定
type CameraConfig struct {
	Webcam          bool            `yaml:"webcam"`                                   // 外部カメラを使わずWebカメラで撮影する
	WebcamDevice    string          `yaml:"webcam_device" validate:"required"`        // Webカメラのデバイスパス
	VirtualDevice   string          `yaml:"virtual_device" validate:"required"`       // プレビュー用仮想カメラ (v4l2loopback)
	USBPort         string          `yaml:"usb_port" validate:"required"`             // "auto" または "001,037" 形式
	CaptureAttempts int             `yaml:"capture_attempts" validate:"min=1,max=10"` // 撮影の最大試行回数
	RetryBackoff    time.Duration   `yaml:"retry_backoff" validate:"min=0"`           // 試行間の待機時間
	Settings        camera.Settings `yaml:"settings"`
}

// StreamConfig はプレビュー映像の設定
type StreamConfig struct {
	WarmUp          time.Duration `yaml:"warm_up" validate:"min=0"`          // 起動後の待機時間
	RestartAttempts int           `yaml:"restart_attempts" validate:"min=1"` // 再開時のオープン試行回数
	PollInterval    time.Duration `yaml:"poll_interval" validate:"min=0"`    // オープン試行の間隔
	OpenTimeout     time.Duration `yaml:"open_timeout" validate:"gt=0"`      // 最初のフレームを待つ時間
	Width           int           `yaml:"width" validate:"min=1"`            // 仮想カメラへ出力する幅
	Height          int           `yaml:"height" validate:"min=1"`           // 仮想カメラへ出力する高さ
	FrameRate       int           `yaml:"frame_rate" validate:"min=1,max=60"`
}

// DisplayConfig は表示面の設定
type DisplayConfig struct {
	Width       int    `yaml:"width" validate:"min=1"`
	Height      int    `yaml:"height" validate:"min=1"`
	Background  string `yaml:"background" validate:"hexcolor"`
	JPEGQuality int    `yaml:"jpeg_quality" validate:"min=1,max=100"`
}

// BoothConfig は撮影シーケンスのタイミングと失敗時の方針
type BoothConfig struct {
	ReadyDwell             time.Duration `yaml:"ready_dwell" validate:"min=0"`   // "READY" の表示時間
	HoldDwell              time.Duration `yaml:"hold_dwell" validate:"min=0"`    // "DON'T MOVE" の表示時間
	CheeseDelay            time.Duration `yaml:"cheese_delay" validate:"min=0"`  // 撮影開始から "CHEESE" までの時間
	CheeseDwell            time.Duration `yaml:"cheese_dwell" validate:"min=0"`  // "CHEESE" の表示時間
	ReviewDwell            time.Duration `yaml:"review_dwell" validate:"min=0"`  // 撮影結果の表示時間
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" validate:"min=1"`
	BreakerCooldown        time.Duration `yaml:"breaker_cooldown" validate:"gt=0"`
}

// ServerConfig はステータスサーバーの設定
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // MJPEG配信のため0（無効）を許容
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		PhotoDir:      "photos",
		Notifications: true,
		Audio: AudioConfig{
			Input:     "0",
			BlockSize: 4000,
			QueueSize: 64,
			ModelPath: "vosk-model-small-en-us-0.15",
		},
		Trigger: TriggerConfig{
			Phrases: append([]string(nil), defaultPhrases...),
		},
		Camera: CameraConfig{
			WebcamDevice:    "/dev/video0",
			VirtualDevice:   "/dev/video10",
			USBPort:         "auto",
			CaptureAttempts: 3,
			RetryBackoff:    1 * time.Second,
			Settings:        camera.DefaultSettings(),
		},
		Stream: StreamConfig{
			WarmUp:          2 * time.Second,
			RestartAttempts: 10,
			PollInterval:    1 * time.Second,
			OpenTimeout:     3 * time.Second,
			Width:           1280,
			Height:          852,
			FrameRate:       30,
		},
		Display: DisplayConfig{
			Width:       1920,
			Height:      1080,
			Background:  "#ffffff",
			JPEGQuality: 80,
		},
		Booth: BoothConfig{
			ReadyDwell:             800 * time.Millisecond,
			HoldDwell:              400 * time.Millisecond,
			CheeseDelay:            400 * time.Millisecond,
			CheeseDwell:            2200 * time.Millisecond,
			ReviewDwell:            2200 * time.Millisecond,
			MaxConsecutiveFailures: 5,
			BreakerCooldown:        60 * time.Second,
		},
		Server: ServerConfig{
			Enabled:      false,
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0,
		},
	}
}

// Load は設定を読み込む
// デフォルト値、YAMLファイル（pathが空でなければ）、環境変数の順に適用する
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile はYAMLファイルの内容で設定を上書きする
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("設定ファイルを開けません: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.PhotoDir = getEnvOrDefault("PHOTO_DIR", c.PhotoDir)
	c.Audio.ModelPath = getEnvOrDefault("VOSK_MODEL_PATH", c.Audio.ModelPath)
	c.Audio.Input = getEnvOrDefault("AUDIO_INPUT", c.Audio.Input)
	c.Camera.Webcam = getEnvAsBoolOrDefault("BOOTH_WEBCAM", c.Camera.Webcam)
	c.Camera.USBPort = getEnvOrDefault("CAMERA_USB_PORT", c.Camera.USBPort)
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// USBポートは自動検出以外なら形式を確認する
	if !c.Camera.Webcam && !strings.EqualFold(c.Camera.USBPort, "auto") {
		if _, err := camera.ParsePort(c.Camera.USBPort); err != nil {
			return fmt.Errorf("無効なUSBポート: %w", err)
		}
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得する
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
