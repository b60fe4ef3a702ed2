package config

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "booth.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PhotoDir != "photos" {
		t.Errorf("Expected photo dir photos, got %s", cfg.PhotoDir)
	}
	if cfg.Audio.BlockSize != 4000 {
		t.Errorf("Expected block size 4000, got %d", cfg.Audio.BlockSize)
	}
	if cfg.Camera.CaptureAttempts != 3 {
		t.Errorf("Expected 3 capture attempts, got %d", cfg.Camera.CaptureAttempts)
	}
	if cfg.Stream.RestartAttempts != 10 || cfg.Stream.PollInterval != time.Second {
		t.Errorf("Unexpected restart policy: %d / %s", cfg.Stream.RestartAttempts, cfg.Stream.PollInterval)
	}
	if cfg.Booth.ReadyDwell != 800*time.Millisecond || cfg.Booth.ReviewDwell != 2200*time.Millisecond {
		t.Errorf("Unexpected dwells: %+v", cfg.Booth)
	}
	if len(cfg.Trigger.Phrases) != 13 {
		t.Errorf("Expected 13 default phrases, got %d", len(cfg.Trigger.Phrases))
	}
	if cfg.Camera.Settings.ShutterSpeed != "1/100" {
		t.Errorf("Unexpected shutter speed: %s", cfg.Camera.Settings.ShutterSpeed)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
photo_dir: /srv/booth/photos
camera:
  webcam: true
  capture_attempts: 5
  settings:
    iso: "800"
stream:
  poll_interval: 500ms
booth:
  review_dwell: 3s
trigger:
  phrases: [cheese, smile]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PhotoDir != "/srv/booth/photos" {
		t.Errorf("Unexpected photo dir: %s", cfg.PhotoDir)
	}
	if !cfg.Camera.Webcam || cfg.Camera.CaptureAttempts != 5 {
		t.Errorf("Unexpected camera config: %+v", cfg.Camera)
	}
	if cfg.Camera.Settings.ISO != "800" {
		t.Errorf("Expected ISO 800, got %s", cfg.Camera.Settings.ISO)
	}
	// ファイルで指定しなかった値はデフォルトのまま
	if cfg.Camera.Settings.Aperture != "4" {
		t.Errorf("Expected default aperture, got %s", cfg.Camera.Settings.Aperture)
	}
	if cfg.Stream.PollInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms poll interval, got %s", cfg.Stream.PollInterval)
	}
	if cfg.Booth.ReviewDwell != 3*time.Second {
		t.Errorf("Expected 3s review dwell, got %s", cfg.Booth.ReviewDwell)
	}
	if len(cfg.Trigger.Phrases) != 2 {
		t.Errorf("Expected 2 phrases, got %v", cfg.Trigger.Phrases)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	if _, err := Load(path); err != nil {
		t.Fatalf("Empty file should load defaults: %v", err)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeConfig(t, "photo_directory: typo\n")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PHOTO_DIR", "/tmp/cheese")
	t.Setenv("BOOTH_WEBCAM", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("AUDIO_INPUT", "default")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PhotoDir != "/tmp/cheese" {
		t.Errorf("Expected PHOTO_DIR override, got %s", cfg.PhotoDir)
	}
	if !cfg.Camera.Webcam {
		t.Error("Expected BOOTH_WEBCAM override")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Audio.Input != "default" {
		t.Errorf("Expected audio input default, got %s", cfg.Audio.Input)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"デフォルト", func(*Config) {}, false},
		{"固定USBポート", func(c *Config) { c.Camera.USBPort = "001,037" }, false},
		{"不正なUSBポート", func(c *Config) { c.Camera.USBPort = "usb-1" }, true},
		{"Webカメラでは USBポートを検証しない", func(c *Config) {
			c.Camera.Webcam = true
			c.Camera.USBPort = "usb-1"
		}, false},
		{"撮影試行回数0", func(c *Config) { c.Camera.CaptureAttempts = 0 }, true},
		{"再開試行回数0", func(c *Config) { c.Stream.RestartAttempts = 0 }, true},
		{"背景色が不正", func(c *Config) { c.Display.Background = "white" }, true},
		{"フレーズなし", func(c *Config) { c.Trigger.Phrases = nil }, true},
		{"空のフレーズ", func(c *Config) { c.Trigger.Phrases = []string{"cheese", ""} }, true},
		{"ポート範囲外", func(c *Config) { c.Server.Port = 70000 }, true},
		{"JPEG品質範囲外", func(c *Config) { c.Display.JPEGQuality = 0 }, true},
		{"保存先なし", func(c *Config) { c.PhotoDir = "" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestServerAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8081

	if cfg.ServerAddress() != "127.0.0.1:8081" {
		t.Errorf("Unexpected address: %s", cfg.ServerAddress())
	}
}

func TestDefault_PhrasesAreIndependent(t *testing.T) {
	a := Default()
	a.Trigger.Phrases[0] = "changed"

	if b := Default(); b.Trigger.Phrases[0] != "cheese" {
		t.Errorf("Expected cheese, got %s", b.Trigger.Phrases[0])
	}
}

// TestImports_NoNativeLibraries は設定パッケージがネイティブライブラリに依存しないことを確認する
// 音声認識やマイクのライブラリがなくても設定を読み込めるようにする
func TestImports_NoNativeLibraries(t *testing.T) {
	native := []string{
		"github.com/alphacep/vosk-api/go",
		"github.com/gordonklaus/portaudio",
	}

	seen := map[string]bool{}
	var walk func(dir string)
	walk = func(dir string) {
		if seen[dir] {
			return
		}
		seen[dir] = true

		pkg, err := build.ImportDir(dir, 0)
		if err != nil {
			t.Fatalf("Failed to read package %s: %v", dir, err)
		}
		for _, imp := range pkg.Imports {
			for _, n := range native {
				if imp == n {
					t.Errorf("%s imports %s", dir, imp)
				}
			}
			if rest, ok := strings.CutPrefix(imp, "cheesebooth/internal/"); ok {
				walk(filepath.Join("..", rest))
			}
		}
	}
	walk(".")
}
