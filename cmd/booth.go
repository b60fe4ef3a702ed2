// Package main は撮影ブースのコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"cheesebooth/internal/app"
	"cheesebooth/internal/audio"
	"cheesebooth/internal/camera"
	"cheesebooth/internal/config"
)

func main() {
	// コマンドラインオプション
	var (
		configPath  = flag.String("config", os.Getenv("BOOTH_CONFIG"), "設定ファイル (YAML)")
		webcam      = flag.Bool("webcam", false, "外部カメラの代わりにWebカメラで撮影する")
		replay      = flag.String("replay", "", "マイクの代わりに再生するWAVファイル")
		listDevices = flag.Bool("list-devices", false, "音声入力と映像デバイスの一覧を表示")
		help        = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("cheesebooth")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  booth [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("環境変数:")
		fmt.Println("  LOG_LEVEL   ログレベル (debug, info, warn, error)")
		fmt.Println("  LOG_FORMAT  console で人間向けのログ出力")
		os.Exit(0)
	}

	app.SetupLogger(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if *listDevices {
		if err := printDevices(); err != nil {
			log.Fatal().Err(err).Msg("デバイス一覧の取得に失敗しました")
		}
		return
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	// コマンドラインオプションで設定を上書き
	if *webcam {
		cfg.Camera.Webcam = true
	}
	if *replay != "" {
		cfg.Audio.ReplayFile = *replay
	}

	if err := app.Main(cfg); err != nil {
		log.Fatal().Err(err).Msg("異常終了しました")
	}
}

// printDevices は音声入力デバイスと映像デバイスの一覧を表示する
func printDevices() error {
	inputs, err := audio.ListInputDevices()
	if err != nil {
		return err
	}

	fmt.Println("音声入力デバイス:")
	for _, dev := range inputs {
		fmt.Printf("  %d: %s (%.0f Hz, %dch)\n", dev.Index, dev.Name, dev.SampleRate, dev.Channels)
	}

	devices, err := camera.NewLinuxDiscovery(camera.ExecRunner{}).ScanDevices(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("映像デバイス:")
	for _, dev := range devices {
		fmt.Printf("  %s: %s\n", dev.Path, dev.Name)
	}
	return nil
}
