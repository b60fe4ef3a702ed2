package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"cheesebooth/internal/app"
	"cheesebooth/internal/config"
)

func main() {
	app.SetupLogger(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	// 設定を読み込む
	cfg, err := config.Load(os.Getenv("BOOTH_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	if err := app.Main(cfg); err != nil {
		log.Fatal().Err(err).Msg("異常終了しました")
	}
}
