// Package app は各コンポーネントを組み立てて撮影ブースを実行する
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cheesebooth/internal/audio"
	"cheesebooth/internal/booth"
	"cheesebooth/internal/camera"
	"cheesebooth/internal/config"
	"cheesebooth/internal/notify"
	"cheesebooth/internal/preview"
	"cheesebooth/internal/server"
	"cheesebooth/internal/stream"
	"cheesebooth/internal/trigger"
)

// App は組み立て済みの撮影ブース
type App struct {
	cfg        *config.Config
	source     audio.Source
	detector   *trigger.Detector
	controller *booth.Controller
	screen     *preview.Broadcaster
	server     *server.Server
	stdin      io.Reader
}

// New は設定から各コンポーネントを作成する
func New(ctx context.Context, cfg *config.Config, stdin io.Reader) (*App, error) {
	source, err := openAudio(cfg)
	if err != nil {
		return nil, err
	}

	recognizer, err := trigger.NewVosk(cfg.Audio.ModelPath, source.SampleRate())
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("音声認識の初期化に失敗: %w", err)
	}
	triggers := trigger.NewSet(cfg.Trigger.Phrases...)
	detector := trigger.NewDetector(recognizer, triggers)
	log.Info().Strs("phrases", triggers.Phrases()).Msg("合図のフレーズ")

	driver, manager, err := buildCamera(ctx, cfg, camera.ExecRunner{})
	if err != nil {
		detector.Close()
		_ = source.Close()
		return nil, err
	}

	bg, err := preview.ParseHexColor(cfg.Display.Background)
	if err != nil {
		detector.Close()
		_ = source.Close()
		return nil, err
	}
	renderer, err := preview.NewRenderer(cfg.Display.Width, cfg.Display.Height, bg)
	if err != nil {
		detector.Close()
		_ = source.Close()
		return nil, err
	}
	screen := preview.NewBroadcaster(cfg.Display.JPEGQuality)

	controller := booth.New(cfg, booth.Dependencies{
		Source:   source,
		Detector: detector,
		Driver:   driver,
		Stream:   manager,
		Screen:   preview.NewLoop(screen, renderer),
		Notifier: notify.New(cfg.Notifications),
	})

	a := &App{
		cfg:        cfg,
		source:     source,
		detector:   detector,
		controller: controller,
		screen:     screen,
		stdin:      stdin,
	}
	if cfg.Server.Enabled {
		a.server = server.New(cfg, controller, screen)
	} else {
		log.Warn().Msg("サーバーが無効のため表示面は配信されません")
	}

	return a, nil
}

// openAudio はWAVファイルの指定があれば再生し、なければマイクを開く
func openAudio(cfg *config.Config) (audio.Source, error) {
	if cfg.Audio.ReplayFile != "" {
		log.Info().Str("path", cfg.Audio.ReplayFile).Msg("WAVファイルを音声入力として使います")
		src, err := audio.OpenWAV(cfg.Audio.ReplayFile, cfg.Audio.BlockSize, cfg.Audio.Realtime)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	src, err := audio.NewPortAudioSource(cfg.Audio.Input, cfg.Audio.BlockSize, cfg.Audio.QueueSize)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// buildCamera は撮影ドライバーとフィードの管理を作成する
// Webカメラモードではフィードのプロセスを起動せず、デバイスを直接読む
func buildCamera(ctx context.Context, cfg *config.Config, runner camera.Runner) (camera.Driver, *stream.Manager, error) {
	st := cfg.Stream

	if cfg.Camera.Webcam {
		log.Info().Str("device", cfg.Camera.WebcamDevice).Msg("Webカメラモードで起動します")
		driver := camera.NewWebcamDriver()
		opener := stream.NewV4L2Opener(cfg.Camera.WebcamDevice, st.Width, st.Height, st.FrameRate, st.OpenTimeout)
		return driver, stream.NewManager(driver, cfg.Camera.Settings, stream.NoopLauncher{}, opener, 0), nil
	}

	port, err := resolvePort(ctx, cfg.Camera.USBPort, runner)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("port", port.String()).Msg("カメラのUSBポート")

	driver := camera.NewGPhotoDriver(runner, port, cfg.Camera.Settings, cfg.Camera.RetryBackoff)
	launcher := stream.NewPipelineLauncher(cfg.Camera.VirtualDevice, st.Width, st.Height, st.FrameRate)
	opener := stream.NewV4L2Opener(cfg.Camera.VirtualDevice, st.Width, st.Height, st.FrameRate, st.OpenTimeout)
	return driver, stream.NewManager(driver, cfg.Camera.Settings, launcher, opener, st.WarmUp), nil
}

// resolvePort は設定値からUSBポートを求める
// "auto" の場合は検出し、見つからなければリセットなしで続行する
func resolvePort(ctx context.Context, value string, runner camera.Runner) (camera.Port, error) {
	if !strings.EqualFold(value, "auto") {
		return camera.ParsePort(value)
	}

	port, err := camera.DetectUSBPort(ctx, runner)
	if err != nil {
		log.Warn().Err(err).Msg("カメラのUSBポートを検出できません。USBリセットは行いません")
		return camera.Port{}, nil
	}
	return port, nil
}

// Run はコントローラー、サーバー、終了要求の監視を並行して実行する
// コントローラーが終わると他もすべて終了する
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return a.controller.Run(gctx)
	})

	if a.server != nil {
		g.Go(func() error {
			return a.server.Start(gctx)
		})
	}

	g.Go(func() error {
		watchQuit(gctx, a.stdin, a.controller.Quit)
		return nil
	})

	g.Go(func() error {
		watchHangup(gctx, a.controller.RequestRestart)
		return nil
	})

	return g.Wait()
}

// Close は音声入力と認識器を解放する
func (a *App) Close() {
	a.detector.Close()
	if err := a.source.Close(); err != nil {
		log.Warn().Err(err).Msg("音声入力の解放に失敗しました")
	}
}

// watchQuit は標準入力の "q" 行で quit を呼ぶ
// 入力が閉じていても ctx が終わるまで待つ
func watchQuit(ctx context.Context, r io.Reader, quit func()) {
	if r == nil {
		<-ctx.Done()
		return
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.EqualFold(strings.TrimSpace(line), "q") {
				log.Info().Msg("標準入力から終了要求を受けました")
				quit()
			}
		}
	}
}

// watchHangup はSIGHUPでフィードの再開を要求する
func watchHangup(ctx context.Context, restart func() error) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Info().Msg("SIGHUPを受けました。フィードを再開します")
			if err := restart(); err != nil && !errors.Is(err, booth.ErrStopped) {
				log.Warn().Err(err).Msg("フィードの再開要求に失敗しました")
			}
		}
	}
}

// Main はシグナルを監視しながら撮影ブースを起動し、終了まで待つ
// SIGINT/SIGTERM は実行中のサイクルが終わってから終了する
func Main(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, os.Stdin)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}
