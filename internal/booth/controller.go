package booth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"cheesebooth/internal/audio"
	"cheesebooth/internal/camera"
	"cheesebooth/internal/clock"
	"cheesebooth/internal/config"
	"cheesebooth/internal/stream"
	"cheesebooth/internal/trigger"
)

// ErrStopped は終了済みのコントローラーへ要求した場合に返される
var ErrStopped = errors.New("コントローラーは終了しています")

// Detector は音声ブロックから合図を検出する
type Detector interface {
	Feed(block audio.Block) (*trigger.Result, error)
	Matches(res *trigger.Result) bool
	Reset()
}

// Stream はプレビュー映像のフィードを管理する
type Stream interface {
	Stop(handle *stream.Handle) error
	RestartWithRetry(ctx context.Context, maxAttempts int, pollInterval time.Duration) (*stream.Handle, camera.FrameSource, error)
}

// Screen は表示面への描画を行う
type Screen interface {
	RenderFrame(src camera.FrameSource) bool
	ShowStatus(text string)
	ShowImage(path string) bool
	LastFrame() *camera.Frame
}

// Notifier はオペレーターへ通知する
type Notifier interface {
	PhotoSaved(path string)
	CaptureFailed(attempts int)
	StreamDegraded(err error)
	StreamRecovered()
	BreakerOpened(failures uint32)
}

// Dependencies はコントローラーが使う部品
type Dependencies struct {
	Source   audio.Source
	Detector Detector
	Driver   camera.Driver
	Stream   Stream
	Screen   Screen
	Notifier Notifier
}

// Controller は合図の検出から撮影、フィードの再開までを制御する
type Controller struct {
	cfg      *config.Config
	source   audio.Source
	detector Detector
	driver   camera.Driver
	stream   Stream
	screen   Screen
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker

	sleep clock.SleepFunc
	now   func() time.Time

	quit      chan struct{}
	quitOnce  sync.Once
	restartCh chan struct{}

	mu              sync.RWMutex
	state           State
	handle          *stream.Handle
	frames          camera.FrameSource
	captureInFlight bool
	discardBefore   time.Time
	stats           stats
	onTransition    func(from, to State)
}

// New は新しいControllerを作成する
func New(cfg *config.Config, deps Dependencies) *Controller {
	c := &Controller{
		cfg:       cfg,
		source:    deps.Source,
		detector:  deps.Detector,
		driver:    deps.Driver,
		stream:    deps.Stream,
		screen:    deps.Screen,
		notifier:  deps.Notifier,
		sleep:     clock.Sleep,
		now:       time.Now,
		quit:      make(chan struct{}),
		restartCh: make(chan struct{}, 1),
		state:     StateIdle,
	}

	maxFailures := uint32(cfg.Booth.MaxConsecutiveFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "capture",
		MaxRequests: 1,
		Timeout:     cfg.Booth.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("サーキットブレーカーの状態が変わりました")
			if to == gobreaker.StateOpen {
				c.notifier.BreakerOpened(maxFailures)
			}
		},
	})

	c.stats.startedAt = time.Now()
	return c
}

// OnTransition は状態遷移のたびに呼ばれる関数を設定する。Run の前に呼ぶこと
func (c *Controller) OnTransition(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = fn
}

// State は現在の状態を返す
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Quit は終了を要求する。撮影中のサイクルは完了してから終了する
func (c *Controller) Quit() {
	c.quitOnce.Do(func() {
		close(c.quit)
	})
}

// RequestRestart はフィードの再開を要求する。要求はループの区切りで処理される
func (c *Controller) RequestRestart() error {
	if c.State() == StateStopped {
		return ErrStopped
	}

	select {
	case c.restartCh <- struct{}{}:
	default:
		// 既に要求済み
	}
	return nil
}

// Run はメインループを実行する。終了要求で nil を、音声入力の失敗でエラーを返す
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer c.shutdown()

	if err := os.MkdirAll(c.cfg.PhotoDir, 0o755); err != nil {
		return fmt.Errorf("写真の保存先を作成できません: %w", err)
	}

	// 最初のフィードは Idle のまま保持する
	if c.restartStream(ctx, StateIdle) {
		log.Info().Msg("合図を待っています。'q' で終了します")
	}

	for {
		if c.quitRequested(ctx) {
			log.Info().Msg("終了要求を受け付けました")
			return nil
		}

		select {
		case <-c.restartCh:
			c.recover(ctx)
			continue
		default:
		}

		block, err := c.source.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				continue
			case errors.Is(err, io.EOF):
				log.Info().Msg("音声入力が終わりました")
				return nil
			default:
				return fmt.Errorf("音声入力に失敗しました: %w", err)
			}
		}

		if c.isStale(block) {
			continue
		}

		c.mu.RLock()
		frames := c.frames
		c.mu.RUnlock()
		c.screen.RenderFrame(frames)

		res, err := c.detector.Feed(block)
		if err != nil {
			if errors.Is(err, trigger.ErrRecognizerClosed) {
				return fmt.Errorf("音声認識を継続できません: %w", err)
			}
			log.Warn().Err(err).Msg("音声認識に失敗しました")
			c.detector.Reset()
			continue
		}
		if res == nil {
			continue
		}

		log.Info().Str("text", res.Text).Msg("聞き取りました")
		if !c.detector.Matches(res) {
			continue
		}

		c.handleCue(ctx)
	}
}

// handleCue は合図を受けてサイクルを実行するか、理由を記録して無視する
func (c *Controller) handleCue(ctx context.Context) {
	if state := c.State(); state == StateDegraded {
		log.Warn().Msg("プレビューが停止しているため合図を無視します")
		c.countSkippedCue()
		return
	}

	if c.breaker.State() == gobreaker.StateOpen {
		log.Warn().Dur("cooldown", c.cfg.Booth.BreakerCooldown).Msg("撮影の失敗が続いているため合図を無視します")
		c.countSkippedCue()
		return
	}

	c.runCycle(ctx)
}

// recover はオペレーターの要求でフィードを再開する
func (c *Controller) recover(ctx context.Context) {
	wasDegraded := c.State() == StateDegraded
	log.Info().Bool("degraded", wasDegraded).Msg("フィードの再開要求を処理します")

	handle, frames := c.detach(StateRestartingStream)
	c.release(handle, frames)

	if c.restartStream(ctx, StateAwaitingCue) && wasDegraded {
		c.notifier.StreamRecovered()
	}
}

// restartStream はフィードを起動し直し、成功すれば ready へ、失敗すれば Degraded へ遷移する
func (c *Controller) restartStream(ctx context.Context, ready State) bool {
	if c.isCaptureInFlight() {
		// 撮影の完了を待たずにフィードを起動してはならない
		log.Error().Msg("撮影中にフィードを再開しようとしました")
		return false
	}

	handle, frames, err := c.stream.RestartWithRetry(ctx, c.cfg.Stream.RestartAttempts, c.cfg.Stream.PollInterval)
	if err != nil {
		log.Error().Err(err).Msg("プレビュー映像を再開できませんでした")
		c.transition(StateDegraded)
		c.notifier.StreamDegraded(err)
		return false
	}

	c.attach(handle, frames, ready)
	return true
}

// shutdown はフィードを止めて Stopped へ遷移する
func (c *Controller) shutdown() {
	handle, frames := c.detach(StateStopped)
	c.release(handle, frames)
	log.Info().Msg("コントローラーを終了しました")
}

// transition は状態を変更して遷移フックを呼ぶ
func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	hook := c.onTransition
	if c.handle != nil && !to.hasLiveStream() {
		log.Error().Str("state", to.String()).Msg("フィードが生きたまま遷移しました")
	}
	c.mu.Unlock()

	c.logTransition(from, to, hook)
}

// attach はフィードを保持して遷移する
func (c *Controller) attach(handle *stream.Handle, frames camera.FrameSource, to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.handle = handle
	c.frames = frames
	hook := c.onTransition
	c.mu.Unlock()

	c.logTransition(from, to, hook)
}

// detach はフィードの所有を手放して遷移し、手放したフィードを返す
func (c *Controller) detach(to State) (*stream.Handle, camera.FrameSource) {
	c.mu.Lock()
	from := c.state
	c.state = to
	handle, frames := c.handle, c.frames
	c.handle, c.frames = nil, nil
	hook := c.onTransition
	c.mu.Unlock()

	c.logTransition(from, to, hook)
	return handle, frames
}

// release はフレームの読み出しを止めてからフィードを停止する
func (c *Controller) release(handle *stream.Handle, frames camera.FrameSource) {
	if frames != nil {
		if err := frames.Close(); err != nil {
			log.Warn().Err(err).Msg("プレビュー映像を閉じられませんでした")
		}
	}
	if err := c.stream.Stop(handle); err != nil {
		log.Warn().Err(err).Msg("フィードの停止に失敗しました")
	}
}

func (c *Controller) logTransition(from, to State, hook func(from, to State)) {
	if from == to {
		return
	}
	log.Debug().Str("from", from.String()).Str("state", to.String()).Msg("状態が変わりました")
	if hook != nil {
		hook(from, to)
	}
}

// quitRequested は終了が要求されているかを返す
func (c *Controller) quitRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *Controller) isCaptureInFlight() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.captureInFlight
}

// isStale はサイクル中に溜まった音声ブロックかどうかを返す
func (c *Controller) isStale(block audio.Block) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !block.Captured.IsZero() && block.Captured.Before(c.discardBefore)
}
