package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cheesebooth/internal/camera"
	"cheesebooth/internal/clock"
)

var (
	// ErrAlreadyLive はフィードが起動中に Start が呼ばれた場合に返される
	ErrAlreadyLive = errors.New("フィードは既に起動しています")

	// ErrStreamNotReady は再開後に映像を開けなかった場合に返される
	ErrStreamNotReady = errors.New("プレビュー映像を再開できません")
)

// Handle は起動中のフィードへの不透明な参照
type Handle struct {
	proc      Process
	startedAt time.Time
}

// Manager はフィードのライフサイクルを管理する
type Manager struct {
	mu       sync.Mutex
	driver   camera.Driver
	settings camera.Settings
	launcher Launcher
	opener   Opener
	warmUp   time.Duration
	sleep    clock.SleepFunc

	current *Handle
}

// NewManager は新しいManagerを作成する
func NewManager(driver camera.Driver, settings camera.Settings, launcher Launcher, opener Opener, warmUp time.Duration) *Manager {
	return &Manager{
		driver:   driver,
		settings: settings,
		launcher: launcher,
		opener:   opener,
		warmUp:   warmUp,
		sleep:    clock.Sleep,
	}
}

// Live はフィードが起動中かを返す
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Start はカメラをライブビューに設定してフィードを起動し、ウォームアップを待つ
func (m *Manager) Start(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyLive
	}

	// 設定の失敗はログに記録済み。フィードの起動は続ける
	_ = m.driver.Configure(ctx, camera.ModePreview, m.settings)

	proc, err := m.launcher.Launch()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	handle := &Handle{proc: proc, startedAt: time.Now()}
	m.current = handle
	m.mu.Unlock()

	log.Info().Dur("warm_up", m.warmUp).Msg("プレビュー映像のフィードを起動しました")

	if err := m.sleep(ctx, m.warmUp); err != nil {
		_ = m.Stop(handle)
		return nil, err
	}

	return handle, nil
}

// Stop はフィードをプロセスグループごと終了させ、終了を待つ
func (m *Manager) Stop(handle *Handle) error {
	if handle == nil {
		return nil
	}

	m.mu.Lock()
	if m.current == handle {
		m.current = nil
	}
	m.mu.Unlock()

	if err := handle.proc.Terminate(); err != nil {
		return err
	}

	log.Info().Dur("uptime", time.Since(handle.startedAt)).Msg("プレビュー映像のフィードを停止しました")
	return nil
}

// StopCurrent は起動中のフィードがあれば停止する
func (m *Manager) StopCurrent() error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	return m.Stop(current)
}

// RestartWithRetry は現在のフィードを停止して起動し直し、映像が開けるまで
// 最大 maxAttempts 回、pollInterval 間隔で試行する
func (m *Manager) RestartWithRetry(ctx context.Context, maxAttempts int, pollInterval time.Duration) (*Handle, camera.FrameSource, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if err := m.StopCurrent(); err != nil {
		log.Warn().Err(err).Msg("既存のフィードの停止に失敗しました")
	}

	handle, err := m.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStreamNotReady, err)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		src, err := m.opener.Open(ctx)
		if err == nil {
			log.Info().Int("attempt", attempt).Msg("プレビュー映像を再開しました")
			return handle, src, nil
		}

		log.Info().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("プレビュー映像の再開を待っています")

		if attempt == maxAttempts {
			break
		}
		if err := m.sleep(ctx, pollInterval); err != nil {
			_ = m.Stop(handle)
			return nil, nil, fmt.Errorf("%w: %v", ErrStreamNotReady, err)
		}
	}

	_ = m.Stop(handle)
	return nil, nil, fmt.Errorf("%w: %d回試行しました", ErrStreamNotReady, maxAttempts)
}
