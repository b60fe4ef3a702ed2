package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNoFrame は指定時間内に最初のフレームが届かなかった場合に返される
var ErrNoFrame = errors.New("フレームが届きません")

// FeedSource はV4L2デバイスのプレビュー映像を読み続け、最新フレームだけを保持する
type FeedSource struct {
	device string
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameChan chan []byte
	errorChan chan error

	mu     sync.RWMutex
	latest Frame
	has    bool

	closeOnce sync.Once
}

// OpenFeed はデバイスの読み出しを開始し、最初のフレームが届くまで最大 timeout 待つ
// 開いたフィードは Close するまで ctx のキャンセルとは無関係に動き続ける
func OpenFeed(ctx context.Context, capturer *V4L2Capturer, timeout time.Duration) (*FeedSource, error) {
	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &FeedSource{
		device:    capturer.Device(),
		cancel:    cancel,
		frameChan: make(chan []byte, 4),
		errorChan: make(chan error, 1),
	}

	go capturer.StartStream(feedCtx, s.frameChan, s.errorChan)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-s.frameChan:
		if !ok {
			cancel()
			return nil, s.exitError()
		}
		s.store(frame)

	case err := <-s.errorChan:
		s.abort()
		return nil, err

	case <-timer.C:
		s.abort()
		return nil, fmt.Errorf("%s: %w (%s)", s.device, ErrNoFrame, timeout)

	case <-ctx.Done():
		s.abort()
		return nil, ctx.Err()
	}

	s.wg.Add(1)
	go s.forwardFrames()

	return s, nil
}

// Next は最新のフレームを返す
func (s *FeedSource) Next() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.has
}

// Close は読み出しを停止し、ffmpegの終了を待つ
func (s *FeedSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *FeedSource) store(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = Frame{JPEG: frame, CapturedAt: time.Now()}
	s.has = true
}

// abort はキャンセルしてから StartStream がチャンネルを閉じるまで読み捨てる
func (s *FeedSource) abort() {
	s.cancel()
	for range s.frameChan {
	}
}

func (s *FeedSource) exitError() error {
	select {
	case err := <-s.errorChan:
		return err
	default:
		return fmt.Errorf("%s: %w (ffmpegが終了しました)", s.device, ErrNoFrame)
	}
}

// forwardFrames はキャプチャからのフレームで最新フレームを更新する
func (s *FeedSource) forwardFrames() {
	defer s.wg.Done()

	for {
		select {
		case frame, ok := <-s.frameChan:
			if !ok {
				return
			}
			s.store(frame)

		case err := <-s.errorChan:
			log.Warn().Err(err).Str("device", s.device).Msg("プレビュー映像の読み取りに失敗しました")
		}
	}
}
