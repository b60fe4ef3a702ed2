package audio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

// InputDevice は入力デバイスの情報
type InputDevice struct {
	Index      int     // 入力デバイスの中での番号
	Name       string  // デバイス名
	SampleRate float64 // デフォルトのサンプリングレート
	Channels   int     // 最大入力チャンネル数
}

// ListInputDevices は利用可能な入力デバイスの一覧を返す
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("PortAudioの初期化に失敗: %w", err)
	}
	defer func() {
		_ = portaudio.Terminate()
	}()

	inputs, err := inputDevices()
	if err != nil {
		return nil, err
	}

	list := make([]InputDevice, 0, len(inputs))
	for i, dev := range inputs {
		list = append(list, InputDevice{
			Index:      i,
			Name:       dev.Name,
			SampleRate: dev.DefaultSampleRate,
			Channels:   dev.MaxInputChannels,
		})
	}
	return list, nil
}

func inputDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("デバイス一覧の取得に失敗: %w", err)
	}

	var inputs []*portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			inputs = append(inputs, dev)
		}
	}
	return inputs, nil
}

// selectInputDevice は "default" または入力デバイスの番号からデバイスを選ぶ
func selectInputDevice(input string) (*portaudio.DeviceInfo, error) {
	if input == "" || input == "default" {
		return portaudio.DefaultInputDevice()
	}

	index, err := strconv.Atoi(input)
	if err != nil {
		return nil, fmt.Errorf("無効な入力デバイス指定: %q", input)
	}

	inputs, err := inputDevices()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(inputs) {
		return nil, fmt.Errorf("入力デバイス %d は存在しません (%d台)", index, len(inputs))
	}
	return inputs[index], nil
}

// inputStream はPortAudioSourceが使う入力ストリームの操作
type inputStream interface {
	Read() error
	Abort() error
	Close() error
}

// PortAudioSource はマイクから音声ブロックを取得する
type PortAudioSource struct {
	stream     inputStream
	terminate  func() error
	buffer     []int16
	device     string
	sampleRate int

	blocks chan Block
	errCh  chan error

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPortAudioSource は入力デバイスを開いて録音を開始する
// サンプリングレートはデバイスのネイティブ値を使う
func NewPortAudioSource(input string, blockSize, queueSize int) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Device: input, Err: err}
	}

	dev, err := selectInputDevice(input)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &DeviceError{Device: input, Err: err}
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.FramesPerBuffer = blockSize

	s := &PortAudioSource{
		buffer:     make([]int16, blockSize),
		device:     dev.Name,
		sampleRate: int(dev.DefaultSampleRate),
		blocks:     make(chan Block, queueSize),
		errCh:      make(chan error, 1),
		done:       make(chan struct{}),
	}

	stream, err := portaudio.OpenStream(params, s.buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &DeviceError{Device: dev.Name, Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, &DeviceError{Device: dev.Name, Err: err}
	}
	s.stream = stream
	s.terminate = portaudio.Terminate

	log.Info().
		Str("device", dev.Name).
		Int("sample_rate", s.sampleRate).
		Int("block_size", blockSize).
		Msg("音声入力を開始しました")

	s.start()

	return s, nil
}

func (s *PortAudioSource) start() {
	s.wg.Add(1)
	go s.readLoop()
}

// readLoop はデバイスからブロックを読み続け、キューへ積む
func (s *PortAudioSource) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, portaudio.InputOverflowed) {
				log.Debug().Msg("音声入力がオーバーフローしました")
				continue
			}
			select {
			case s.errCh <- &DeviceError{Device: s.device, Err: err}:
			default:
			}
			return
		}

		samples := make([]int16, len(s.buffer))
		copy(samples, s.buffer)
		block := Block{Samples: samples, SampleRate: s.sampleRate, Captured: time.Now()}

		// キューが満杯なら最も古いブロックを捨てる
		select {
		case s.blocks <- block:
		default:
			select {
			case <-s.blocks:
			default:
			}
			s.blocks <- block
		}
	}
}

// Next は次のブロックを返す
func (s *PortAudioSource) Next(ctx context.Context) (Block, error) {
	select {
	case <-ctx.Done():
		return Block{}, ctx.Err()
	case <-s.done:
		return Block{}, ErrClosed
	case err := <-s.errCh:
		return Block{}, err
	case block := <-s.blocks:
		return block, nil
	}
}

// SampleRate はサンプリングレートを返す
func (s *PortAudioSource) SampleRate() int {
	return s.sampleRate
}

// Close は録音を停止してデバイスを解放する
func (s *PortAudioSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		// 待機中の Read を戻すため、先にストリームを中断する
		if abortErr := s.stream.Abort(); abortErr != nil {
			err = abortErr
		}

		// 読み取りループの終了を待つ
		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(time.Second):
			log.Warn().Msg("音声読み取りの停止がタイムアウトしました")
		}

		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		_ = s.terminate()
	})
	return err
}
