package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"cheesebooth/internal/clock"
)

// WAVSource は録音済みのWAVファイルをブロック単位で再生する
// マイクの代わりにリハーサルやテストで使う
type WAVSource struct {
	path       string
	file       *os.File
	dec        *wav.Decoder
	buf        *goaudio.IntBuffer
	sampleRate int
	realtime   bool
	sleep      clock.SleepFunc
}

// OpenWAV は16bitモノラルのWAVファイルを開く
// realtime が true の場合、ブロックの再生時間だけ待ってから返す
func OpenWAV(path string, blockSize int, realtime bool) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DeviceError{Device: path, Err: err}
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, &DeviceError{Device: path, Err: errors.New("WAVファイルとして読み込めません")}
	}
	if dec.NumChans != 1 || dec.BitDepth != 16 {
		_ = f.Close()
		return nil, &DeviceError{
			Device: path,
			Err:    fmt.Errorf("16bitモノラルのみ対応しています (channels=%d, bits=%d)", dec.NumChans, dec.BitDepth),
		}
	}

	return &WAVSource{
		path: path,
		file: f,
		dec:  dec,
		buf: &goaudio.IntBuffer{
			Format:         dec.Format(),
			Data:           make([]int, blockSize),
			SourceBitDepth: 16,
		},
		sampleRate: int(dec.SampleRate),
		realtime:   realtime,
		sleep:      clock.Sleep,
	}, nil
}

// Next は次のブロックを返す。ファイルの終端では io.EOF を返す
func (s *WAVSource) Next(ctx context.Context) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}
	if s.file == nil {
		return Block{}, ErrClosed
	}

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return Block{}, &DeviceError{Device: s.path, Err: err}
	}
	if n == 0 {
		return Block{}, io.EOF
	}

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(s.buf.Data[i])
	}
	block := Block{Samples: samples, SampleRate: s.sampleRate, Captured: time.Now()}

	if s.realtime {
		if err := s.sleep(ctx, block.Duration()); err != nil {
			return Block{}, err
		}
	}
	return block, nil
}

// SampleRate はファイルのサンプリングレートを返す
func (s *WAVSource) SampleRate() int {
	return s.sampleRate
}

// Close はファイルを閉じる
func (s *WAVSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
