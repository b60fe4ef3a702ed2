// Package audio はマイク入力を固定長ブロックとして取り出す
//
// # 責務
// - 入力デバイス（PortAudio）またはWAVファイルからの16bitモノラルPCMの取得
// - 固定サイズのブロックへの分割と、上限付きキューによる受け渡し
//
// # 仕様
// - Source.Next はブロックが届くまで待機する。メインループの歩調はこの待機で決まる
// - デバイスの切断などの入出力障害は DeviceError として返す（呼び出し側では致命的扱い）
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrClosed は閉じられたソースから読み出そうとした場合に返される
var ErrClosed = errors.New("音声ソースは閉じられています")

// Block は固定長の音声ブロック（符号付き16bit、モノラル）
type Block struct {
	Samples    []int16   // PCMサンプル
	SampleRate int       // サンプリングレート (Hz)
	Captured   time.Time // ブロックを受け取った時刻
}

// Bytes はリトルエンディアンのPCM16バイト列を返す
func (b Block) Bytes() []byte {
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Duration はブロックの再生時間を返す
func (b Block) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Source は音声ブロックの供給元
type Source interface {
	// Next は次のブロックを到着順に返す。届くまで待機する
	Next(ctx context.Context) (Block, error)

	// SampleRate はデバイスのサンプリングレートを返す
	SampleRate() int

	// Close はデバイスを解放する
	Close() error
}

// DeviceError は音声デバイスの入出力障害を表す
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("音声デバイス %s のエラー: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
