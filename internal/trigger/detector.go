package trigger

import (
	"time"

	"github.com/rs/zerolog/log"

	"cheesebooth/internal/audio"
)

// Detector は音声ブロックを認識器へ流し、合図の検出を判定する
type Detector struct {
	recognizer Recognizer
	triggers   Set

	// 現在の発話に投入済みの音声の長さ
	buffered time.Duration
}

// NewDetector は新しいDetectorを作成する
func NewDetector(recognizer Recognizer, triggers Set) *Detector {
	return &Detector{
		recognizer: recognizer,
		triggers:   triggers,
	}
}

// Feed はブロックを投入する。発話の区切りに達した場合のみ結果を返す
func (d *Detector) Feed(block audio.Block) (*Result, error) {
	d.buffered += block.Duration()

	res, err := d.recognizer.Accept(block.Bytes())
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	log.Debug().
		Str("text", res.Text).
		Bool("final", res.IsFinal).
		Dur("utterance", d.buffered).
		Msg("発話を認識しました")
	d.buffered = 0

	return res, nil
}

// Matches は確定結果が合図に一致するかを返す。途中結果は常に false
func (d *Detector) Matches(res *Result) bool {
	if res == nil || !res.IsFinal {
		return false
	}
	return d.triggers.Matches(res.Text)
}

// Reset は蓄積中の発話を破棄する
// 撮影中に流れ込んだ音声で再度合図が検出されないようにするために使う
func (d *Detector) Reset() {
	d.recognizer.Reset()
	d.buffered = 0
}

// Close は認識器を解放する
func (d *Detector) Close() {
	d.recognizer.Close()
}
