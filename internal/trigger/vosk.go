package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
)

// VoskRecognizer はVoskによるストリーミング認識
type VoskRecognizer struct {
	mu         sync.Mutex
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
}

var errVoskAccept = errors.New("Voskの音声処理に失敗")

// voskResult はVoskが返すJSONの構造
type voskResult struct {
	Text string `json:"text"`
}

// NewVosk はモデルを読み込み、指定のサンプリングレートで認識器を作成する
func NewVosk(modelPath string, sampleRate int) (*VoskRecognizer, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("Voskモデルが見つかりません: %s", modelPath)
	}

	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("Voskモデルの読み込みに失敗: %w", err)
	}

	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("Vosk認識器の作成に失敗: %w", err)
	}

	return &VoskRecognizer{
		model:      model,
		recognizer: rec,
	}, nil
}

// Accept は音声を投入し、発話の区切りで確定結果を返す
func (v *VoskRecognizer) Accept(pcm []byte) (*Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.recognizer == nil {
		return nil, ErrRecognizerClosed
	}

	switch v.recognizer.AcceptWaveform(pcm) {
	case 0:
		return nil, nil
	case -1:
		return nil, errVoskAccept
	}

	var res voskResult
	if err := json.Unmarshal([]byte(v.recognizer.Result()), &res); err != nil {
		return nil, fmt.Errorf("Voskの結果の解析に失敗: %w", err)
	}
	return &Result{Text: res.Text, IsFinal: true}, nil
}

// Reset は蓄積中の発話を破棄する
func (v *VoskRecognizer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.recognizer != nil {
		v.recognizer.Reset()
	}
}

// Close はリソースを解放する
func (v *VoskRecognizer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.recognizer != nil {
		v.recognizer.Free()
		v.recognizer = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
}

// Name はエンジン名を返す
func (v *VoskRecognizer) Name() string {
	return "vosk"
}
