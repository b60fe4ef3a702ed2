package trigger

import (
	"errors"
	"sync"
)

// Result は発話ひとつ分の認識結果
type Result struct {
	Text    string // 認識されたテキスト
	IsFinal bool   // 確定結果かどうか（途中結果は無視される）
}

// Recognizer はストリーミング音声認識のインターフェース
type Recognizer interface {
	// Accept はPCM16LEのデータを投入する
	// 発話の区切りに達した場合のみ結果を返し、それ以外は nil を返す
	Accept(pcm []byte) (*Result, error)

	// Reset は途中まで蓄積された発話を破棄する
	Reset()

	// Close はリソースを解放する
	Close()

	// Name は認識エンジン名を返す（ログ用）
	Name() string
}

// ErrRecognizerClosed は解放済みの認識器を使おうとした場合に返される
var ErrRecognizerClosed = errors.New("認識器は解放済みです")

// MockRecognizer はテスト用のRecognizer実装
// 指定したブロック数ごとに、用意された発話を順に返す
type MockRecognizer struct {
	mu         sync.Mutex
	utterances []Result
	every      int
	fed        int
	resets     int
	closed     bool
	err        error
}

// NewMockRecognizer は every ブロックごとに utterances を1件ずつ確定結果として返す認識器を作る
func NewMockRecognizer(every int, utterances ...string) *MockRecognizer {
	results := make([]Result, 0, len(utterances))
	for _, u := range utterances {
		results = append(results, Result{Text: u, IsFinal: true})
	}
	if every < 1 {
		every = 1
	}
	return &MockRecognizer{utterances: results, every: every}
}

// Push は次に返す結果を末尾に追加する
func (m *MockRecognizer) Push(r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utterances = append(m.utterances, r)
}

// SetError は次回以降の Accept で返すエラーを設定する
func (m *MockRecognizer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Accept はブロックを数え、区切りに達したら次の発話を返す
func (m *MockRecognizer) Accept(_ []byte) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrRecognizerClosed
	}
	if m.err != nil {
		return nil, m.err
	}

	m.fed++
	if m.fed%m.every != 0 || len(m.utterances) == 0 {
		return nil, nil
	}

	r := m.utterances[0]
	m.utterances = m.utterances[1:]
	return &r, nil
}

// Reset は蓄積中のブロック数をリセットする
func (m *MockRecognizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fed = 0
	m.resets++
}

// Close は認識器を解放済みにする
func (m *MockRecognizer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Name はエンジン名を返す
func (m *MockRecognizer) Name() string {
	return "mock"
}

// Fed は投入されたブロック数を返す
func (m *MockRecognizer) Fed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fed
}

// Resets は Reset が呼ばれた回数を返す
func (m *MockRecognizer) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}
