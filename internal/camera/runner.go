package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner は外部コマンドを実行する
type Runner interface {
	// Run はコマンドを実行して標準出力を返す
	// 終了コードが0以外の場合はエラーを返す
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner は os/exec によるRunner実装
type ExecRunner struct{}

// Run はコマンドを実行する
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s の実行に失敗: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Call はMockRunnerが受け取った呼び出し
type Call struct {
	Name string
	Args []string
}

// MockRunner はテスト用のRunner実装
type MockRunner struct {
	mu      sync.Mutex
	calls   []Call
	handler func(call Call) ([]byte, error)
}

// NewMockRunner は handler で応答するMockRunnerを作成する
// handler が nil の場合はすべて成功する
func NewMockRunner(handler func(call Call) ([]byte, error)) *MockRunner {
	return &MockRunner{handler: handler}
}

// Run は呼び出しを記録して handler の結果を返す
func (m *MockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return nil, nil
	}
	return handler(call)
}

// Calls は記録された呼び出しの一覧を返す
func (m *MockRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
