// Package trigger は音声から合図のフレーズを検出する
//
// 認識器が発話の区切りで返した確定テキストを、合図フレーズの集合と部分一致で照合する。
// 語幹処理や編集距離は使わない。認識ミスへの耐性はフレーズ集合に聞き間違いを含めることで確保する。
package trigger

import (
	"sort"
	"strings"
)

// Set は合図フレーズの不変な集合
type Set struct {
	phrases []string
}

// NewSet はフレーズを小文字化・トリムして集合を作る。空のフレーズは無視する
func NewSet(phrases ...string) Set {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return Set{phrases: out}
}

// Matches は text にいずれかのフレーズが部分文字列として含まれるかを返す
// 空文字列は一致しない
func (s Set) Matches(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	for _, p := range s.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Phrases はフレーズの一覧をソート済みで返す
func (s Set) Phrases() []string {
	out := make([]string, len(s.phrases))
	copy(out, s.phrases)
	return out
}

// Len はフレーズ数を返す
func (s Set) Len() int {
	return len(s.phrases)
}
