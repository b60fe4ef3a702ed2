// Package clock は待機処理を差し替え可能にする小さな部品を提供する
package clock

import (
	"context"
	"time"
)

// SleepFunc は指定時間待機する関数の型
// コンテキストが終了した場合はその時点でエラーを返す
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep はコンテキストを考慮して d だけ待機する
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Recorder はテスト用のSleepFunc実装で、実際には待機せず要求された時間を記録する
type Recorder struct {
	Durations []time.Duration
}

// Sleep は待機時間を記録して即座に戻る
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Durations = append(r.Durations, d)
	return ctx.Err()
}

// Total は記録された待機時間の合計を返す
func (r *Recorder) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Durations {
		total += d
	}
	return total
}
