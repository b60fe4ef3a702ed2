// Package notify はオペレーター向けのデスクトップ通知を送る
package notify

import (
	"fmt"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog/log"
)

const appName = "Cheese Booth"

// Notifier はデスクトップ通知を送る
type Notifier struct {
	enabled bool
	send    func(title, message string) error
}

// New は新しいNotifierを作成する
func New(enabled bool) *Notifier {
	return &Notifier{
		enabled: enabled,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// PhotoSaved は写真の保存を通知する
func (n *Notifier) PhotoSaved(path string) {
	n.notify("撮影しました", filepath.Base(path))
}

// CaptureFailed は撮影の失敗を通知する
func (n *Notifier) CaptureFailed(attempts int) {
	n.notify("撮影に失敗しました", fmt.Sprintf("%d回試行しました。カメラの接続を確認してください", attempts))
}

// StreamDegraded はプレビュー映像を再開できなかったことを通知する
func (n *Notifier) StreamDegraded(err error) {
	n.notify("プレビューが停止しています", fmt.Sprintf("%v。/api/stream/restart またはSIGHUPで再開できます", err))
}

// StreamRecovered はプレビュー映像の復旧を通知する
func (n *Notifier) StreamRecovered() {
	n.notify("プレビューが復旧しました", "合図を待っています")
}

// BreakerOpened は連続失敗により撮影を一時停止したことを通知する
func (n *Notifier) BreakerOpened(failures uint32) {
	n.notify("撮影を一時停止しました", fmt.Sprintf("%d回連続で撮影に失敗しました", failures))
}

func (n *Notifier) notify(title, message string) {
	if !n.enabled {
		return
	}
	// 通知の失敗は致命的ではない
	if err := n.send(appName+": "+title, message); err != nil {
		log.Debug().Err(err).Msg("通知の送信に失敗しました")
	}
}
