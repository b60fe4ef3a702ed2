package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
)

// subscriberBuffer は購読者ごとに溜めておくフレーム数
const subscriberBuffer = 2

// Broadcaster は表示された画像をJPEGにエンコードし、購読者へ配信するDisplay実装
// キオスクモードのブラウザでMJPEGを全画面表示することで物理的な画面になる
type Broadcaster struct {
	quality int

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
	latest      []byte
}

// NewBroadcaster は新しいBroadcasterを作成する
func NewBroadcaster(quality int) *Broadcaster {
	return &Broadcaster{
		quality:     quality,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Show は画像をエンコードしてすべての購読者へ送る
// 受信が追いつかない購読者には古いフレームを捨てて最新を送る
func (b *Broadcaster) Show(img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
		return fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	frame := buf.Bytes()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = frame
	for ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
	return nil
}

// Subscribe はフレームを受け取るチャンネルと購読解除の関数を返す
// 表示済みの画像があれば最初に送られる
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	if b.latest != nil {
		ch <- b.latest
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Latest は最後にエンコードしたフレームを返す
func (b *Broadcaster) Latest() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Subscribers は購読者数を返す
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
