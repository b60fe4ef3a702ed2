package preview

import (
	"image"
	"sync"
)

// Display は画像を表示する描画面
type Display interface {
	Show(img image.Image) error
}

// RecordingDisplay は表示された画像を記録するテスト用のDisplay実装
type RecordingDisplay struct {
	mu    sync.Mutex
	shown []image.Image
}

// NewRecordingDisplay は新しいRecordingDisplayを作成する
func NewRecordingDisplay() *RecordingDisplay {
	return &RecordingDisplay{}
}

// Show は画像を記録する
func (d *RecordingDisplay) Show(img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, img)
	return nil
}

// Count は表示された画像の数を返す
func (d *RecordingDisplay) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shown)
}

// Last は最後に表示された画像を返す
func (d *RecordingDisplay) Last() image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.shown) == 0 {
		return nil
	}
	return d.shown[len(d.shown)-1]
}
