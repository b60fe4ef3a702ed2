package preview

import (
	"bytes"
	"image"
	_ "image/jpeg" // 写真とフレームのデコード用
	_ "image/png"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"cheesebooth/internal/camera"
)

// Loop はプレビュー映像と撮影シーケンスの表示を担う
type Loop struct {
	display  Display
	renderer *Renderer

	mu         sync.Mutex
	lastFrame  *camera.Frame
	lastStatus string
}

// NewLoop は新しいLoopを作成する
func NewLoop(display Display, renderer *Renderer) *Loop {
	return &Loop{
		display:  display,
		renderer: renderer,
	}
}

// RenderFrame は映像の最新フレームを表示する。表示できた場合は true
func (l *Loop) RenderFrame(src camera.FrameSource) bool {
	if src == nil {
		return false
	}

	frame, ok := src.Next()
	if !ok {
		return false
	}

	img, _, err := image.Decode(bytes.NewReader(frame.JPEG))
	if err != nil {
		log.Debug().Err(err).Msg("フレームのデコードに失敗しました")
		return false
	}

	l.mu.Lock()
	l.lastFrame = &frame
	l.lastStatus = ""
	l.mu.Unlock()

	l.show(l.renderer.Fit(img))
	return true
}

// ShowStatus は画面全体に文字を表示する
func (l *Loop) ShowStatus(text string) {
	l.mu.Lock()
	l.lastStatus = text
	l.mu.Unlock()

	log.Debug().Str("status", text).Msg("ステータスを表示します")
	l.show(l.renderer.StatusFrame(text))
}

// ShowImage は撮影した写真を表示する。読み込めない場合は false
func (l *Loop) ShowImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("写真を開けません")
		return false
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("写真を読み込めません")
		return false
	}

	l.mu.Lock()
	l.lastStatus = ""
	l.mu.Unlock()

	l.show(l.renderer.Fit(img))
	return true
}

// LastFrame は最後に表示したプレビューフレームを返す
func (l *Loop) LastFrame() *camera.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFrame
}

// LastStatus は表示中のステータス文字列を返す。映像や写真の表示中は空
func (l *Loop) LastStatus() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastStatus
}

func (l *Loop) show(img image.Image) {
	if err := l.display.Show(img); err != nil {
		log.Warn().Err(err).Msg("画面の更新に失敗しました")
	}
}
