package preview

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// referenceHeight の画面で文字サイズが referenceFontSize になるよう比例させる
const (
	referenceHeight   = 1080
	referenceFontSize = 100
)

// Renderer は表示面のサイズに合わせた画像を作る
type Renderer struct {
	width      int
	height     int
	background color.Color
	face       font.Face
}

// NewRenderer は新しいRendererを作成する
func NewRenderer(width, height int, background color.Color) (*Renderer, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("フォントの読み込みに失敗: %w", err)
	}

	size := float64(referenceFontSize) * float64(height) / referenceHeight
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("フォントフェイスの作成に失敗: %w", err)
	}

	return &Renderer{
		width:      width,
		height:     height,
		background: background,
		face:       face,
	}, nil
}

// Bounds は表示面の範囲を返す
func (r *Renderer) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.width, r.height)
}

func (r *Renderer) canvas() *image.RGBA {
	dst := image.NewRGBA(r.Bounds())
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.background), image.Point{}, draw.Src)
	return dst
}

// FitSize は w×h の画像を縦横比を保って表示面に収めたときのサイズを返す
func (r *Renderer) FitSize(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := min(float64(r.width)/float64(w), float64(r.height)/float64(h))
	return int(float64(w) * scale), int(float64(h) * scale)
}

// Fit は画像を縦横比を保って拡大縮小し、表示面の中央に配置する
func (r *Renderer) Fit(img image.Image) *image.RGBA {
	dst := r.canvas()

	sb := img.Bounds()
	w, h := r.FitSize(sb.Dx(), sb.Dy())
	if w == 0 || h == 0 {
		return dst
	}

	x := (r.width - w) / 2
	y := (r.height - h) / 2
	draw.ApproxBiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), img, sb, draw.Over, nil)
	return dst
}

// StatusFrame は背景色の画面の中央に黒い文字を描く
func (r *Renderer) StatusFrame(text string) *image.RGBA {
	dst := r.canvas()

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: r.face,
	}

	metrics := r.face.Metrics()
	textWidth := d.MeasureString(text)
	textHeight := metrics.Ascent + metrics.Descent

	d.Dot = fixed.Point26_6{
		X: (fixed.I(r.width) - textWidth) / 2,
		Y: (fixed.I(r.height)-textHeight)/2 + metrics.Ascent,
	}
	d.DrawString(text)

	return dst
}

// ParseHexColor は "#rrggbb" または "#rgb" 形式の色を解析する
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("色の形式が不正です: %q", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("色の形式が不正です: %q", s)
	}

	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, nil
}
