package stream

import (
	"context"
	"time"

	"cheesebooth/internal/camera"
)

// Opener はプレビュー映像を開く
type Opener interface {
	// Open は映像を開く。まだ読めない場合はエラーを返す
	Open(ctx context.Context) (camera.FrameSource, error)
}

// V4L2Opener はV4L2デバイスを開き、最初のフレームが届けば成功とする
type V4L2Opener struct {
	capturer *camera.V4L2Capturer
	timeout  time.Duration
}

// NewV4L2Opener は新しいV4L2Openerを作成する
func NewV4L2Opener(device string, width, height, fps int, timeout time.Duration) *V4L2Opener {
	return &V4L2Opener{
		capturer: camera.NewV4L2Capturer(device, width, height, fps),
		timeout:  timeout,
	}
}

// Open はデバイスの読み出しを開始する
func (o *V4L2Opener) Open(ctx context.Context) (camera.FrameSource, error) {
	return camera.OpenFeed(ctx, o.capturer, o.timeout)
}
