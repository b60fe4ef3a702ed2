package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog/log"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxFrameSize を超えてもEOIが届かないフレームは壊れているものとして捨てる
const maxFrameSize = 8 << 20

// V4L2Capturer はffmpegを使ってV4L2デバイスからJPEGフレームを取得する
type V4L2Capturer struct {
	devicePath string
	width      int
	height     int
	fps        int
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する
// width, height, fps が0の場合はデバイスの既定値を使う
func NewV4L2Capturer(devicePath string, width, height, fps int) *V4L2Capturer {
	return &V4L2Capturer{
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
	}
}

// Device はデバイスパスを返す
func (c *V4L2Capturer) Device() string {
	return c.devicePath
}

// streamArgs は連続キャプチャ用のffmpeg引数を組み立てる
func (c *V4L2Capturer) streamArgs() []string {
	args := []string{"-loglevel", "error", "-f", "v4l2"}
	if c.width > 0 && c.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.width, c.height))
	}
	if c.fps > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.fps))
	}
	return append(args,
		"-i", c.devicePath,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
}

// StartStream は連続キャプチャを開始し、JPEGフレームを frameChan へ送る
// ffmpegが終了するかコンテキストがキャンセルされると frameChan を閉じる
func (c *V4L2Capturer) StartStream(ctx context.Context, frameChan chan<- []byte, errorChan chan<- error) {
	fail := func(err error) {
		select {
		case errorChan <- err:
		case <-ctx.Done():
		}
		close(frameChan)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", c.streamArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail(fmt.Errorf("stdoutパイプの作成に失敗: %w", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		fail(fmt.Errorf("stderrパイプの作成に失敗: %w", err))
		return
	}

	if err := cmd.Start(); err != nil {
		fail(fmt.Errorf("ffmpegの起動に失敗: %w", err))
		return
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug().Str("device", c.devicePath).Str("ffmpeg", scanner.Text()).Msg("ffmpegの出力")
		}
	}()

	go func() {
		defer close(frameChan)
		defer func() {
			_ = cmd.Wait() // キャンセル時にもエラーになるため無視する
		}()

		if err := readFrames(ctx, stdout, frameChan); err != nil {
			select {
			case errorChan <- err:
			default:
			}
		}
	}()
}

// readFrames は r からJPEGフレームを切り出して送信する
func readFrames(ctx context.Context, r io.Reader, frameChan chan<- []byte) error {
	buffer := make([]byte, 256*1024)
	var pending []byte

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			var frames [][]byte
			frames, pending = splitJPEGFrames(append(pending, buffer[:n]...))
			for _, frame := range frames {
				select {
				case frameChan <- frame:
				case <-ctx.Done():
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}

// splitJPEGFrames はSOI/EOIマーカーでデータを完全なJPEGフレームに分割する
// 未完成の末尾は rest として返す。SOIより前のデータは捨てる
func splitJPEGFrames(data []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(data, jpegSOI)
		if start == -1 {
			// マーカーの前半だけが末尾に届いている場合に備えて1バイト残す
			if len(data) > 0 && data[len(data)-1] == 0xFF {
				return frames, []byte{0xFF}
			}
			return frames, nil
		}

		end := bytes.Index(data[start+2:], jpegEOI)
		if end == -1 && len(data)-start <= maxFrameSize {
			rest = make([]byte, len(data)-start)
			copy(rest, data[start:])
			return frames, rest
		}
		if end == -1 || end+len(jpegSOI)+len(jpegEOI) > maxFrameSize {
			// EOIが届かない壊れたフレームは捨て、次のSOIから同期し直す
			next := bytes.Index(data[start+2:], jpegSOI)
			if next == -1 {
				return frames, nil
			}
			data = data[start+2+next:]
			continue
		}

		end += start + 2 + len(jpegEOI)
		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		frames = append(frames, frame)

		data = data[end:]
	}
}
