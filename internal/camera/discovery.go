package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoCamera は gphoto2 がカメラを検出できなかった場合に返される
var ErrNoCamera = errors.New("カメラが検出されません")

// DetectUSBPort は `gphoto2 --auto-detect` の出力から最初のカメラのUSBポートを取得する
func DetectUSBPort(ctx context.Context, runner Runner) (Port, error) {
	out, err := runner.Run(ctx, gphotoCommand, "--auto-detect")
	if err != nil {
		return Port{}, fmt.Errorf("カメラの自動検出に失敗: %w", err)
	}
	return parseAutoDetect(string(out))
}

// parseAutoDetect は次の形式の出力を解析する
//
//	Model                          Port
//	----------------------------------------------------------
//	Nikon DSC D7000                usb:001,037
func parseAutoDetect(output string) (Port, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) <= 2 {
		return Port{}, ErrNoCamera
	}

	for _, line := range lines[2:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		last := fields[len(fields)-1]
		if !strings.HasPrefix(last, "usb:") {
			continue
		}
		return ParsePort(last)
	}

	return Port{}, ErrNoCamera
}

// VideoDevice はV4L2デバイスの情報
type VideoDevice struct {
	Path string // デバイスパス（例: /dev/video0）
	Name string // v4l2-ctl が返すカード名
}

// LinuxDiscovery はLinux環境でのV4L2デバイス検出を実装する
type LinuxDiscovery struct {
	runner Runner
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery(runner Runner) *LinuxDiscovery {
	return &LinuxDiscovery{runner: runner}
}

// ScanDevices はシステム内のV4L2デバイスを番号順に列挙する
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]VideoDevice, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []VideoDevice
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(match) {
			continue
		}
		devices = append(devices, VideoDevice{Path: match, Name: d.deviceName(ctx, match)})
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが存在し、読み取り可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// deviceName はv4l2-ctlでカード名を取得する。取得できない場合は番号から生成する
func (d *LinuxDiscovery) deviceName(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if output, err := d.runner.Run(ctx, "v4l2-ctl", "--device", device, "--info"); err == nil {
		if name := parseCardType(string(output)); name != "" {
			return name
		}
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// parseCardType は v4l2-ctl --info の出力から "Card type" の値を取り出す
func parseCardType(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

var (
	videoDevicePattern = regexp.MustCompile(`^/dev/video\d+$`)
	deviceNumberRegexp = regexp.MustCompile(`video(\d+)`)
)

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberRegexp.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
