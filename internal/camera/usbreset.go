package camera

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// usbdevfsReset は USBDEVFS_RESET ioctl のリクエスト番号 (_IO('U', 20))
const usbdevfsReset = 21780

// Port はUSBのバス番号とデバイス番号の組
type Port struct {
	Bus    int
	Device int
}

// ParsePort は "001,037" 形式（"usb:" 接頭辞も可）のポート指定を解析する
func ParsePort(s string) (Port, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "usb:")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Port{}, fmt.Errorf("USBポートの形式が不正です: %q", s)
	}

	bus, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || bus < 1 {
		return Port{}, fmt.Errorf("USBバス番号が不正です: %q", parts[0])
	}
	dev, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || dev < 1 {
		return Port{}, fmt.Errorf("USBデバイス番号が不正です: %q", parts[1])
	}

	return Port{Bus: bus, Device: dev}, nil
}

// IsZero はポートが未設定かを返す
func (p Port) IsZero() bool {
	return p.Bus == 0 && p.Device == 0
}

// Path はusbfsのデバイスファイルのパスを返す
func (p Port) Path() string {
	return fmt.Sprintf("/dev/bus/usb/%03d/%03d", p.Bus, p.Device)
}

func (p Port) String() string {
	return fmt.Sprintf("%03d,%03d", p.Bus, p.Device)
}

// Resetter はUSBデバイスをリセットする
type Resetter interface {
	Reset(port Port) error
}

// ErrUnknownPort はUSBポートが不明なままリセットしようとした場合に返される
var ErrUnknownPort = errors.New("USBポートが設定されていません")

// ioctlResetter はusbfsへのioctlでリセットを行う
type ioctlResetter struct{}

func (ioctlResetter) Reset(port Port) error {
	if port.IsZero() {
		return ErrUnknownPort
	}

	f, err := os.OpenFile(port.Path(), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("USBデバイスを開けません: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := unix.IoctlSetInt(int(f.Fd()), usbdevfsReset, 0); err != nil {
		return fmt.Errorf("USBDEVFS_RESET に失敗: %w", err)
	}

	log.Info().Str("device", port.Path()).Msg("USBデバイスをリセットしました")
	return nil
}
