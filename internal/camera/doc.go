// Package camera 撮影デバイスの制御とプレビュー映像の読み出しを担う
//
// # 責務
// - gphoto2 経由での外部カメラの設定と静止画撮影（リトライ付き）
// - USBDEVFS_RESET によるカメラのUSBリセット
// - Webカメラモードでのプレビューフレームの保存
// - V4L2デバイスからのプレビュー映像の読み出し
//
// # 仕様
// - Driver: 設定・リセット・撮影の抽象。撮影は数秒ブロックするため描画経路からは呼ばない
// - GPhotoDriver: 設定の失敗は致命的ではなく、ログに記録して撮影を続行する
// - FeedSource: ffmpeg の image2pipe 出力をJPEGマーカーで分割し、最新フレームのみ保持する
// - DetectUSBPort: 起動時に一度だけ `gphoto2 --auto-detect` で接続先を調べる
//
// # 前提要件
//   - gphoto2: 外部カメラの制御に使用
//     Ubuntu/Debian: sudo apt install gphoto2
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: プレビュー映像の読み出しに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加とusbfsへの書き込み権限
//     sudo usermod -a -G video,plugdev $USER
package camera
