// Package server は撮影ブースのステータスとプレビューを配信するHTTPサーバーを提供します。
//
// 責務:
//   - ヘルスチェックとコントローラーの状態の公開
//   - 表示面の映像のMJPEG配信（キオスクモードのブラウザで全画面表示する）
//   - オペレーターによるフィードの再開要求の受付
//
// 仕様:
//   - ルーティングには gin を使用
//   - 外部への通信は行わない。写真ギャラリーは別のサービスが担う
//   - コンテキストの終了でグレースフルシャットダウンする
package server
