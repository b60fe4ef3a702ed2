// Package booth は音声の合図から撮影までの一連の流れを制御する
//
// # 責務
// - 音声ブロックを取り出し、プレビューを更新し、認識器へ渡す単一のループ
// - 合図を検出したらフィードを止め、カウントダウンを表示しながら撮影し、結果を表示してフィードを再開する
// - 撮影デバイスの連続失敗時に撮影を一時停止する（サーキットブレーカー）
// - ステータスサーバー向けに現在の状態を公開する
//
// # 仕様
// - 撮影は別ゴルーチンで実行し、フィードの再開前に必ず完了を待つ
// - フィードが生きているのは Idle と AwaitingCue の間だけ
// - 終了要求はループの区切りでのみ確認する。撮影中のサイクルは最後まで実行し、フィードの再開だけを省略する
// - フィードを再開できない場合は Degraded に入り、音声は読み続けるが合図は無視する
package booth
