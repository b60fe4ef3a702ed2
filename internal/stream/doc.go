// Package stream はプレビュー映像のフィードの起動・停止・再開を担う
//
// # 責務
// - 外部カメラをライブビューに設定し、仮想カメラへ映像を流すパイプラインを起動する
// - パイプラインをプロセスグループごと終了させる
// - 撮影後にフィードを再起動し、映像が読めるようになるまで一定回数ポーリングする
//
// # 仕様
// - 同時に存在できるフィードは1つだけ。起動中に Start を呼ぶと ErrAlreadyLive
// - Stop は冪等。終了済みのフィードや nil を渡しても成功する
// - RestartWithRetry は試行回数を使い切った場合のみ ErrStreamNotReady を返し、起動したフィードは停止する
// - プロセスIDはこのパッケージの外に出さない
package stream
