package booth

// State はコントローラーの状態
type State int

const (
	StateIdle             State = iota // 起動直後
	StateAwaitingCue                   // プレビュー表示中で合図を待っている
	StatePreparing                     // フィードを止めてカウントダウン中
	StateCapturing                     // 撮影中
	StateReviewing                     // 撮影結果を表示中
	StateRestartingStream              // フィードを再開中
	StateDegraded                      // フィードを再開できず、オペレーターの対応待ち
	StateStopped                       // 終了済み
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCue:
		return "awaiting_cue"
	case StatePreparing:
		return "preparing"
	case StateCapturing:
		return "capturing"
	case StateReviewing:
		return "reviewing"
	case StateRestartingStream:
		return "restarting_stream"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// hasLiveStream はその状態でフィードが生きているべきかを返す
func (s State) hasLiveStream() bool {
	return s == StateIdle || s == StateAwaitingCue
}
