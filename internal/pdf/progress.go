package pdf

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// batchPercent は load 10% / process 10→90% / write 90→100% の配分で処理中の進捗を返します。
func batchPercent(done, total int) int {
	if total <= 0 {
		return 90
	}
	return 10 + (80*done)/total
}
