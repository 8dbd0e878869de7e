// Package pdf はPDF操作機能を提供します。
//
// 結合・回転の各処理は単体の同期関数（MergeFiles / RotatePages / RotatePage）と、
// 複数ジョブを並行実行するバッチ関数（BatchMerge / BatchRotatePages / BatchRotatePage /
// RunBatch）として提供されます。バッチ内の1ジョブの失敗は他のジョブに影響しません。
package pdf

import (
	"fmt"

	"github.com/yourusername/paper-batch/internal/batch"
)

// MergeFiles は inputs を指定順に連結した1つのPDFを output に書き出し、output を返します。
func MergeFiles(inputs []string, output string) (string, error) {
	if len(inputs) == 0 {
		return "", invalidArgument("結合するPDFファイルを1つ以上指定してください。")
	}
	if output == "" {
		return "", invalidArgument("出力先のパスを指定してください。")
	}
	for i, in := range inputs {
		if in == "" {
			return "", invalidArgument(fmt.Sprintf("%d 番目の入力パスが空です。", i+1))
		}
	}

	if err := mergeDocuments(append([]string(nil), inputs...), output); err != nil {
		return "", err
	}
	return output, nil
}

// BatchMerge は MergeJob 群を並行実行します。
func BatchMerge(jobs []MergeJob, onSuccess func(string), onFailure func(error), opts ...batch.Option) *batch.Result[string] {
	return runJobs(jobs, onSuccess, onFailure, opts...)
}
