package pdf

import (
	"fmt"

	"github.com/yourusername/paper-batch/internal/batch"
)

// RotatePages は input の全ページの回転角に angle を加算し、output に書き出します。
// angle は入出力の前に正規化され、90 の倍数でなければ ErrInvalidArgument で失敗します。
func RotatePages(input, output string, angle int) (string, error) {
	normalized, err := NormalizeRotation(angle)
	if err != nil {
		return "", err
	}
	if err := checkPaths(input, output); err != nil {
		return "", err
	}

	doc, err := OpenDocument(input)
	if err != nil {
		return "", err
	}
	for page := 1; page <= doc.PageCount(); page++ {
		if err := doc.RotatePage(page, normalized); err != nil {
			return "", err
		}
	}

	if err := WriteDocument(doc, output); err != nil {
		return "", err
	}
	return output, nil
}

// RotatePage は input の pageNumber ページ（1始まり）のみ回転角に angle を加算し、
// 他のページはそのまま output に書き出します。
func RotatePage(input, output string, pageNumber, angle int) (string, error) {
	if pageNumber < 1 {
		return "", invalidArgument(fmt.Sprintf("ページ番号は1以上で指定してください (received: %d)", pageNumber))
	}
	normalized, err := NormalizeRotation(angle)
	if err != nil {
		return "", err
	}
	if err := checkPaths(input, output); err != nil {
		return "", err
	}

	doc, err := OpenDocument(input)
	if err != nil {
		return "", err
	}
	if pageNumber > doc.PageCount() {
		return "", invalidArgument(fmt.Sprintf("ページ番号は 1〜%d の範囲で指定してください (received: %d)", doc.PageCount(), pageNumber))
	}
	if err := doc.RotatePage(pageNumber, normalized); err != nil {
		return "", err
	}

	if err := WriteDocument(doc, output); err != nil {
		return "", err
	}
	return output, nil
}

// BatchRotatePages は RotateJob 群を並行実行します。
func BatchRotatePages(jobs []RotateJob, onSuccess func(string), onFailure func(error), opts ...batch.Option) *batch.Result[string] {
	return runJobs(jobs, onSuccess, onFailure, opts...)
}

// BatchRotatePage は RotatePageJob 群を並行実行します。
func BatchRotatePage(jobs []RotatePageJob, onSuccess func(string), onFailure func(error), opts ...batch.Option) *batch.Result[string] {
	return runJobs(jobs, onSuccess, onFailure, opts...)
}

func checkPaths(input, output string) error {
	if input == "" {
		return invalidArgument("入力PDFのパスを指定してください。")
	}
	if output == "" {
		return invalidArgument("出力先のパスを指定してください。")
	}
	return nil
}
