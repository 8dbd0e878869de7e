package pdf

import (
	"errors"
	"fmt"
)

// エラーコード。HTTPレスポンスとジョブレコードの両方で使用します。
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeIOFailure        = "IO_FAILURE"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeUnsupportedPDF   = "UNSUPPORTED_PDF"
	CodeProcessingFailed = "PROCESSING_FAILED"
)

var (
	// ErrInvalidArgument は角度・ページ番号・入力リストなど引数の不正を表します。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIOFailure は文書の読み込み・書き込みに失敗したことを表します。
	ErrIOFailure = errors.New("io failure")
)

// Error はユーザーに提示可能なメッセージを持つ処理エラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func invalidArgument(message string) *Error {
	return newError(CodeInvalidInput, message, nil)
}

func ioFailure(message string, cause error) *Error {
	return newError(CodeIOFailure, message, cause)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap はコードに対応する種別エラーと原因エラーを返します。
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Code {
	case CodeInvalidInput:
		errs = append(errs, ErrInvalidArgument)
	case CodeIOFailure:
		errs = append(errs, ErrIOFailure)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// JobError はバッチ内の1ジョブの失敗を、どのジョブかの情報と共に表します。
type JobError struct {
	Kind   JobKind
	Output string
	Err    error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s job (output %s): %v", e.Kind, e.Output, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// ErrorCode は err に含まれる *Error のコードを返します。該当しない場合は PROCESSING_FAILED です。
func ErrorCode(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeProcessingFailed
}

// ErrorMessage は err に含まれる *Error のメッセージ、なければ err.Error() を返します。
func ErrorMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
