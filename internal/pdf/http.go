package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// JobRunner はジョブを実行できるサービスが実装します。
type JobRunner interface {
	RunJob(ctx context.Context, jobID string, hooks JobHooks) (*Result, error)
	DiscardJob(jobID string) error
}

// MergeService は結合ジョブの準備と実行を提供します。
type MergeService interface {
	JobRunner
	PrepareMergeJob(ctx context.Context, files []*multipart.FileHeader, order []int, groups [][]int) (*JobManifest, error)
}

// RotateService は回転ジョブの準備と実行を提供します。
type RotateService interface {
	JobRunner
	PrepareRotateJob(ctx context.Context, files []*multipart.FileHeader, angles []int, page int) (*JobManifest, error)
}

// InspectService は単一PDFの情報取得を提供します。
type InspectService interface {
	InspectMultipart(ctx context.Context, file *multipart.FileHeader) (*InspectResult, error)
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, op OperationType, jobID string) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int
}

// MergeHandler は POST /api/pdf/merge のハンドラーを返します。
//
// order（JSON配列 or order[]）で結合順を、groups（JSON 2次元配列）で複数の結合ジョブを指定できます。
func MergeHandler(svc MergeService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := parseForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) == 0 {
			badRequest(c, "アップロードされたPDFファイルが見つかりません。")
			return
		}

		order, err := parseOrder(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		groups, err := parseGroups(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		manifest, err := svc.PrepareMergeJob(c.Request.Context(), files, order, groups)
		if err != nil {
			respondWithError(c, err)
			return
		}
		dispatch(c, svc, manifest, opts, "結合結果の読み込みに失敗しました")
	}
}

// RotateHandler は POST /api/pdf/rotate のハンドラーを返します。
//
// angle で全ファイル共通の角度を、angles でファイルごとの角度を指定します。
// page を指定した場合はそのページのみを回転します。
func RotateHandler(svc RotateService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := parseForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) == 0 {
			badRequest(c, "アップロードされたPDFファイルが見つかりません。")
			return
		}

		angles, err := parseAngles(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		page, err := parsePage(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		manifest, err := svc.PrepareRotateJob(c.Request.Context(), files, angles, page)
		if err != nil {
			respondWithError(c, err)
			return
		}
		dispatch(c, svc, manifest, opts, "回転結果の読み込みに失敗しました")
	}
}

// InspectHandler は POST /api/pdf/inspect のハンドラーを返します。
func InspectHandler(svc InspectService) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := parseForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) != 1 {
			badRequest(c, "PDFファイルを1つ選択してください。")
			return
		}

		result, err := svc.InspectMultipart(c.Request.Context(), files[0])
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// dispatch はしきい値に応じてジョブをキューへ投入するか、その場で実行して成果物を返します。
func dispatch(c *gin.Context, svc JobRunner, manifest *JobManifest, opts HandlerOptions, readErrMsg string) {
	if shouldProcessAsync(manifest, opts) {
		if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.Operation, manifest.JobID); err != nil {
			if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
				err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
			}
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
		return
	}

	result, err := svc.RunJob(c.Request.Context(), manifest.JobID, JobHooks{})
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer result.Cleanup()

	if err := streamResult(c, result, readErrMsg); err != nil {
		respondWithError(c, err)
	}
}

func shouldProcessAsync(manifest *JobManifest, opts HandlerOptions) bool {
	if manifest == nil || opts.Scheduler == nil {
		return false
	}

	if opts.AsyncThresholdBytes > 0 {
		var total int64
		for _, f := range manifest.Files {
			total += f.Size
		}
		if total > opts.AsyncThresholdBytes {
			return true
		}
	}

	if opts.AsyncThresholdPages > 0 {
		var total int
		for _, f := range manifest.Files {
			total += f.Pages
		}
		if total > opts.AsyncThresholdPages {
			return true
		}
	}

	return false
}

func parseForm(c *gin.Context) (*multipart.Form, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart/form-data でPDFファイルを送信してください。")
		return nil, false
	}
	return form, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    CodeInvalidInput,
		"message": message,
	})
}

func extractFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, key := range []string{"files[]", "files", "file"} {
		if files := form.File[key]; len(files) > 0 {
			return files
		}
	}
	return nil
}

func parseOrder(c *gin.Context) ([]int, error) {
	raw := strings.TrimSpace(c.PostForm("order"))
	if raw != "" {
		var order []int
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, errors.New("order は JSON 形式の整数配列で指定してください。例: [0,1,2]")
		}
		return order, nil
	}

	if values := c.PostFormArray("order[]"); len(values) > 0 {
		return parseIntValues("order[]", values)
	}

	return nil, nil
}

func parseGroups(c *gin.Context) ([][]int, error) {
	raw := strings.TrimSpace(c.PostForm("groups"))
	if raw == "" {
		return nil, nil
	}
	var groups [][]int
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, errors.New("groups は JSON 形式の2次元整数配列で指定してください。例: [[0,1],[2]]")
	}
	if len(groups) == 0 {
		return nil, errors.New("groups が空です。")
	}
	return groups, nil
}

func parseAngles(c *gin.Context) ([]int, error) {
	if raw := strings.TrimSpace(c.PostForm("angle")); raw != "" {
		angle, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("angle は整数で指定してください。")
		}
		return []int{angle}, nil
	}

	if raw := strings.TrimSpace(c.PostForm("angles")); raw != "" {
		var angles []int
		if err := json.Unmarshal([]byte(raw), &angles); err != nil {
			return nil, errors.New("angles は JSON 形式の整数配列で指定してください。例: [90,180]")
		}
		return angles, nil
	}

	if values := c.PostFormArray("angles[]"); len(values) > 0 {
		return parseIntValues("angles[]", values)
	}

	return nil, errors.New("回転角度を指定してください。")
}

func parsePage(c *gin.Context) (int, error) {
	raw := strings.TrimSpace(c.PostForm("page"))
	if raw == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, errors.New("page は1以上の整数で指定してください。")
	}
	return page, nil
}

func parseIntValues(field string, values []string) ([]int, error) {
	nums := make([]int, len(values))
	for i, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, fmt.Errorf("%s に空の値が含まれています。", field)
		}
		num, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%s の値は整数で指定してください。", field)
		}
		nums[i] = num
	}
	return nums, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(statusForCode(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeIOFailure, CodeProcessingFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func streamResult(c *gin.Context, result *Result, readErrMsg string) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("%s: %w", readErrMsg, err)
	}
	defer file.Close()

	if result.Meta != nil {
		c.Header("X-Batch-Succeeded", strconv.Itoa(len(result.Meta.Succeeded)))
		c.Header("X-Batch-Failed", strconv.Itoa(len(result.Meta.Failed)))
		if len(result.Meta.Failed) > 0 {
			failures, err := batchFailuresHeader(result.Meta.Failed)
			if err != nil {
				return fmt.Errorf("%s: %w", readErrMsg, err)
			}
			c.Header("X-Batch-Failures", failures)
		}
	}
	WriteResult(c, result, file)
	return nil
}

// batchFailureEntry は X-Batch-Failures ヘッダーの要素です。
// メッセージは日本語を含むためヘッダーには載せません。
type batchFailureEntry struct {
	Kind   JobKind `json:"kind,omitempty"`
	Output string  `json:"output,omitempty"`
	Code   string  `json:"code"`
}

// batchFailuresHeader は失敗したジョブの出力名とエラーコードを JSON 配列で返します。
func batchFailuresHeader(failed []FailedJob) (string, error) {
	entries := make([]batchFailureEntry, len(failed))
	for i, f := range failed {
		entries[i] = batchFailureEntry{Kind: f.Kind, Output: f.Output, Code: f.Code}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteResult は成果物をダウンロード用のヘッダー付きでレスポンスに書き込みます。
func WriteResult(c *gin.Context, result *Result, file *os.File) {
	contentType := "application/octet-stream"
	switch result.ResultKind {
	case ResultKindPDF:
		contentType = "application/pdf"
	case ResultKindZIP:
		contentType = "application/zip"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
}
