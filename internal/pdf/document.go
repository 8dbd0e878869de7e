package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var disableConfigDir sync.Once

// pdfcpu の設定はジョブごとに生成する（Configuration は呼び出し中に書き換えられるため共有しない）。
func newConfiguration() *model.Configuration {
	disableConfigDir.Do(pdfapi.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Document はメモリ上に読み込まれたPDFです。
type Document struct {
	path string
	ctx  *model.Context
}

// OpenDocument は path のPDFを読み込み、検証します。
func OpenDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioFailure(fmt.Sprintf("PDFファイルを開けませんでした: %s", filepath.Base(path)), err)
	}
	defer f.Close()

	ctx, err := pdfapi.ReadContext(f, newConfiguration())
	if err != nil {
		return nil, ioFailure(fmt.Sprintf("PDFの読み込みに失敗しました: %s", filepath.Base(path)), err)
	}
	if err := pdfapi.ValidateContext(ctx); err != nil {
		return nil, ioFailure(fmt.Sprintf("PDFの検証に失敗しました: %s", filepath.Base(path)), err)
	}
	if err := pdfapi.OptimizeContext(ctx); err != nil {
		return nil, ioFailure(fmt.Sprintf("PDFの最適化に失敗しました: %s", filepath.Base(path)), err)
	}
	return &Document{path: path, ctx: ctx}, nil
}

// Path は読み込み元のパスを返します。
func (d *Document) Path() string {
	return d.path
}

// PageCount はページ数を返します。
func (d *Document) PageCount() int {
	return d.ctx.PageCount
}

// PageRotation は pageNr（1始まり）の実効回転角を返します。継承された /Rotate も考慮します。
func (d *Document) PageRotation(pageNr int) (int, error) {
	if err := d.checkPage(pageNr); err != nil {
		return 0, err
	}
	_, _, inh, err := d.ctx.PageDict(pageNr, false)
	if err != nil {
		return 0, ioFailure(fmt.Sprintf("ページ %d の読み込みに失敗しました。", pageNr), err)
	}
	if inh == nil {
		return 0, nil
	}
	rot, err := NormalizeRotation(inh.Rotate)
	if err != nil {
		// 不正な /Rotate を持つPDFは 0 とみなす
		return 0, nil
	}
	return rot, nil
}

// SetPageRotation は pageNr の回転角を degrees に設定します。
func (d *Document) SetPageRotation(pageNr, degrees int) error {
	if err := d.checkPage(pageNr); err != nil {
		return err
	}
	degrees, err := NormalizeRotation(degrees)
	if err != nil {
		return err
	}
	dict, _, _, err := d.ctx.PageDict(pageNr, false)
	if err != nil {
		return ioFailure(fmt.Sprintf("ページ %d の読み込みに失敗しました。", pageNr), err)
	}
	if dict == nil {
		return ioFailure(fmt.Sprintf("ページ %d が見つかりません。", pageNr), nil)
	}
	dict.Update("Rotate", types.Integer(degrees))
	return nil
}

// RotatePage は pageNr の回転角に angle を加算します（(current + angle) mod 360）。
func (d *Document) RotatePage(pageNr, angle int) error {
	current, err := d.PageRotation(pageNr)
	if err != nil {
		return err
	}
	return d.SetPageRotation(pageNr, current+angle)
}

func (d *Document) checkPage(pageNr int) error {
	if pageNr < 1 || pageNr > d.PageCount() {
		return invalidArgument(fmt.Sprintf("ページ番号は 1〜%d の範囲で指定してください (received: %d)", d.PageCount(), pageNr))
	}
	return nil
}

// WriteDocument は doc を path に書き出します。書き込みは一時ファイル経由で行い、
// 失敗時に path へ不完全なファイルを残しません。
func WriteDocument(doc *Document, path string) error {
	if doc == nil {
		return invalidArgument("書き込むドキュメントがありません。")
	}
	return commitOutput(path, func(tmpPath string) error {
		f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return err
		}
		if err := pdfapi.WriteContext(doc.ctx, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// mergeDocuments は inputs を順に連結し output に書き出します。
// 各ページの属性（回転など）は保持されます。
func mergeDocuments(inputs []string, output string) error {
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return ioFailure(fmt.Sprintf("PDFファイルを開けませんでした: %s", filepath.Base(in)), err)
		}
		if info.IsDir() {
			return ioFailure(fmt.Sprintf("PDFファイルではありません: %s", filepath.Base(in)), nil)
		}
	}
	return commitOutput(output, func(tmpPath string) error {
		return pdfapi.MergeCreateFile(inputs, tmpPath, false, newConfiguration())
	})
}

// commitOutput は output と同じディレクトリに一時ファイルを作り、write 成功後に rename します。
func commitOutput(output string, write func(tmpPath string) error) error {
	if output == "" {
		return invalidArgument("出力先のパスを指定してください。")
	}
	dir, base := filepath.Split(output)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return ioFailure(fmt.Sprintf("出力ファイルを作成できませんでした: %s", base), err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ioFailure(fmt.Sprintf("出力ファイルを作成できませんでした: %s", base), err)
	}

	if err := write(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return err
		}
		return ioFailure(fmt.Sprintf("PDFの書き込みに失敗しました: %s", base), err)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		_ = os.Remove(tmpPath)
		return ioFailure(fmt.Sprintf("出力ファイルの確定に失敗しました: %s", base), err)
	}
	if err := os.Rename(tmpPath, output); err != nil {
		_ = os.Remove(tmpPath)
		return ioFailure(fmt.Sprintf("出力ファイルの確定に失敗しました: %s", base), err)
	}
	return nil
}
