package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat は対応していない拡張子の場合のエラー
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Result はファイルから抽出した本文
type Result struct {
	// Title は拡張子を除いたファイル名
	Title     string
	Content   string
	FileName  string
	PageCount int
	Format    string
}

// File は拡張子に応じてファイルから本文を抽出する
func File(path string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		content   string
		pageCount int
		err       error
	)
	switch ext {
	case ".txt":
		content, err = readText(path)
	case ".md", ".markdown":
		var raw string
		raw, err = readText(path)
		if err == nil {
			content, err = MarkdownToText([]byte(raw))
		}
	case ".pdf":
		content, pageCount, err = readPDF(path)
	case ".docx":
		content, err = readDOCX(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
	}

	base := filepath.Base(path)
	return &Result{
		Title:     strings.TrimSuffix(base, filepath.Ext(base)),
		Content:   strings.TrimSpace(content),
		FileName:  base,
		PageCount: pageCount,
		Format:    strings.TrimPrefix(ext, "."),
	}, nil
}

func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("file is not valid UTF-8")
	}
	return string(b), nil
}
