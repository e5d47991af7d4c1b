package extract

import (
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// readPDF はページごとのプレーンテキストを連結し、ページ数とともに返す
func readPDF(path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", 0, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, err
		}
		if t := strings.TrimSpace(pageText); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n\n"), numPages, nil
}
