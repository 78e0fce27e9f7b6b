package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/chishiki/internal/kberrors"
)

// extractPDF concatenates per-page text with blank-line separators.
// The pdf package panics on some malformed files, so decoding is guarded.
func extractPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kberrors.Extraction("decode PDF", fmt.Errorf("%v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", kberrors.Extraction("open PDF", err)
	}
	defer f.Close()

	var parts []string
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", kberrors.Extraction(fmt.Sprintf("extract page %d", i), err)
		}
		if strings.TrimSpace(pageText) != "" {
			parts = append(parts, pageText)
		}
	}
	return Normalize(strings.Join(parts, "\n\n")), nil
}
