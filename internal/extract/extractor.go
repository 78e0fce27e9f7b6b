// Package extract provides text extraction from uploaded document formats.
package extract

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hyperjump/chishiki/internal/kberrors"
)

// supportedExtensions are the upload formats the extractor understands.
var supportedExtensions = []string{".txt", ".md", ".markdown", ".pdf", ".epub"}

// SupportedExtensions returns the accepted file extensions, with leading dots.
func SupportedExtensions() []string {
	out := make([]string, len(supportedExtensions))
	copy(out, supportedExtensions)
	return out
}

// IsSupported reports whether ext (with leading dot, any case) is an accepted format.
func IsSupported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range supportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Extractor converts stored files into normalized text.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its normalized text content.
// The format is selected by extension; unsupported extensions fail with a
// validation error. A PDF with no extractable text yields an empty string,
// not an error: the caller decides whether empty content is fatal.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".markdown":
		return extractPlain(path)
	case ".pdf":
		return extractPDF(path)
	case ".epub":
		return extractEPUB(path)
	default:
		return "", kberrors.Validation("unsupported file format %q, supported: %s", ext, strings.Join(supportedExtensions, " "))
	}
}

var (
	horizontalWS = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

// Normalize canonicalizes extracted text: line endings collapsed to LF, runs of
// horizontal whitespace collapsed to one space, runs of blank lines collapsed
// to a single blank line, and the whole trimmed.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalWS.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
