package extract

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/chishiki/internal/kberrors"
)

// extractPlain reads a plain text or Markdown file with forgiving decoding:
// invalid UTF-8 sequences are replaced, never fatal.
func extractPlain(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", kberrors.Storage("read file", err)
	}
	if !utf8.Valid(content) {
		return Normalize(strings.ToValidUTF8(string(content), "�")), nil
	}
	return Normalize(string(content)), nil
}
