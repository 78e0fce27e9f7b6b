package extract

import (
	"archive/zip"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/hyperjump/chishiki/internal/kberrors"
)

// extractEPUB treats the file as a ZIP container and strips visible text from
// the contained XHTML/HTML documents, in entry-name order. Container metadata
// under META-INF/ is skipped.
func extractEPUB(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", kberrors.Extraction("open EPUB: not a zip", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		files[f.Name] = f
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".xhtml") && !strings.HasSuffix(lower, ".html") && !strings.HasSuffix(lower, ".htm") {
			continue
		}
		if strings.HasPrefix(lower, "meta-inf/") {
			continue
		}
		rc, err := files[name].Open()
		if err != nil {
			continue
		}
		doc, parseErr := html.Parse(rc)
		_ = rc.Close()
		if parseErr != nil {
			continue
		}
		text := visibleText(doc)
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return Normalize(strings.Join(parts, "\n\n")), nil
}

// visibleText collects text nodes from an HTML tree, discarding
// script/style/noscript subtrees. Runs are joined with newlines.
func visibleText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch strings.ToLower(node.Data) {
			case "script", "style", "noscript":
				return
			}
		}
		if node.Type == html.TextNode {
			if text := strings.TrimSpace(node.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(parts, "\n")
}
