package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"assistantbot/internal/pkg/pdfextract"
)

// ExtractFileText converts an uploaded file to plain text based on its
// extension. Supported: .pdf, .html, .htm, .txt, .md.
func ExtractFileText(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return pdfextract.ExtractText(data)
	case ".html", ".htm":
		return ExtractHTMLText(string(data))
	case ".txt", ".md", "":
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("file %s is empty", filename)
		}
		return text, nil
	default:
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}
}

// ExtractHTMLText strips boilerplate elements and returns the visible text.
func ExtractHTMLText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html failed: %w", err)
	}

	doc.Find("script, style, nav, footer, header, noscript, iframe").Remove()

	var parts []string
	doc.Find("title, h1, h2, h3, h4, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})

	if len(parts) == 0 {
		// No structural elements matched, fall back to the full body text.
		text := strings.TrimSpace(doc.Find("body").Text())
		if text == "" {
			return "", fmt.Errorf("html contains no extractable text")
		}
		return collapseWhitespace(text), nil
	}
	return strings.Join(parts, "\n\n"), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
