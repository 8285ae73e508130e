package extract

import (
	"bytes"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/ionology/docqa/internal/domain"
)

// Scanned-PDF detection thresholds: a page with fewer than minPageChars
// extractable characters counts as empty, and a document where at least
// scannedPageRatio of pages are empty is treated as image-only.
const (
	minPageChars     = 20
	scannedPageRatio = 0.8
)

// Extractor converts raw document bytes into plain text with optional
// per-page structure.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract returns the text content of data for the given MIME type. PDF input
// is checked for scanned (image-only) content before being accepted.
func (e *Extractor) Extract(data []byte, mime string) (*domain.Extraction, error) {
	switch mime {
	case domain.MimePDF:
		return e.extractPDF(data)
	case domain.MimeDocx:
		return e.extractDocx(data)
	case domain.MimeText, domain.MimeMarkdown:
		return e.extractPlain(data)
	}
	return nil, domain.ErrUnsupportedMime
}

func (e *Extractor) extractPDF(data []byte) (*domain.Extraction, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeContent, "failed to parse PDF", err)
	}

	var pages []domain.Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, domain.Page{PageNumber: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document.
			log.Printf("extract: pdf page %d unreadable: %v", i, err)
			text = ""
		}
		pages = append(pages, domain.Page{PageNumber: i, Text: strings.TrimSpace(text)})
	}

	if IsScanned(pages) {
		return nil, domain.ErrScannedPDF
	}

	var sb strings.Builder
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p.Text)
	}
	return finishExtraction(sb.String(), pages)
}

func (e *Extractor) extractDocx(data []byte) (*domain.Extraction, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeContent, "failed to parse DOCX", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	text := stripDocxTags(content)
	return finishExtraction(text, nil)
}

func (e *Extractor) extractPlain(data []byte) (*domain.Extraction, error) {
	return finishExtraction(string(data), nil)
}

// IsScanned reports whether a page set looks like an image-only scan:
// at least 80% of pages carry fewer than 20 extractable characters.
func IsScanned(pages []domain.Page) bool {
	if len(pages) == 0 {
		return false
	}
	empty := 0
	for _, p := range pages {
		if len(strings.TrimSpace(p.Text)) < minPageChars {
			empty++
		}
	}
	return float64(empty)/float64(len(pages)) >= scannedPageRatio
}

func finishExtraction(text string, pages []domain.Page) (*domain.Extraction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyDocument
	}
	return &domain.Extraction{Text: text, Pages: pages}, nil
}

// stripDocxTags removes residual XML markup from docx body content and
// restores paragraph breaks.
func stripDocxTags(content string) string {
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	var sb strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
