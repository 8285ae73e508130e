package domain

import "time"

// Document is an uploaded source file. Documents are immutable; deleting one
// cascades to its chunks, ingestion jobs, and vector entries.
type Document struct {
	ID        int64
	Title     string
	Mime      string
	Bytes     int64
	SHA256    string
	CreatedAt time.Time
}

// Supported MIME types for extraction.
const (
	MimePDF      = "application/pdf"
	MimeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
)

// IsSupportedMime reports whether the extractor can handle the given type.
func IsSupportedMime(mime string) bool {
	switch mime {
	case MimePDF, MimeDocx, MimeText, MimeMarkdown:
		return true
	}
	return false
}

// Page is one page of extracted text. Page numbers are 1-based.
type Page struct {
	PageNumber int
	Text       string
}

// Extraction is the output of the text extraction stage.
type Extraction struct {
	Text  string
	Pages []Page
}
