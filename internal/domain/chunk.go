package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Chunking method identifiers. Methods 1-8 are the generic strategies; 9 is
// the clause-aware hierarchical chunker.
const (
	MethodFixedSize     = 1
	MethodSentence      = 2
	MethodParagraph     = 3
	MethodKeywordMerge  = 4
	MethodSlidingWindow = 5
	MethodRecursive     = 6
	MethodTopic         = 7
	MethodAdaptive      = 8
	MethodClause        = 9
)

// IsValidMethod reports whether m is a known chunking method.
func IsValidMethod(m int) bool {
	return m >= MethodFixedSize && m <= MethodClause
}

// Chunk is the retrieval unit: a bounded span of document text with optional
// hierarchy metadata. Chunks are bulk-created during ingestion, superseded
// wholesale on re-ingestion of the same (document, method), and never
// mutated in place.
type Chunk struct {
	ID       int64
	DocID    int64
	Method   int
	Text     string
	TextNorm string
	Hash     string
	Tokens   int
	PageFrom *int
	PageTo   *int

	// Clause metadata, populated only for MethodClause.
	SectionID         string
	SectionIDAlias    string
	Title             string
	ParentTitles      []string
	Level             int
	ListItems         bool
	HasSupportingDocs bool

	CreatedAt time.Time
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeText lowercases and collapses whitespace for lexical matching.
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(strings.ToLower(text), " "))
}

// ContentHash computes the stable idempotency hash for a chunk: identical
// content re-ingested into the same document yields an identical hash.
func ContentHash(textNorm, sectionID string, parentTitles []string, docID int64) string {
	h := sha256.New()
	h.Write([]byte(textNorm))
	h.Write([]byte{0x1f})
	h.Write([]byte(sectionID))
	for _, t := range parentTitles {
		h.Write([]byte{0x1f})
		h.Write([]byte(t))
	}
	h.Write([]byte{0x1e})
	var buf [8]byte
	v := uint64(docID)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SectionAlias converts a dotted section id to its URL-safe form ("5.22.3"
// becomes "5_22_3").
func SectionAlias(sectionID string) string {
	return strings.ReplaceAll(sectionID, ".", "_")
}

// Finalize fills the derived fields (normalized text, alias, level, hash)
// that are functions of the chunk's content.
func (c *Chunk) Finalize() {
	if c.TextNorm == "" {
		c.TextNorm = NormalizeText(c.Text)
	}
	if c.SectionID != "" {
		if c.SectionIDAlias == "" {
			c.SectionIDAlias = SectionAlias(c.SectionID)
		}
		if c.Level == 0 {
			c.Level = strings.Count(c.SectionID, ".") + 1
		}
	}
	if c.Hash == "" {
		c.Hash = ContentHash(c.TextNorm, c.SectionID, c.ParentTitles, c.DocID)
	}
}
