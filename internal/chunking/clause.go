package chunking

import (
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/ionology/docqa/internal/domain"
)

// ClauseHeading is a detected hierarchical heading. It is an ephemeral parse
// artifact and is never persisted.
type ClauseHeading struct {
	SectionID string
	Title     string
	Level     int
	Line      int
	// Merged marks headings whose title and numeric id were visually fused
	// in the source, a common extraction artifact ("Title5.22.2").
	Merged bool
}

type sectionLabel struct {
	line    int
	label   string
	content string
}

type textBlock struct {
	text      string
	pageStart *int
	pageEnd   *int
	isList    bool
	isTable   bool
	heading   *ClauseHeading
	parents   []ClauseHeading
}

var (
	normalHeadingRE = regexp.MustCompile(`^(\d+(?:\.\d+)+)\s+(.+)$`)
	mergedHeadingRE = regexp.MustCompile(`^([A-Za-z][A-Za-z\s]*?)(\d+(?:\.\d+)+)$`)
	sectionLabelRE  = regexp.MustCompile(`^([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\s*:\s*(.+)$`)
	trailingIDRE    = regexp.MustCompile(`(\d+(?:\.\d+)+)$`)
	bulletRE        = regexp.MustCompile(`^\s*[•\-*+]\s+`)
	numberedListRE  = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	tableRowRE      = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	pageNumberRE    = regexp.MustCompile(`^\s*\d+\s*$`)
	innerSpaceRE    = regexp.MustCompile(`[ \t]+`)
)

var supportingDocsKeywords = []string{
	"supporting documents",
	"supporting evidence",
	"evidence",
	"indicators",
	"objectives",
	"annex",
	"appendix",
}

// ClauseChunker splits hierarchically numbered documents (standards, legal
// text) at clause boundaries while keeping list blocks atomic and carrying
// parent hierarchy context on every chunk.
type ClauseChunker struct {
	targetTokens  int
	overlapTokens int
	counter       *TokenCounter
}

// NewClauseChunker builds a chunker with the given token budget and sibling
// overlap. Zero values select the defaults (400/50).
func NewClauseChunker(targetTokens, overlapTokens int, counter *TokenCounter) *ClauseChunker {
	if targetTokens <= 0 {
		targetTokens = 400
	}
	if overlapTokens < 0 {
		overlapTokens = 50
	}
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &ClauseChunker{
		targetTokens:  targetTokens,
		overlapTokens: overlapTokens,
		counter:       counter,
	}
}

// ChunkDocument produces ordered, finalized chunks for docID. Pages are
// optional; when present, page ranges are estimated by proportional line
// position, which is approximate for documents with uneven page density.
func (c *ClauseChunker) ChunkDocument(text string, docID int64, pages []domain.Page) []domain.Chunk {
	normalized := normalizeClauseText(text)
	if normalized == "" {
		return nil
	}

	labels := detectSectionLabels(normalized)
	headings := DetectHeadings(normalized)
	hierarchy := buildHierarchy(headings, labels)
	blocks := c.splitIntoBlocks(normalized, headings, hierarchy, pages)

	var chunks []domain.Chunk
	for _, block := range blocks {
		if c.counter.Count(block.text) <= c.targetTokens {
			chunks = append(chunks, c.blockToChunk(block, docID))
		} else {
			chunks = append(chunks, c.splitLargeBlock(block, docID)...)
		}
	}

	log.Printf("clause chunker: doc=%d headings=%d chunks=%d", docID, len(headings), len(chunks))
	return chunks
}

// normalizeClauseText collapses intra-line whitespace, drops standalone
// page-number lines, and trims, preserving newlines for structure detection.
func normalizeClauseText(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = innerSpaceRE.ReplaceAllString(line, " ")
		if pageNumberRE.MatchString(line) {
			continue
		}
		cleaned = append(cleaned, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func detectSectionLabels(text string) []sectionLabel {
	var labels []sectionLabel
	for i, line := range strings.Split(text, "\n") {
		m := sectionLabelRE.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		// Lines that parse as headings are not free-standing labels.
		if normalHeadingRE.MatchString(strings.TrimSpace(line)) {
			continue
		}
		labels = append(labels, sectionLabel{line: i, label: m[1], content: m[2]})
	}
	return labels
}

// DetectHeadings finds clause headings in normalized text using the two
// competing line shapes: "<id> <title>" and the merged "<title><id>"
// extraction artifact. A normal heading whose title carries a duplicate
// trailing id has that suffix stripped.
func DetectHeadings(text string) []ClauseHeading {
	var headings []ClauseHeading
	for i, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}

		if m := normalHeadingRE.FindStringSubmatch(stripped); m != nil {
			sectionID := m[1]
			title := strings.TrimSpace(m[2])
			if tm := trailingIDRE.FindString(title); tm != "" {
				title = strings.TrimSpace(title[:len(title)-len(tm)])
			}
			headings = append(headings, ClauseHeading{
				SectionID: sectionID,
				Title:     title,
				Level:     strings.Count(sectionID, ".") + 1,
				Line:      i,
			})
			continue
		}

		if m := mergedHeadingRE.FindStringSubmatch(stripped); m != nil {
			sectionID := m[2]
			headings = append(headings, ClauseHeading{
				SectionID: sectionID,
				Title:     strings.TrimSpace(m[1]),
				Level:     strings.Count(sectionID, ".") + 1,
				Line:      i,
				Merged:    true,
			})
		}
	}
	return headings
}

// buildHierarchy maps each section id to its ancestor chain: every earlier
// heading whose id is a strict numeric prefix, preceded by the nearest
// free-standing section label. Ancestors are computed by prefix match over
// the flat line-ordered list; there are no parent pointers.
func buildHierarchy(headings []ClauseHeading, labels []sectionLabel) map[string][]ClauseHeading {
	sorted := make([]ClauseHeading, len(headings))
	copy(sorted, headings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Line < sorted[j].Line })

	hierarchy := make(map[string][]ClauseHeading, len(sorted))
	for _, h := range sorted {
		var parents []ClauseHeading

		// Nearest preceding section label becomes the outermost anchor.
		for _, l := range labels {
			if l.line >= h.Line {
				break
			}
			anchor := ClauseHeading{Title: l.label + ": " + l.content, Line: l.line}
			if len(parents) == 0 {
				parents = []ClauseHeading{anchor}
			} else {
				parents[0] = anchor
			}
		}

		parts := strings.Split(h.SectionID, ".")
		for _, p := range sorted {
			if p.Line >= h.Line {
				break
			}
			if strings.Count(p.SectionID, ".") < len(parts)-1 && strings.HasPrefix(h.SectionID+".", p.SectionID+".") {
				parents = append(parents, p)
			}
		}

		hierarchy[h.SectionID] = parents
	}
	return hierarchy
}

func (c *ClauseChunker) splitIntoBlocks(text string, headings []ClauseHeading, hierarchy map[string][]ClauseHeading, pages []domain.Page) []textBlock {
	lines := strings.Split(text, "\n")
	headingAt := make(map[int]ClauseHeading, len(headings))
	for _, h := range headings {
		headingAt[h.Line] = h
	}

	var blocks []textBlock
	var current *ClauseHeading
	var currentLines []string
	startLine := 0

	flush := func(endLine int) {
		if current == nil || len(currentLines) == 0 {
			return
		}
		blockText := strings.TrimSpace(strings.Join(currentLines, "\n"))
		if blockText == "" {
			return
		}
		ps, pe := estimatePageRange(startLine, endLine, len(lines), pages)
		blocks = append(blocks, textBlock{
			text:      blockText,
			pageStart: ps,
			pageEnd:   pe,
			isList:    isListBlock(blockText),
			isTable:   isTableBlock(blockText),
			heading:   current,
			parents:   hierarchy[current.SectionID],
		})
	}

	for i, line := range lines {
		if h, ok := headingAt[i]; ok {
			flush(i - 1)
			hc := h
			current = &hc
			currentLines = []string{line}
			startLine = i
			continue
		}
		currentLines = append(currentLines, line)
	}
	flush(len(lines) - 1)

	// Text before the first heading becomes a headingless preamble block; a
	// document with no headings at all is a single block.
	preambleEnd := len(lines)
	if len(headings) > 0 {
		preambleEnd = headings[0].Line
	}
	if preambleEnd > 0 {
		pre := strings.TrimSpace(strings.Join(lines[:preambleEnd], "\n"))
		if pre != "" {
			ps, pe := estimatePageRange(0, preambleEnd-1, len(lines), pages)
			blocks = append([]textBlock{{
				text:      pre,
				pageStart: ps,
				pageEnd:   pe,
				isList:    isListBlock(pre),
				isTable:   isTableBlock(pre),
			}}, blocks...)
		}
	}

	return blocks
}

func isListBlock(text string) bool {
	lines := strings.Split(text, "\n")
	count := 0
	for _, line := range lines {
		if bulletRE.MatchString(line) || numberedListRE.MatchString(line) {
			count++
		}
	}
	return len(lines) > 0 && float64(count)/float64(len(lines)) > 0.3
}

func isTableBlock(text string) bool {
	lines := strings.Split(text, "\n")
	count := 0
	for _, line := range lines {
		if tableRowRE.MatchString(line) {
			count++
		}
	}
	return len(lines) > 0 && float64(count)/float64(len(lines)) > 0.3
}

// estimatePageRange maps a line span to pages by proportional position.
// Approximate: documents with uneven page density will drift.
func estimatePageRange(startLine, endLine, totalLines int, pages []domain.Page) (*int, *int) {
	if len(pages) == 0 || totalLines == 0 {
		return nil, nil
	}
	pick := func(line int) int {
		idx := line * len(pages) / totalLines
		if idx >= len(pages) {
			idx = len(pages) - 1
		}
		return pages[idx].PageNumber
	}
	ps := pick(startLine)
	pe := pick(endLine)
	return &ps, &pe
}

func (c *ClauseChunker) blockToChunk(block textBlock, docID int64) domain.Chunk {
	chunk := domain.Chunk{
		DocID:     docID,
		Method:    domain.MethodClause,
		Text:      block.text,
		Tokens:    c.counter.Count(block.text),
		PageFrom:  block.pageStart,
		PageTo:    block.pageEnd,
		ListItems: block.isList,
	}

	if block.heading != nil {
		chunk.SectionID = block.heading.SectionID
		chunk.Title = block.heading.Title
		chunk.Level = block.heading.Level
	}
	for _, p := range block.parents {
		if p.Title != "" {
			chunk.ParentTitles = append(chunk.ParentTitles, p.Title)
		}
	}

	lower := strings.ToLower(block.text)
	for _, kw := range supportingDocsKeywords {
		if strings.Contains(lower, kw) {
			chunk.HasSupportingDocs = true
			break
		}
	}

	chunk.Finalize()
	return chunk
}

// splitLargeBlock splits an oversized block at paragraph boundaries, never
// inside a list item, carrying identical heading metadata to every sub-chunk
// and prepending a trailing-token overlap to each continuation.
func (c *ClauseChunker) splitLargeBlock(block textBlock, docID int64) []domain.Chunk {
	paragraphs := c.splitParagraphsAtomic(block.text)

	var chunks []domain.Chunk
	var current []string
	currentTokens := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		sub := block
		sub.text = strings.Join(current, "\n\n")
		chunks = append(chunks, c.blockToChunk(sub, docID))
	}

	for _, para := range paragraphs {
		paraTokens := c.counter.Count(para)
		if currentTokens+paraTokens > c.targetTokens && len(current) > 0 {
			chunkText := strings.Join(current, "\n\n")
			emit()

			if c.overlapTokens > 0 {
				overlap := c.overlapText(chunkText)
				current = []string{overlap, para}
				currentTokens = c.counter.Count(overlap) + paraTokens
			} else {
				current = []string{para}
				currentTokens = paraTokens
			}
			continue
		}
		current = append(current, para)
		currentTokens += paraTokens
	}
	emit()

	return chunks
}

// splitParagraphsAtomic splits on blank lines, keeping list items intact and
// breaking only very long prose paragraphs at sentence boundaries.
func (c *ClauseChunker) splitParagraphsAtomic(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			continue
		}
		if bulletRE.MatchString(trimmed) || numberedListRE.MatchString(trimmed) {
			out = append(out, trimmed)
			continue
		}
		if len(trimmed) <= 2000 {
			out = append(out, trimmed)
			continue
		}
		var current []string
		size := 0
		for _, sent := range splitSentences(trimmed) {
			if size+len(sent) >= 2000 && len(current) > 0 {
				out = append(out, strings.Join(current, " "))
				current = nil
				size = 0
			}
			current = append(current, sent)
			size += len(sent) + 1
		}
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
		}
	}
	return out
}

// overlapText returns roughly the last overlapTokens tokens of text,
// approximated by character ratio.
func (c *ClauseChunker) overlapText(text string) string {
	tokens := c.counter.Count(text)
	if tokens <= c.overlapTokens {
		return text
	}
	chars := len(text) * c.overlapTokens / tokens
	if chars <= 0 || chars >= len(text) {
		return text
	}
	return strings.TrimSpace(text[len(text)-chars:])
}
