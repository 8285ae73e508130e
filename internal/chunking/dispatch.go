package chunking

import (
	"log"
	"regexp"
	"strings"

	"github.com/ionology/docqa/internal/domain"
)

// Options tunes the generic chunking methods. Zero values select defaults.
type Options struct {
	ChunkSize    int // methods 1, 4, 8
	Overlap      int // method 1
	MaxChunkSize int // methods 2, 3, 6, 7
	WindowSize   int // method 5
	StepSize     int // method 5
}

const (
	defaultChunkSize    = 1000
	defaultOverlap      = 100
	defaultMaxParagraph = 1500
	defaultTopicSize    = 2000
	defaultWindowSize   = 1000
	defaultStepSize     = 500

	// Dense documents get larger chunk sizes to keep total chunk counts sane.
	denseCharThreshold = 10000
	denseLineThreshold = 1000
)

var (
	sentenceSplitRE = regexp.MustCompile(`(?:[.!?])\s+`)
	topicHeaderRE   = regexp.MustCompile(`^\s*(#+\s+|\d+\.\s+|[A-Z][^.!?]*:|[A-Z][A-Z\s]+:)`)
)

// mergeKeywords trigger a chunk boundary for the keyword-merge method.
var mergeKeywords = []string{"however", "therefore", "furthermore", "moreover", "consequently", "additionally"}

// Dispatch applies one of the generic chunking methods (1-8) to text and
// returns finalized chunk records for docID. It never returns zero chunks
// for non-empty input; an unrecognized method is a validation error.
func Dispatch(text string, method int, docID int64, opts Options) ([]domain.Chunk, error) {
	if method == domain.MethodClause {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "clause method is handled by the clause chunker")
	}
	if !domain.IsValidMethod(method) {
		return nil, domain.ErrInvalidChunkMethod
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	if isDense(text) {
		switch method {
		case domain.MethodFixedSize:
			if opts.ChunkSize == 0 {
				opts.ChunkSize = 3000
				opts.Overlap = 300
			}
		case domain.MethodSentence:
			if opts.MaxChunkSize == 0 {
				opts.MaxChunkSize = 3000
			}
		case domain.MethodParagraph:
			if opts.MaxChunkSize == 0 {
				opts.MaxChunkSize = 3500
			}
		}
	}

	var texts []string
	switch method {
	case domain.MethodFixedSize:
		texts = fixedSize(text, orDefault(opts.ChunkSize, defaultChunkSize), orDefault(opts.Overlap, defaultOverlap))
	case domain.MethodSentence:
		texts = mergeUnits(splitSentences(text), orDefault(opts.MaxChunkSize, defaultChunkSize), " ")
	case domain.MethodParagraph:
		texts = mergeUnits(splitParagraphs(text), orDefault(opts.MaxChunkSize, defaultMaxParagraph), "\n\n")
	case domain.MethodKeywordMerge:
		texts = keywordMerge(text, orDefault(opts.ChunkSize, defaultChunkSize))
	case domain.MethodSlidingWindow:
		texts = slidingWindow(text, orDefault(opts.WindowSize, defaultWindowSize), orDefault(opts.StepSize, defaultStepSize))
	case domain.MethodRecursive:
		texts = recursiveSplit(text, orDefault(opts.MaxChunkSize, defaultChunkSize))
	case domain.MethodTopic:
		texts = topicSplit(text, orDefault(opts.MaxChunkSize, defaultTopicSize))
	case domain.MethodAdaptive:
		texts = adaptiveMerge(text, orDefault(opts.ChunkSize, defaultChunkSize))
	}

	chunks := make([]domain.Chunk, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		c := domain.Chunk{DocID: docID, Method: method, Text: t}
		c.Finalize()
		chunks = append(chunks, c)
	}

	// A non-empty input always yields at least the whole text as one chunk.
	if len(chunks) == 0 {
		c := domain.Chunk{DocID: docID, Method: method, Text: strings.TrimSpace(text)}
		c.Finalize()
		chunks = append(chunks, c)
	}

	log.Printf("chunking: method=%d chunks=%d chars=%d", method, len(chunks), len(text))
	return chunks, nil
}

func isDense(text string) bool {
	return len(text) > denseCharThreshold || strings.Count(text, "\n") > denseLineThreshold
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitSentences(text string) []string {
	parts := sentenceSplitRE.Split(text, -1)
	// The split regexp drops the terminator; that is acceptable for merge
	// bucketing since budgets are approximate anyway.
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fixedSize(text string, size, overlap int) []string {
	if overlap >= size {
		overlap = size / 2
	}
	runes := []rune(text)
	var out []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return out
}

// mergeUnits greedily packs units into chunks up to maxSize characters.
func mergeUnits(units []string, maxSize int, sep string) []string {
	var out []string
	var current strings.Builder
	for _, u := range units {
		if current.Len() > 0 && current.Len()+len(sep)+len(u) > maxSize {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(u)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func keywordMerge(text string, size int) []string {
	var out []string
	var current strings.Builder
	for _, sent := range splitSentences(text) {
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)

		boundary := current.Len() >= size
		if !boundary {
			lower := strings.ToLower(sent)
			for _, kw := range mergeKeywords {
				if strings.Contains(lower, kw) {
					boundary = true
					break
				}
			}
		}
		if boundary {
			out = append(out, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func slidingWindow(text string, window, step int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += step {
		end := i + window
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// recursiveSplit halves the text at paragraph, then sentence, then character
// boundaries until every piece fits maxSize.
func recursiveSplit(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) > 1 {
		mid := len(paragraphs) / 2
		left := strings.Join(paragraphs[:mid], "\n\n")
		right := strings.Join(paragraphs[mid:], "\n\n")
		return append(recursiveSplit(left, maxSize), recursiveSplit(right, maxSize)...)
	}

	sentences := splitSentences(text)
	if len(sentences) > 1 {
		mid := len(sentences) / 2
		left := strings.Join(sentences[:mid], " ")
		right := strings.Join(sentences[mid:], " ")
		return append(recursiveSplit(left, maxSize), recursiveSplit(right, maxSize)...)
	}

	runes := []rune(text)
	mid := len(runes) / 2
	return append(recursiveSplit(string(runes[:mid]), maxSize), recursiveSplit(string(runes[mid:]), maxSize)...)
}

func topicSplit(text string, maxSize int) []string {
	var out []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		isBoundary := topicHeaderRE.MatchString(line)
		if isBoundary && current.Len() > 100 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
			current.WriteString(line)
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		if current.Len() >= maxSize {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

// adaptiveMerge adjusts the target size to the document's shape: long
// sentences widen chunks, paragraph-heavy documents narrow them.
func adaptiveMerge(text string, base int) []string {
	size := base
	if avgSentenceLength(text) > 100 {
		size = base * 3 / 2
	} else if len(splitParagraphs(text)) > 20 {
		size = base * 4 / 5
	}
	return mergeUnits(splitSentences(text), size, " ")
}

func avgSentenceLength(text string) int {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return 0
	}
	total := 0
	for _, s := range sentences {
		total += len(s)
	}
	return total / len(sentences)
}
