package chunking

import (
	"strings"

	"github.com/ionology/docqa/internal/domain"
)

// AssignPages annotates chunks with page ranges by matching chunk text to
// page text: exact substring containment first, then >=50% token overlap,
// then the first page as a last resort.
func AssignPages(chunks []domain.Chunk, pages []domain.Page) {
	if len(pages) == 0 {
		return
	}
	for i := range chunks {
		from, to := findPage(chunks[i].Text, pages)
		chunks[i].PageFrom = &from
		chunks[i].PageTo = &to
	}
}

func findPage(chunkText string, pages []domain.Page) (int, int) {
	clean := strings.TrimSpace(chunkText)

	for _, p := range pages {
		if strings.Contains(p.Text, clean) {
			return p.PageNumber, p.PageNumber
		}
	}

	chunkWords := wordSet(clean)
	if len(chunkWords) > 0 {
		for _, p := range pages {
			pageWords := wordSet(p.Text)
			overlap := 0
			for w := range chunkWords {
				if _, ok := pageWords[w]; ok {
					overlap++
				}
			}
			if float64(overlap)/float64(len(chunkWords)) >= 0.5 {
				return p.PageNumber, p.PageNumber
			}
		}
	}

	return pages[0].PageNumber, pages[0].PageNumber
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
