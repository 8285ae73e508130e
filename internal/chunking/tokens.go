package chunking

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for chunk budgeting. Counts are approximate by
// design: when the encoding cannot be loaded we fall back to a
// 4-characters-per-token estimate, so callers must tolerate approximate
// size bounds.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter backed by the cl100k_base encoding,
// loaded lazily on first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) load() {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		log.Printf("tokenizer unavailable, using character estimation: %v", err)
		return
	}
	c.encoding = enc
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(c.load)
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return len(text) / 4
}
