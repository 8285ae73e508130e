package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/llm"
	"github.com/ionology/docqa/internal/search"
)

const (
	historyLimit   = 10
	retrievalLimit = 10

	systemPrompt = "You are a document QA assistant. Answer strictly from the provided " +
		"context passages, citing them as [1], [2] and so on. When the context does not " +
		"contain the answer, say so instead of guessing."
)

// Answerer generates the final response from context and history.
type Answerer interface {
	Answer(ctx context.Context, system string, history []llm.Message, user string) (string, error)
	Available() bool
}

// Retriever fetches context passages for a query.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) (*search.Response, error)
}

// SessionStore persists sessions and turns.
type SessionStore interface {
	CreateSession(ctx context.Context) (*domain.ChatSession, error)
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)
	AppendTurn(ctx context.Context, turn *domain.ChatTurn) error
	LastTurns(ctx context.Context, sessionID string, limit int) ([]*domain.ChatTurn, error)
}

// Request is one user message, optionally continuing a session.
type Request struct {
	SessionID string
	Message   string
}

// Source is one cited context passage.
type Source struct {
	Index     int
	DocID     int64
	ChunkID   int64
	SectionID string
	Title     string
	PageFrom  *int
	PageTo    *int
	Text      string
	Snippet   string
	Score     float64
}

// Response is the assistant's answer with its citations.
type Response struct {
	SessionID string
	Answer    string
	Sources   []Source
	Mode      string
	Degraded  bool
	LatencyMs int64
}

// Service orchestrates a conversation turn: resolve the session, detect
// ambiguous follow-ups and augment the retrieval query with the last
// discussed section, retrieve, answer, and persist both turns.
type Service struct {
	sessions  SessionStore
	retriever Retriever
	answerer  Answerer
}

func NewService(sessions SessionStore, retriever Retriever, answerer Answerer) *Service {
	return &Service{sessions: sessions, retriever: retriever, answerer: answerer}
}

// Chat handles one turn. The stored user message is always the original; any
// follow-up augmentation applies to the retrieval query only.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, domain.ErrEmptyMessage
	}
	if s.answerer == nil || !s.answerer.Available() {
		return nil, domain.ErrMissingAPIKey
	}

	session, history, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	retrievalQuery := message
	if augmented := AugmentFollowUp(message, history); augmented != "" {
		log.Printf("chat: follow-up augmented for session %s", session.ID)
		retrievalQuery = augmented
	}

	results, err := s.retriever.Search(ctx, retrievalQuery, retrievalLimit)
	if err != nil {
		return nil, err
	}

	contextBlock, sources := buildContext(results)

	answer, err := s.answerer.Answer(ctx, systemPrompt, toLLMHistory(history), contextBlock+"\n\nQuestion: "+message)
	if err != nil {
		return nil, err
	}

	userTurn := &domain.ChatTurn{SessionID: session.ID, Role: domain.RoleUser, Content: message}
	if err := s.sessions.AppendTurn(ctx, userTurn); err != nil {
		return nil, err
	}
	assistantTurn := &domain.ChatTurn{SessionID: session.ID, Role: domain.RoleAssistant, Content: answer}
	if err := s.sessions.AppendTurn(ctx, assistantTurn); err != nil {
		return nil, err
	}

	return &Response{
		SessionID: session.ID,
		Answer:    answer,
		Sources:   sources,
		Mode:      results.Mode,
		Degraded:  results.Degraded,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) resolveSession(ctx context.Context, sessionID string) (*domain.ChatSession, []*domain.ChatTurn, error) {
	if sessionID == "" {
		session, err := s.sessions.CreateSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		return session, nil, nil
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil, err
		}
		return nil, nil, err
	}
	history, err := s.sessions.LastTurns(ctx, session.ID, historyLimit)
	if err != nil {
		return nil, nil, err
	}
	return session, history, nil
}

// referentialPhrases mark a message as depending on earlier conversation.
var referentialPhrases = []string{
	"this", "that", "it", "these", "those",
	"what about", "how about", "and the", "also",
	"the same", "again", "more detail", "elaborate",
}

const followUpMaxLen = 80

// AugmentFollowUp rewrites short referential follow-ups into a standalone
// retrieval query anchored to the last section discussed. Returns "" when
// the message stands on its own.
func AugmentFollowUp(message string, history []*domain.ChatTurn) string {
	if len(message) >= followUpMaxLen {
		return ""
	}
	if search.ExtractSectionRef(message) != "" {
		return ""
	}

	lower := strings.ToLower(message)
	referential := false
	for _, p := range referentialPhrases {
		if containsWordPhrase(lower, p) {
			referential = true
			break
		}
	}
	if !referential {
		return ""
	}

	sectionID := lastMentionedSection(history)
	if sectionID == "" {
		return ""
	}
	return fmt.Sprintf("For section %s, %s", sectionID, message)
}

// lastMentionedSection scans user turns newest-first for a section reference.
// Assistant turns are skipped so a section the model volunteered cannot
// redirect retrieval.
func lastMentionedSection(history []*domain.ChatTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != domain.RoleUser {
			continue
		}
		if ref := search.ExtractSectionRef(history[i].Content); ref != "" {
			return ref
		}
	}
	return ""
}

// containsWordPhrase matches a phrase at word boundaries, so "it" does not
// match inside "item".
func containsWordPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// buildContext formats retrieved chunks as bracket-numbered passages for the
// answer model and the matching source list for the caller.
func buildContext(results *search.Response) (string, []Source) {
	if len(results.Results) == 0 {
		return "Context: (no relevant passages found)", nil
	}

	var sb strings.Builder
	sb.WriteString("Context:\n")
	sources := make([]Source, 0, len(results.Results))
	for i, r := range results.Results {
		label := r.Chunk.SectionID
		if label == "" {
			label = r.Chunk.Title
		}
		if label != "" {
			fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, label, r.Chunk.Text)
		} else {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, r.Chunk.Text)
		}
		sources = append(sources, Source{
			Index:     i + 1,
			DocID:     r.Chunk.DocID,
			ChunkID:   r.Chunk.ID,
			SectionID: r.Chunk.SectionID,
			Title:     r.Chunk.Title,
			PageFrom:  r.Chunk.PageFrom,
			PageTo:    r.Chunk.PageTo,
			Text:      r.Chunk.Text,
			Snippet:   r.Snippet,
			Score:     r.Score,
		})
	}
	return sb.String(), sources
}

func toLLMHistory(history []*domain.ChatTurn) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, t := range history {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}
