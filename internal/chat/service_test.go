package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionology/docqa/internal/domain"
	"github.com/ionology/docqa/internal/llm"
	"github.com/ionology/docqa/internal/search"
)

type fakeSessions struct {
	sessions map[string]*domain.ChatSession
	turns    map[string][]*domain.ChatTurn
	nextID   int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]*domain.ChatSession),
		turns:    make(map[string][]*domain.ChatTurn),
	}
}

func (f *fakeSessions) CreateSession(_ context.Context) (*domain.ChatSession, error) {
	s := &domain.ChatSession{ID: "session-new", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*domain.ChatSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) AppendTurn(_ context.Context, turn *domain.ChatTurn) error {
	f.nextID++
	turn.ID = f.nextID
	f.turns[turn.SessionID] = append(f.turns[turn.SessionID], turn)
	return nil
}

func (f *fakeSessions) LastTurns(_ context.Context, sessionID string, limit int) ([]*domain.ChatTurn, error) {
	turns := f.turns[sessionID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

type fakeRetriever struct {
	resp    *search.Response
	queries []string
	limits  []int
}

func (f *fakeRetriever) Search(_ context.Context, query string, limit int) (*search.Response, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	if f.resp != nil {
		return f.resp, nil
	}
	return &search.Response{Mode: search.ModeHybrid}, nil
}

type fakeAnswerer struct {
	answer    string
	available bool
	lastUser  string
	history   []llm.Message
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, history []llm.Message, user string) (string, error) {
	f.history = history
	f.lastUser = user
	return f.answer, nil
}

func (f *fakeAnswerer) Available() bool { return f.available }

func retrievalResponse() *search.Response {
	return &search.Response{
		Mode: search.ModeHybrid,
		Results: []search.Result{
			{Chunk: domain.Chunk{ID: 1, DocID: 3, SectionID: "5.22.1", Text: "board oversight rules"}, Score: 0.9, Snippet: "board oversight"},
			{Chunk: domain.Chunk{ID: 2, DocID: 3, Text: "general provisions"}, Score: 0.5, Snippet: "general"},
		},
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	s := NewService(newFakeSessions(), &fakeRetriever{}, &fakeAnswerer{available: true})
	_, err := s.Chat(context.Background(), Request{Message: "  "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestChat_NoAnswerModel(t *testing.T) {
	s := NewService(newFakeSessions(), &fakeRetriever{}, &fakeAnswerer{available: false})
	_, err := s.Chat(context.Background(), Request{Message: "question"})
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)
}

func TestChat_NewSessionAndPersistence(t *testing.T) {
	sessions := newFakeSessions()
	retriever := &fakeRetriever{resp: retrievalResponse()}
	answerer := &fakeAnswerer{answer: "the answer [1]", available: true}
	s := NewService(sessions, retriever, answerer)

	resp, err := s.Chat(context.Background(), Request{Message: "what are the board oversight rules?"})
	require.NoError(t, err)
	assert.Equal(t, "session-new", resp.SessionID)
	assert.Equal(t, "the answer [1]", resp.Answer)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].Index)
	assert.Equal(t, int64(3), resp.Sources[0].DocID)
	assert.Equal(t, "5.22.1", resp.Sources[0].SectionID)
	assert.Equal(t, "board oversight rules", resp.Sources[0].Text)
	assert.Equal(t, []int{10}, retriever.limits)

	turns := sessions.turns["session-new"]
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "what are the board oversight rules?", turns[0].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
}

func TestChat_UnknownSession(t *testing.T) {
	s := NewService(newFakeSessions(), &fakeRetriever{}, &fakeAnswerer{available: true})
	_, err := s.Chat(context.Background(), Request{SessionID: "ghost", Message: "hi there"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestChat_ContextContainsBracketedPassages(t *testing.T) {
	retriever := &fakeRetriever{resp: retrievalResponse()}
	answerer := &fakeAnswerer{answer: "ok", available: true}
	s := NewService(newFakeSessions(), retriever, answerer)

	_, err := s.Chat(context.Background(), Request{Message: "what are the rules?"})
	require.NoError(t, err)
	assert.Contains(t, answerer.lastUser, "[1] (5.22.1) board oversight rules")
	assert.Contains(t, answerer.lastUser, "[2] general provisions")
	assert.Contains(t, answerer.lastUser, "Question: what are the rules?")
}

func TestChat_FollowUpAugmentsRetrievalOnly(t *testing.T) {
	sessions := newFakeSessions()
	session, _ := sessions.CreateSession(context.Background())
	sessions.AppendTurn(context.Background(), &domain.ChatTurn{
		SessionID: session.ID, Role: domain.RoleUser, Content: "what does section 5.22.1 say?",
	})
	sessions.AppendTurn(context.Background(), &domain.ChatTurn{
		SessionID: session.ID, Role: domain.RoleAssistant, Content: "it requires board oversight",
	})

	retriever := &fakeRetriever{resp: retrievalResponse()}
	answerer := &fakeAnswerer{answer: "ok", available: true}
	s := NewService(sessions, retriever, answerer)

	_, err := s.Chat(context.Background(), Request{SessionID: session.ID, Message: "what about the evidence for it?"})
	require.NoError(t, err)

	require.Len(t, retriever.queries, 1)
	assert.Equal(t, "For section 5.22.1, what about the evidence for it?", retriever.queries[0])

	// The persisted user turn keeps the original wording.
	turns := sessions.turns[session.ID]
	assert.Equal(t, "what about the evidence for it?", turns[len(turns)-2].Content)
}

func TestAugmentFollowUp(t *testing.T) {
	history := []*domain.ChatTurn{
		{Role: domain.RoleUser, Content: "explain section 5.22.1 please"},
	}

	tests := []struct {
		name    string
		message string
		history []*domain.ChatTurn
		want    string
	}{
		{
			name:    "short referential follow-up",
			message: "what about the evidence for it?",
			history: history,
			want:    "For section 5.22.1, what about the evidence for it?",
		},
		{
			name:    "explicit section reference left alone",
			message: "what about 5.30.2?",
			history: history,
			want:    "",
		},
		{
			name:    "no referential phrase",
			message: "list supporting documents required",
			history: history,
			want:    "",
		},
		{
			name:    "no prior section in history",
			message: "what about it?",
			history: []*domain.ChatTurn{{Role: domain.RoleUser, Content: "hello"}},
			want:    "",
		},
		{
			name:    "long message stands alone",
			message: "what about the detailed governance requirements that apply to the annual reporting cycle for all regulated entities?",
			history: history,
			want:    "",
		},
		{
			name:    "word boundary prevents substring match",
			message: "audit submissions",
			history: history,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AugmentFollowUp(tt.message, tt.history))
		})
	}
}

func TestLastMentionedSection_PrefersNewestUserTurn(t *testing.T) {
	history := []*domain.ChatTurn{
		{Role: domain.RoleUser, Content: "tell me about 5.1"},
		{Role: domain.RoleUser, Content: "now about 7.3.2"},
	}
	assert.Equal(t, "7.3.2", lastMentionedSection(history))
}

func TestLastMentionedSection_IgnoresAssistantTurns(t *testing.T) {
	history := []*domain.ChatTurn{
		{Role: domain.RoleUser, Content: "what does section 5.1 cover?"},
		{Role: domain.RoleAssistant, Content: "it covers scope; see also 9.9.9 for exclusions"},
	}
	assert.Equal(t, "5.1", lastMentionedSection(history))

	assistantOnly := []*domain.ChatTurn{
		{Role: domain.RoleAssistant, Content: "section 9.9.9 applies here"},
	}
	assert.Equal(t, "", lastMentionedSection(assistantOnly))
}

func TestAugmentFollowUp_AssistantSectionDoesNotAnchor(t *testing.T) {
	history := []*domain.ChatTurn{
		{Role: domain.RoleUser, Content: "what are the general duties?"},
		{Role: domain.RoleAssistant, Content: "the duties come from 4.7.1"},
	}
	assert.Equal(t, "", AugmentFollowUp("what about the penalties for it?", history))
}
