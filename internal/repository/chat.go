package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ionology/docqa/internal/domain"
)

type ChatRepository struct {
	db dbtx
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: pool}
}

func NewChatRepositoryWithTx(tx pgx.Tx) *ChatRepository {
	return &ChatRepository{db: tx}
}

func (r *ChatRepository) CreateSession(ctx context.Context) (*domain.ChatSession, error) {
	now := time.Now().UTC()
	s := &domain.ChatSession{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_sessions (id, created_at, updated_at) VALUES ($1, $2, $3)`,
		s.ID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *ChatRepository) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	err := r.db.QueryRow(ctx,
		`SELECT id, created_at, updated_at FROM chat_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// AppendTurn stores a message and bumps the session's updated_at.
func (r *ChatRepository) AppendTurn(ctx context.Context, turn *domain.ChatTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO chat_messages (session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		turn.SessionID, turn.Role, turn.Content, turn.CreatedAt,
	).Scan(&turn.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = $1 WHERE id = $2`,
		turn.CreatedAt, turn.SessionID,
	)
	return err
}

// LastTurns returns the most recent limit turns in chronological order.
func (r *ChatRepository) LastTurns(ctx context.Context, sessionID string, limit int) ([]*domain.ChatTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM (
			SELECT id, session_id, role, content, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []*domain.ChatTurn
	for rows.Next() {
		var t domain.ChatTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}
