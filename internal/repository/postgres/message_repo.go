package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/chatspace/internal/domain"
)

const selectEnriched = `
	SELECT m.id::text, m.user_id, m.content, m.created_at,
		u.id, u.display_id, u.name, u.email, COALESCE(u.avatar_url, ''), u.created_at, u.updated_at
	FROM messages m
	JOIN users u ON m.user_id = u.id`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (id, user_id, content, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, msg.ID, msg.AuthorID, msg.Content, msg.CreatedAt)
	return translate(err)
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.EnrichedMessage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	msg, err := scanEnriched(r.pool.QueryRow(ctx, selectEnriched+` WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepo) ListRecent(ctx context.Context, limit int) ([]domain.EnrichedMessage, error) {
	rows, err := r.pool.Query(ctx, selectEnriched+`
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.EnrichedMessage
	for rows.Next() {
		msg, err := scanEnriched(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse so they are chronological (the query returns newest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func scanEnriched(row pgx.Row) (*domain.EnrichedMessage, error) {
	var msg domain.EnrichedMessage
	err := row.Scan(
		&msg.ID, &msg.AuthorID, &msg.Content, &msg.CreatedAt,
		&msg.Author.ID, &msg.Author.DisplayID, &msg.Author.Name, &msg.Author.Email,
		&msg.Author.AvatarURL, &msg.Author.CreatedAt, &msg.Author.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
