package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"social_client/internal/domain"
	"social_client/pkg/logger"
)

// JournalRepository - журнал синхронизации: сироты, битые payload'ы,
// ошибки отправки, устаревшие ссылки. Только диагностика.
type JournalRepository interface {
	Record(ctx context.Context, entry *domain.JournalEntry) error
	Recent(ctx context.Context, limit int) ([]*domain.JournalEntry, error)
}

type journalRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewJournalRepository(db *pgxpool.Pool, log logger.Logger) JournalRepository {
	if db == nil {
		return noopJournal{}
	}
	return &journalRepository{db: db, log: log}
}

const journalSchema = `
	CREATE TABLE IF NOT EXISTS sync_journal (
		id BIGSERIAL PRIMARY KEY,
		event_time TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		conversation_id TEXT,
		message_ref TEXT,
		detail TEXT,
		payload JSONB
	)
`

// EnsureJournalSchema создает таблицу журнала, если ее нет
func EnsureJournalSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, journalSchema)
	return err
}

func (r *journalRepository) Record(ctx context.Context, entry *domain.JournalEntry) error {
	query := `
		INSERT INTO sync_journal (event_time, kind, conversation_id, message_ref, detail, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		entry.EventTime, entry.Kind, entry.ConversationID,
		entry.MessageRef, entry.Detail, entry.Payload,
	).Scan(&entry.ID)

	if err != nil {
		r.log.Error("Failed to write sync journal entry", "error", err, "kind", entry.Kind)
		return err
	}

	return nil
}

func (r *journalRepository) Recent(ctx context.Context, limit int) ([]*domain.JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, event_time, kind, COALESCE(conversation_id, ''), COALESCE(message_ref, ''), COALESCE(detail, ''), payload
		FROM sync_journal
		ORDER BY event_time DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		r.log.Error("Failed to read sync journal", "error", err)
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.JournalEntry
	for rows.Next() {
		entry := &domain.JournalEntry{}
		if err := rows.Scan(&entry.ID, &entry.EventTime, &entry.Kind, &entry.ConversationID,
			&entry.MessageRef, &entry.Detail, &entry.Payload); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type noopJournal struct{}

func (noopJournal) Record(context.Context, *domain.JournalEntry) error { return nil }

func (noopJournal) Recent(context.Context, int) ([]*domain.JournalEntry, error) { return nil, nil }
