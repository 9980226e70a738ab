package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"invoiceMonitor/internal/model"
)

// PutDeadLetter stores a failed log for later replay.
func (s *Store) PutDeadLetter(ctx context.Context, letter model.DeadLetter) error {
	record, err := json.Marshal(letter.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dead_letters (network, stage, error, record, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, letter.Network, letter.Stage, letter.Error, record)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// PendingDeadLetters returns unresolved dead letters, oldest first.
func (s *Store) PendingDeadLetters(ctx context.Context, network string, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, network, stage, error, record, created_at
		FROM dead_letters
		WHERE resolved_at IS NULL AND ($1 = '' OR network = $1)
		ORDER BY id
		LIMIT $2
	`, network, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []model.DeadLetter
	for rows.Next() {
		var (
			letter    model.DeadLetter
			record    []byte
			createdAt time.Time
		)
		if err := rows.Scan(&letter.ID, &letter.Network, &letter.Stage, &letter.Error, &record, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(record, &letter.Record); err != nil {
			return nil, fmt.Errorf("parse dead letter %d: %w", letter.ID, err)
		}
		letter.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		out = append(out, letter)
	}
	return out, rows.Err()
}

// ResolveDeadLetter marks a dead letter as handled.
func (s *Store) ResolveDeadLetter(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE dead_letters SET resolved_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve dead letter %d: %w", id, err)
	}
	return nil
}
