package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/annk/fieldsync/internal/record"
)

// PutDraft saves a wizard draft, superseding any previous version under the
// same session id. The updated_at stamp is set here, not by the caller.
func (s *Store) PutDraft(ctx context.Context, draft *record.Draft) error {
	if draft.ID == "" {
		return fmt.Errorf("draft id is required")
	}

	data := draft.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO drafts (id, step, data, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		step = excluded.step,
		data = excluded.data,
		updated_at = excluded.updated_at
	`, draft.ID, draft.Step, string(data), record.NowMillis())
	if err != nil {
		return fmt.Errorf("failed to save draft %s: %w", draft.ID, err)
	}

	return nil
}

// GetDraft retrieves a draft by session id. Returns ErrNotFound when absent.
func (s *Store) GetDraft(ctx context.Context, id string) (*record.Draft, error) {
	var draft record.Draft
	var data string

	err := s.conn.QueryRowContext(ctx,
		`SELECT id, step, data, updated_at FROM drafts WHERE id = ?`, id).
		Scan(&draft.ID, &draft.Step, &data, &draft.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get draft %s: %w", id, err)
	}

	draft.Data = []byte(data)
	return &draft, nil
}

// DeleteDraft removes a draft, typically after successful submission.
// Idempotent.
func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return nil
}
