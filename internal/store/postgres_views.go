package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const viewColumns = `id, manual_id, name, description, is_default, mapping, created_by_user_id, created_at, updated_at`

func scanView(row rowScanner) (ManualView, error) {
	var (
		item    ManualView
		mapping []byte
	)
	err := row.Scan(&item.ID, &item.ManualID, &item.Name, &item.Description, &item.IsDefault, &mapping, &item.CreatedByUserID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ManualView{}, err
	}
	item.Mapping = json.RawMessage(mapping)
	return item, nil
}

func (s *PostgresStore) ListViews(ctx context.Context, manualID string) ([]ManualView, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+viewColumns+`
		FROM manual_views
		WHERE manual_id = $1
		ORDER BY is_default DESC, name ASC, id ASC
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	defer rows.Close()

	items := []ManualView{}
	for rows.Next() {
		item, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan view: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetView(ctx context.Context, manualID, viewID string) (ManualView, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM manual_views WHERE manual_id = $1 AND id = $2`, manualID, viewID)
	item, err := scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ManualView{}, ErrNotFound
	}
	if err != nil {
		return ManualView{}, fmt.Errorf("get view: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetDefaultView(ctx context.Context, manualID string) (ManualView, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM manual_views WHERE manual_id = $1 AND is_default`, manualID)
	item, err := scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ManualView{}, ErrNotFound
	}
	if err != nil {
		return ManualView{}, fmt.Errorf("get default view: %w", err)
	}
	return item, nil
}

func mappingArg(mapping json.RawMessage) string {
	if len(mapping) == 0 {
		return "{}"
	}
	return string(mapping)
}

func (s *PostgresStore) InsertView(ctx context.Context, view ManualView) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO manual_views (id, manual_id, name, description, is_default, mapping, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, view.ID, view.ManualID, view.Name, view.Description, view.IsDefault, mappingArg(view.Mapping), view.CreatedByUserID)
	if err != nil {
		return fmt.Errorf("insert view: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateView(ctx context.Context, view ManualView) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE manual_views
		SET name = $3, description = $4, is_default = $5, mapping = $6::jsonb, updated_at = NOW()
		WHERE manual_id = $1 AND id = $2
	`, view.ManualID, view.ID, view.Name, view.Description, view.IsDefault, mappingArg(view.Mapping))
	if err != nil {
		return fmt.Errorf("update view: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteView(ctx context.Context, manualID, viewID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM manual_views WHERE manual_id = $1 AND id = $2`, manualID, viewID)
	if err != nil {
		return fmt.Errorf("delete view: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ClearDefaultViews(ctx context.Context, manualID, exceptViewID string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE manual_views SET is_default = FALSE, updated_at = NOW()
		WHERE manual_id = $1 AND is_default AND id <> $2
	`, manualID, exceptViewID)
	if err != nil {
		return fmt.Errorf("clear default views: %w", err)
	}
	return nil
}
