package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetContents resolves content entries from the system document store.
// Unknown ids are absent from the result.
func (s *PostgresStore) GetContents(ctx context.Context, contentIDs []string) (map[string]ContentEntry, error) {
	ids := uniqueStrings(contentIDs)
	out := make(map[string]ContentEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, title, revision_no, html_content, updated_at FROM system_documents WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get contents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item ContentEntry
		if err := rows.Scan(&item.ID, &item.Title, &item.RevisionNo, &item.HTML, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out[item.ID] = item
	}
	return out, rows.Err()
}

// ContentStamp is the latest updated_at across the system documents linked by
// the manual's active documents. It is zero when nothing is linked.
func (s *PostgresStore) ContentStamp(ctx context.Context, manualID string) (time.Time, error) {
	var stamp sql.NullTime
	err := s.q.QueryRowContext(ctx, `
		SELECT MAX(sd.updated_at)
		FROM manual_documents d
		JOIN system_documents sd ON sd.id = d.system_document_id
		WHERE d.manual_id = $1 AND d.active
	`, manualID).Scan(&stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("content stamp: %w", err)
	}
	if !stamp.Valid {
		return time.Time{}, nil
	}
	return stamp.Time.UTC(), nil
}

func (s *PostgresStore) ListContents(ctx context.Context) ([]ContentEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, title, revision_no, '' AS html_content, updated_at
		FROM system_documents
		ORDER BY title ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	items := []ContentEntry{}
	for rows.Next() {
		var item ContentEntry
		if err := rows.Scan(&item.ID, &item.Title, &item.RevisionNo, &item.HTML, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ActiveCompanyIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, "list active companies", `
		SELECT id FROM companies WHERE deleted_at IS NULL ORDER BY id
	`)
}

// CompanyIDsWithTags returns active companies carrying any of the tags, once each.
func (s *PostgresStore) CompanyIDsWithTags(ctx context.Context, tagIDs []string) ([]string, error) {
	tags := uniqueStrings(tagIDs)
	if len(tags) == 0 {
		return []string{}, nil
	}
	return s.queryIDs(ctx, "list tagged companies", `
		SELECT DISTINCT c.id
		FROM companies c
		JOIN company_tags ct ON ct.company_id = c.id
		WHERE c.deleted_at IS NULL AND ct.tag_id = ANY($1)
		ORDER BY c.id
	`, tags)
}

func (s *PostgresStore) TenantCopyCompanyIDs(ctx context.Context, manualID string) ([]string, error) {
	return s.queryIDs(ctx, "list tenant copy companies", `
		SELECT company_id FROM tenant_manual_copies WHERE source_manual_id = $1 ORDER BY company_id
	`, manualID)
}

// InsertTenantCopy never overwrites an existing copy; it reports whether a row was created.
func (s *PostgresStore) InsertTenantCopy(ctx context.Context, item TenantManualCopy) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO tenant_manual_copies (id, company_id, source_manual_id, source_manual_version, title, received_by_user_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id, source_manual_id) DO NOTHING
	`, item.ID, item.CompanyID, item.SourceManualID, item.SourceManualVersion, item.Title, item.ReceivedByUserID, item.Status)
	if err != nil {
		return false, fmt.Errorf("insert tenant copy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListTenantCopies(ctx context.Context, manualID string) ([]TenantManualCopy, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, company_id, source_manual_id, source_manual_version, title, received_by_user_id, status, created_at
		FROM tenant_manual_copies
		WHERE source_manual_id = $1
		ORDER BY created_at ASC, company_id ASC
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list tenant copies: %w", err)
	}
	defer rows.Close()

	items := []TenantManualCopy{}
	for rows.Next() {
		var item TenantManualCopy
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.SourceManualID, &item.SourceManualVersion, &item.Title, &item.ReceivedByUserID, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant copy: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) queryIDs(ctx context.Context, label, query string, args ...any) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
