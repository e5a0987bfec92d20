package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const chapterColumns = `id, manual_id, title, description, sort_order, active, created_at, updated_at`

func scanChapter(row rowScanner) (Chapter, error) {
	var item Chapter
	err := row.Scan(&item.ID, &item.ManualID, &item.Title, &item.Description, &item.SortOrder, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// ListChapters returns active chapters by sort order, ties broken by
// creation time and id.
func (s *PostgresStore) ListChapters(ctx context.Context, manualID string) ([]Chapter, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+chapterColumns+`
		FROM manual_chapters
		WHERE manual_id = $1 AND active
		ORDER BY sort_order ASC, created_at ASC, id ASC
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	items := []Chapter{}
	for rows.Next() {
		item, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetChapter only resolves active chapters of the given manual.
func (s *PostgresStore) GetChapter(ctx context.Context, manualID, chapterID string) (Chapter, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+chapterColumns+` FROM manual_chapters
		WHERE manual_id = $1 AND id = $2 AND active
	`, manualID, chapterID)
	item, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("get chapter: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) MaxChapterSortOrder(ctx context.Context, manualID string) (int, bool, error) {
	var maxOrder sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT MAX(sort_order) FROM manual_chapters WHERE manual_id = $1 AND active
	`, manualID).Scan(&maxOrder)
	if err != nil {
		return 0, false, fmt.Errorf("max chapter sort order: %w", err)
	}
	return int(maxOrder.Int64), maxOrder.Valid, nil
}

func (s *PostgresStore) InsertChapter(ctx context.Context, chapter Chapter) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO manual_chapters (id, manual_id, title, description, sort_order, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, chapter.ID, chapter.ManualID, chapter.Title, chapter.Description, chapter.SortOrder, chapter.Active)
	if err != nil {
		return fmt.Errorf("insert chapter: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChapter(ctx context.Context, chapter Chapter) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE manual_chapters
		SET title = $3, description = $4, sort_order = $5, active = $6, updated_at = NOW()
		WHERE manual_id = $1 AND id = $2
	`, chapter.ManualID, chapter.ID, chapter.Title, chapter.Description, chapter.SortOrder, chapter.Active)
	if err != nil {
		return fmt.Errorf("update chapter: %w", err)
	}
	return requireAffected(result)
}

// SetChapterSortOrder reports false when the id is not an active chapter of the manual.
func (s *PostgresStore) SetChapterSortOrder(ctx context.Context, manualID, chapterID string, sortOrder int) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE manual_chapters SET sort_order = $3, updated_at = NOW()
		WHERE manual_id = $1 AND id = $2 AND active
	`, manualID, chapterID, sortOrder)
	if err != nil {
		return false, fmt.Errorf("set chapter sort order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const documentColumns = `
	id, manual_id, chapter_id, system_document_id, display_title_override, sort_order,
	include_in_print, active, added_in_manual_version, removed_in_manual_version, created_at, updated_at
`

func scanDocument(row rowScanner) (ManualDocument, error) {
	var (
		item      ManualDocument
		chapterID sql.NullString
		removedIn sql.NullInt64
	)
	err := row.Scan(
		&item.ID, &item.ManualID, &chapterID, &item.ContentID, &item.DisplayTitleOverride, &item.SortOrder,
		&item.IncludeInPrint, &item.Active, &item.AddedInManualVersion, &removedIn, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return ManualDocument{}, err
	}
	item.ChapterID = nullableString(chapterID)
	if removedIn.Valid {
		v := int(removedIn.Int64)
		item.RemovedInManualVersion = &v
	}
	return item, nil
}

// ListDocuments returns active documents ordered for rendering within their
// parent (chapter or root).
func (s *PostgresStore) ListDocuments(ctx context.Context, manualID string) ([]ManualDocument, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM manual_documents
		WHERE manual_id = $1 AND active
		ORDER BY sort_order ASC, created_at ASC, id ASC
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list manual documents: %w", err)
	}
	defer rows.Close()

	items := []ManualDocument{}
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual document: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, manualID, documentID string) (ManualDocument, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM manual_documents
		WHERE manual_id = $1 AND id = $2 AND active
	`, manualID, documentID)
	item, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ManualDocument{}, ErrNotFound
	}
	if err != nil {
		return ManualDocument{}, fmt.Errorf("get manual document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ActiveContentLinked(ctx context.Context, manualID, contentID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM manual_documents WHERE manual_id = $1 AND system_document_id = $2 AND active)
	`, manualID, contentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check linked content: %w", err)
	}
	return exists, nil
}

// MaxDocumentSortOrder scopes to one chapter, or to the root when chapterID is nil.
func (s *PostgresStore) MaxDocumentSortOrder(ctx context.Context, manualID string, chapterID *string) (int, bool, error) {
	var maxOrder sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT MAX(sort_order) FROM manual_documents
		WHERE manual_id = $1 AND active AND chapter_id IS NOT DISTINCT FROM $2
	`, manualID, chapterID).Scan(&maxOrder)
	if err != nil {
		return 0, false, fmt.Errorf("max document sort order: %w", err)
	}
	return int(maxOrder.Int64), maxOrder.Valid, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc ManualDocument) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO manual_documents (
			id, manual_id, chapter_id, system_document_id, display_title_override, sort_order,
			include_in_print, active, added_in_manual_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, doc.ID, doc.ManualID, doc.ChapterID, doc.ContentID, doc.DisplayTitleOverride, doc.SortOrder,
		doc.IncludeInPrint, doc.Active, doc.AddedInManualVersion)
	if err != nil {
		return fmt.Errorf("insert manual document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc ManualDocument) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE manual_documents
		SET chapter_id = $3, display_title_override = $4, sort_order = $5, include_in_print = $6,
			active = $7, removed_in_manual_version = $8, updated_at = NOW()
		WHERE manual_id = $1 AND id = $2
	`, doc.ManualID, doc.ID, doc.ChapterID, doc.DisplayTitleOverride, doc.SortOrder, doc.IncludeInPrint,
		doc.Active, doc.RemovedInManualVersion)
	if err != nil {
		return fmt.Errorf("update manual document: %w", err)
	}
	return requireAffected(result)
}

// ReparentChapterDocuments moves the chapter's active documents to the root.
func (s *PostgresStore) ReparentChapterDocuments(ctx context.Context, manualID, chapterID string) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE manual_documents SET chapter_id = NULL, updated_at = NOW()
		WHERE manual_id = $1 AND chapter_id = $2 AND active
	`, manualID, chapterID)
	if err != nil {
		return 0, fmt.Errorf("reparent chapter documents: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) SetDocumentSortOrder(ctx context.Context, manualID string, chapterID *string, documentID string, sortOrder int) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE manual_documents SET sort_order = $4, updated_at = NOW()
		WHERE manual_id = $1 AND chapter_id IS NOT DISTINCT FROM $2 AND id = $3 AND active
	`, manualID, chapterID, documentID, sortOrder)
	if err != nil {
		return false, fmt.Errorf("set document sort order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
