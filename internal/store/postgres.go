package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db *sql.DB
	q  queryer
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// WithTx joins the surrounding transaction when called on a store that is
// already bound to one.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Repository) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const manualColumns = `
	m.id, m.code, m.title, m.description, m.status, m.current_version, m.owner_company_id,
	m.is_nexus_internal, m.required_global_roles, m.publish_to_all_tenants, m.public_slug, m.is_public,
	m.cover_image_url, m.icon_emoji, m.created_by_user_id, m.published_at, m.archived_at,
	m.created_at, m.updated_at,
	(SELECT COALESCE(jsonb_agg(t.tag_id ORDER BY t.tag_id), '[]'::jsonb) FROM manual_target_tags t WHERE t.manual_id = m.id)
`

func scanManual(row rowScanner) (Manual, error) {
	var (
		item        Manual
		owner       sql.NullString
		slug        sql.NullString
		rolesRaw    []byte
		tagsRaw     []byte
		publishedAt sql.NullTime
		archivedAt  sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.Code, &item.Title, &item.Description, &item.Status, &item.CurrentVersion, &owner,
		&item.IsNexusInternal, &rolesRaw, &item.PublishToAllTenants, &slug, &item.IsPublic,
		&item.CoverImageURL, &item.IconEmoji, &item.CreatedByUserID, &publishedAt, &archivedAt,
		&item.CreatedAt, &item.UpdatedAt,
		&tagsRaw,
	)
	if err != nil {
		return Manual{}, err
	}
	item.OwnerCompanyID = nullableString(owner)
	item.PublicSlug = nullableString(slug)
	item.PublishedAt = nullableTime(publishedAt)
	item.ArchivedAt = nullableTime(archivedAt)
	item.RequiredGlobalRoles = decodeStrings(rolesRaw)
	item.TargetTagIDs = decodeStrings(tagsRaw)
	return item, nil
}

func (s *PostgresStore) GetManual(ctx context.Context, manualID string) (Manual, error) {
	return s.getManual(ctx, `SELECT `+manualColumns+` FROM manuals m WHERE m.id = $1`, manualID)
}

// LockManual reads the manual with FOR UPDATE. Inside WithTx the row stays
// locked until commit, so concurrent writers see each other's status.
func (s *PostgresStore) LockManual(ctx context.Context, manualID string) (Manual, error) {
	return s.getManual(ctx, `SELECT `+manualColumns+` FROM manuals m WHERE m.id = $1 FOR UPDATE OF m`, manualID)
}

func (s *PostgresStore) getManual(ctx context.Context, query, manualID string) (Manual, error) {
	item, err := scanManual(s.q.QueryRowContext(ctx, query, manualID))
	if errors.Is(err, sql.ErrNoRows) {
		return Manual{}, ErrNotFound
	}
	if err != nil {
		return Manual{}, fmt.Errorf("get manual: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ManualCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM manuals WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check manual code: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) PublicSlugExists(ctx context.Context, slug, excludeManualID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM manuals WHERE public_slug = $1 AND id <> $2)
	`, slug, excludeManualID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check public slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListManuals(ctx context.Context, filter ManualFilter) ([]Manual, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("m.status = $%d", len(args)))
	} else if !filter.IncludeArchived {
		clauses = append(clauses, "m.status <> 'ARCHIVED'")
	}
	if filter.OwnerCompanyID != "" {
		args = append(args, filter.OwnerCompanyID)
		clauses = append(clauses, fmt.Sprintf("m.owner_company_id = $%d", len(args)))
	}

	query := `SELECT ` + manualColumns + ` FROM manuals m`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY m.title ASC, m.id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list manuals: %w", err)
	}
	defer rows.Close()

	items := []Manual{}
	for rows.Next() {
		item, err := scanManual(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertManual(ctx context.Context, manual Manual) error {
	roles, err := json.Marshal(nonNilStrings(manual.RequiredGlobalRoles))
	if err != nil {
		return fmt.Errorf("encode required roles: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO manuals (
			id, code, title, description, status, current_version, owner_company_id,
			is_nexus_internal, required_global_roles, publish_to_all_tenants, public_slug, is_public,
			cover_image_url, icon_emoji, created_by_user_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15)
	`,
		manual.ID, manual.Code, manual.Title, manual.Description, manual.Status, manual.CurrentVersion, manual.OwnerCompanyID,
		manual.IsNexusInternal, string(roles), manual.PublishToAllTenants, manual.PublicSlug, manual.IsPublic,
		manual.CoverImageURL, manual.IconEmoji, manual.CreatedByUserID,
	)
	if err != nil {
		return fmt.Errorf("insert manual: %w", err)
	}
	return s.replaceTargetTags(ctx, manual.ID, manual.TargetTagIDs)
}

// UpdateManual writes metadata, status and lifecycle timestamps. The version
// counter only moves through IncrementVersion.
func (s *PostgresStore) UpdateManual(ctx context.Context, manual Manual) error {
	roles, err := json.Marshal(nonNilStrings(manual.RequiredGlobalRoles))
	if err != nil {
		return fmt.Errorf("encode required roles: %w", err)
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE manuals
		SET title = $2, description = $3, status = $4, owner_company_id = $5, is_nexus_internal = $6,
			required_global_roles = $7::jsonb, publish_to_all_tenants = $8, public_slug = $9, is_public = $10,
			cover_image_url = $11, icon_emoji = $12, published_at = $13, archived_at = $14, updated_at = NOW()
		WHERE id = $1
	`,
		manual.ID, manual.Title, manual.Description, manual.Status, manual.OwnerCompanyID, manual.IsNexusInternal,
		string(roles), manual.PublishToAllTenants, manual.PublicSlug, manual.IsPublic,
		manual.CoverImageURL, manual.IconEmoji, manual.PublishedAt, manual.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("update manual: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	return s.replaceTargetTags(ctx, manual.ID, manual.TargetTagIDs)
}

// IncrementVersion bumps current_version by one and returns the new value.
// The row lock taken by the UPDATE serializes concurrent bumps.
func (s *PostgresStore) IncrementVersion(ctx context.Context, manualID string) (int, error) {
	var version int
	err := s.q.QueryRowContext(ctx, `
		UPDATE manuals SET current_version = current_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING current_version
	`, manualID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment manual version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) replaceTargetTags(ctx context.Context, manualID string, tagIDs []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM manual_target_tags WHERE manual_id = $1`, manualID); err != nil {
		return fmt.Errorf("clear target tags: %w", err)
	}
	for _, tagID := range uniqueStrings(tagIDs) {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO manual_target_tags (manual_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, manualID, tagID); err != nil {
			return fmt.Errorf("insert target tag: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, version ManualVersion) error {
	var snapshot any
	if len(version.Snapshot) > 0 {
		snapshot = string(version.Snapshot)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO manual_versions (id, manual_id, version, change_type, change_notes, structure_snapshot, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, version.ID, version.ManualID, version.Version, version.ChangeType, version.ChangeNotes, snapshot, version.CreatedByUserID)
	if err != nil {
		return fmt.Errorf("insert manual version: %w", err)
	}
	return nil
}

const versionColumns = `id, manual_id, version, change_type, change_notes, structure_snapshot, created_by_user_id, created_at`

func scanVersion(row rowScanner) (ManualVersion, error) {
	var (
		item     ManualVersion
		snapshot []byte
	)
	if err := row.Scan(&item.ID, &item.ManualID, &item.Version, &item.ChangeType, &item.ChangeNotes, &snapshot, &item.CreatedByUserID, &item.CreatedAt); err != nil {
		return ManualVersion{}, err
	}
	if len(snapshot) > 0 {
		item.Snapshot = json.RawMessage(snapshot)
	}
	return item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, manualID string) ([]ManualVersion, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM manual_versions
		WHERE manual_id = $1
		ORDER BY version DESC
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list manual versions: %w", err)
	}
	defer rows.Close()

	items := []ManualVersion{}
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual version: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetVersion(ctx context.Context, manualID string, version int) (ManualVersion, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM manual_versions WHERE manual_id = $1 AND version = $2
	`, manualID, version)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ManualVersion{}, ErrNotFound
	}
	if err != nil {
		return ManualVersion{}, fmt.Errorf("get manual version: %w", err)
	}
	return item, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullableTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}

func decodeStrings(raw []byte) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
