package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	for _, key := range []string{"TEST_DATABASE_URL", "DATABASE_URL"} {
		if dsn := strings.TrimSpace(os.Getenv(key)); dsn != "" {
			return dsn
		}
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "manuals",
				"POSTGRES_PASSWORD": "manuals",
				"POSTGRES_DB":       "manuals_test",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://manuals:manuals@%s:%s/manuals_test?sslmode=disable", host, port.Port())
}

func openMigratedStore(t *testing.T) (*sql.DB, *PostgresStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, getTestDatabaseURL(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	_, err = ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	return db, NewPostgresStore(db)
}

func seedManual(t *testing.T, ctx context.Context, repo Repository, id string) Manual {
	t.Helper()
	manual := Manual{
		ID:             id,
		Code:           strings.ToUpper(id),
		Title:          "Safety " + id,
		Status:         ManualStatusDraft,
		CurrentVersion: 1,
		TargetTagIDs:   []string{"tag_west", "tag_west", "tag_east"},
	}
	require.NoError(t, repo.InsertManual(ctx, manual))
	require.NoError(t, repo.InsertVersion(ctx, ManualVersion{
		ID: "ver_" + id + "_1", ManualID: id, Version: 1, ChangeType: ChangeInitial,
	}))
	return manual
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, _ := openMigratedStore(t)
	ctx := context.Background()

	reverted, err := RollbackMigrations(ctx, db, migrationsDir, 100)
	require.NoError(t, err)
	assert.Len(t, reverted, 3)

	status, err := MigrationStatus(ctx, db, migrationsDir)
	require.NoError(t, err)
	for _, migration := range status {
		assert.False(t, migration.Applied, migration.ID())
	}

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	assert.Len(t, applied, 3)

	applied, err = ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestManualVersionsRejectUpdateAndDelete(t *testing.T) {
	db, repo := openMigratedStore(t)
	ctx := context.Background()
	seedManual(t, ctx, repo, "man_ledger")

	for _, statement := range []string{
		`UPDATE manual_versions SET change_notes = 'edited' WHERE manual_id = 'man_ledger'`,
		`DELETE FROM manual_versions WHERE manual_id = 'man_ledger'`,
	} {
		_, err := db.ExecContext(ctx, statement)
		require.Error(t, err, statement)

		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr), "expected PostgreSQL error, got %v", err)
		assert.Equal(t, "55000", pgErr.SQLState())
		assert.Contains(t, pgErr.Message, "manual_versions is append-only")
	}
}

func TestPostgresStoreWithTxRollsBack(t *testing.T) {
	_, repo := openMigratedStore(t)
	ctx := context.Background()
	seedManual(t, ctx, repo, "man_tx")

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx Repository) error {
		version, err := tx.IncrementVersion(ctx, "man_tx")
		if err != nil {
			return err
		}
		if err := tx.InsertVersion(ctx, ManualVersion{
			ID: "ver_man_tx_2", ManualID: "man_tx", Version: version, ChangeType: ChangeChapterAdded,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	manual, err := repo.GetManual(ctx, "man_tx")
	require.NoError(t, err)
	assert.Equal(t, 1, manual.CurrentVersion)
	versions, err := repo.ListVersions(ctx, "man_tx")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestLockManualSerializesWriters(t *testing.T) {
	_, repo := openMigratedStore(t)
	ctx := context.Background()
	seedManual(t, ctx, repo, "man_lock")

	locked := make(chan struct{})
	release := make(chan struct{})
	archiveErr := make(chan error, 1)
	go func() {
		archiveErr <- repo.WithTx(ctx, func(tx Repository) error {
			manual, err := tx.LockManual(ctx, "man_lock")
			if err != nil {
				return err
			}
			close(locked)
			<-release
			now := time.Now().UTC()
			manual.Status = ManualStatusArchived
			manual.ArchivedAt = &now
			return tx.UpdateManual(ctx, manual)
		})
	}()
	select {
	case <-locked:
	case err := <-archiveErr:
		t.Fatalf("archive transaction ended early: %v", err)
	}

	seen := make(chan Manual, 1)
	go func() {
		_ = repo.WithTx(ctx, func(tx Repository) error {
			manual, err := tx.LockManual(ctx, "man_lock")
			if err == nil {
				seen <- manual
			}
			return err
		})
	}()

	select {
	case <-seen:
		t.Fatal("second writer locked the manual while the first transaction was open")
	case <-time.After(300 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-archiveErr)
	select {
	case manual := <-seen:
		assert.Equal(t, ManualStatusArchived, manual.Status)
		assert.NotNil(t, manual.ArchivedAt)
	case <-time.After(10 * time.Second):
		t.Fatal("second writer never acquired the lock")
	}
}

func TestPostgresStoreStructureAndViews(t *testing.T) {
	db, repo := openMigratedStore(t)
	ctx := context.Background()
	manual := seedManual(t, ctx, repo, "man_struct")
	assert.ElementsMatch(t, []string{"tag_east", "tag_west"}, manual.TargetTagIDs)

	_, err := db.ExecContext(ctx, `
		INSERT INTO system_documents (id, title, revision_no, html_content) VALUES
			('sd_1', 'Fall Protection', 3, '<p>harness</p>'),
			('sd_2', 'Ladders', 1, '')
	`)
	require.NoError(t, err)

	_, found, err := repo.MaxChapterSortOrder(ctx, "man_struct")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.InsertChapter(ctx, Chapter{ID: "ch_1", ManualID: "man_struct", Title: "Site", SortOrder: 0, Active: true}))
	chapterID := "ch_1"
	require.NoError(t, repo.InsertDocument(ctx, ManualDocument{
		ID: "md_1", ManualID: "man_struct", ChapterID: &chapterID, ContentID: "sd_1",
		IncludeInPrint: true, Active: true, AddedInManualVersion: 2,
	}))
	require.NoError(t, repo.InsertDocument(ctx, ManualDocument{
		ID: "md_2", ManualID: "man_struct", ContentID: "sd_2",
		SortOrder: 0, IncludeInPrint: true, Active: true, AddedInManualVersion: 3,
	}))

	maxOrder, found, err := repo.MaxDocumentSortOrder(ctx, "man_struct", nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, maxOrder)

	linked, err := repo.ActiveContentLinked(ctx, "man_struct", "sd_1")
	require.NoError(t, err)
	assert.True(t, linked)

	moved, err := repo.ReparentChapterDocuments(ctx, "man_struct", "ch_1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)
	doc, err := repo.GetDocument(ctx, "man_struct", "md_1")
	require.NoError(t, err)
	assert.Nil(t, doc.ChapterID)

	ok, err := repo.SetDocumentSortOrder(ctx, "man_struct", nil, "md_1", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SetDocumentSortOrder(ctx, "man_struct", &chapterID, "md_1", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	contents, err := repo.GetContents(ctx, []string{"sd_1", "sd_missing"})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, 3, contents["sd_1"].RevisionNo)
	contents, err = repo.GetContents(ctx, []string{"sd_2", "sd_1", "sd_1"})
	require.NoError(t, err)
	assert.Len(t, contents, 2)

	_, err = db.ExecContext(ctx, `UPDATE system_documents SET updated_at = '2030-01-02T03:04:05Z' WHERE id = 'sd_2'`)
	require.NoError(t, err)
	stamp, err := repo.ContentStamp(ctx, "man_struct")
	require.NoError(t, err)
	assert.True(t, stamp.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))
	unlinked, err := repo.ContentStamp(ctx, "man_missing")
	require.NoError(t, err)
	assert.True(t, unlinked.IsZero())

	mapping := json.RawMessage(`{"hiddenChapterIds":["ch_1"]}`)
	require.NoError(t, repo.InsertView(ctx, ManualView{ID: "mv_a", ManualID: "man_struct", Name: "Field", IsDefault: true, Mapping: mapping}))
	require.NoError(t, repo.InsertView(ctx, ManualView{ID: "mv_b", ManualID: "man_struct", Name: "Audit"}))
	require.NoError(t, repo.ClearDefaultViews(ctx, "man_struct", "mv_b"))
	require.NoError(t, repo.UpdateView(ctx, ManualView{ID: "mv_b", ManualID: "man_struct", Name: "Audit", IsDefault: true}))

	def, err := repo.GetDefaultView(ctx, "man_struct")
	require.NoError(t, err)
	assert.Equal(t, "mv_b", def.ID)

	views, err := repo.ListViews(ctx, "man_struct")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "mv_b", views[0].ID)
	assert.JSONEq(t, string(mapping), string(views[1].Mapping))

	require.NoError(t, repo.DeleteView(ctx, "man_struct", "mv_a"))
	assert.ErrorIs(t, repo.DeleteView(ctx, "man_struct", "mv_a"), ErrNotFound)
}

func TestPostgresStoreTenantCopies(t *testing.T) {
	db, repo := openMigratedStore(t)
	ctx := context.Background()
	seedManual(t, ctx, repo, "man_dist")

	_, err := db.ExecContext(ctx, `
		INSERT INTO companies (id, name, deleted_at) VALUES
			('co_a', 'A', NULL), ('co_b', 'B', NULL), ('co_gone', 'Gone', NOW());
		INSERT INTO company_tags (company_id, tag_id) VALUES
			('co_a', 'tag_west'), ('co_a', 'tag_east'), ('co_gone', 'tag_west');
	`)
	require.NoError(t, err)

	active, err := repo.ActiveCompanyIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"co_a", "co_b"}, active)

	tagged, err := repo.CompanyIDsWithTags(ctx, []string{"tag_west", "tag_east"})
	require.NoError(t, err)
	assert.Equal(t, []string{"co_a"}, tagged)

	copyRow := TenantManualCopy{ID: "tmc_1", CompanyID: "co_a", SourceManualID: "man_dist", SourceManualVersion: 2, Title: "Safety", Status: TenantCopyUnreleased}
	created, err := repo.InsertTenantCopy(ctx, copyRow)
	require.NoError(t, err)
	assert.True(t, created)

	copyRow.ID = "tmc_2"
	created, err = repo.InsertTenantCopy(ctx, copyRow)
	require.NoError(t, err)
	assert.False(t, created)

	ids, err := repo.TenantCopyCompanyIDs(ctx, "man_dist")
	require.NoError(t, err)
	assert.Equal(t, []string{"co_a"}, ids)
}
