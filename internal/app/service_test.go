package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/manuals/internal/content"
	"nexus/manuals/internal/store"
	"nexus/manuals/internal/structure"
)

var testActor = Actor{UserID: "user-000123", UserName: "Dana Admin"}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, opts ...func(*Options)) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	repo.addContent("sd-safety", "Site Safety", 3, "<p>Wear a hard hat.</p>")
	repo.addContent("sd-ppe", "PPE Requirements", 1, "<p>Gloves and boots.</p>")
	repo.addContent("sd-fall", "Fall Protection", 2, "<p>Harness above six feet.</p>")
	repo.addContent("sd-fire", "Fire Plan", 5, "<p>Muster at the gate.</p>")

	options := Options{Repository: repo, Sanitizer: content.NewSanitizer(), Logger: quietLogger()}
	for _, opt := range opts {
		opt(&options)
	}
	return New(options), repo
}

func createManual(t *testing.T, svc *Service, code string) ManualPayload {
	t.Helper()
	manual, err := svc.CreateManual(context.Background(), testActor, CreateManualInput{Code: code, Title: "Safety Manual " + code})
	require.NoError(t, err)
	return manual
}

func addChapter(t *testing.T, svc *Service, manualID, title string) string {
	t.Helper()
	result, err := svc.AddChapter(context.Background(), testActor, manualID, AddChapterInput{Title: title})
	require.NoError(t, err)
	return result.ChapterID
}

func addDocument(t *testing.T, svc *Service, manualID string, chapterID *string, contentID string) string {
	t.Helper()
	result, err := svc.AddDocument(context.Background(), testActor, manualID, AddDocumentInput{ChapterID: chapterID, SystemDocumentID: contentID})
	require.NoError(t, err)
	return result.DocumentID
}

func requireDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
}

func ptr[T any](v T) *T { return &v }

func TestCreateManualStartsLedgerAtVersionOne(t *testing.T) {
	svc, repo := newTestService(t)
	manual := createManual(t, svc, "SAF-001")

	assert.Equal(t, store.ManualStatusDraft, manual.Status)
	assert.Equal(t, 1, manual.CurrentVersion)

	rows := repo.versionRows(manual.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Version)
	assert.Equal(t, store.ChangeInitial, rows[0].ChangeType)
	assert.Equal(t, testActor.UserID, rows[0].CreatedByUserID)

	var snapshot structure.Snapshot
	require.NoError(t, json.Unmarshal(rows[0].Snapshot, &snapshot))
	assert.Empty(t, snapshot.Chapters)
	assert.Empty(t, snapshot.RootDocuments)
}

func TestCreateManualConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateManual(ctx, testActor, CreateManualInput{Code: "SAF-001", Title: "One", PublicSlug: ptr("safety")})
	require.NoError(t, err)

	_, err = svc.CreateManual(ctx, testActor, CreateManualInput{Code: "SAF-001", Title: "Two"})
	requireDomainError(t, err, http.StatusConflict, "CONFLICT")

	_, err = svc.CreateManual(ctx, testActor, CreateManualInput{Code: "SAF-002", Title: "Three", PublicSlug: ptr(" safety ")})
	requireDomainError(t, err, http.StatusConflict, "CONFLICT")

	_, err = svc.CreateManual(ctx, testActor, CreateManualInput{Code: "", Title: "Four"})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestMutationsAppendExactlyOneVersionEach(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")

	chA := addChapter(t, svc, manual.ID, "General")
	chB := addChapter(t, svc, manual.ID, "Equipment")
	docSafety := addDocument(t, svc, manual.ID, &chA, "sd-safety")
	docPPE := addDocument(t, svc, manual.ID, &chB, "sd-ppe")
	addDocument(t, svc, manual.ID, nil, "sd-fire")

	steps := []func() (MutationResult, error){
		func() (MutationResult, error) {
			return svc.ReorderChapters(ctx, testActor, manual.ID, ReorderInput{OrderedIDs: []string{chB, chA}})
		},
		func() (MutationResult, error) {
			return svc.UpdateChapter(ctx, testActor, manual.ID, chA, UpdateChapterInput{Title: ptr("General Rules")})
		},
		func() (MutationResult, error) {
			return svc.UpdateDocument(ctx, testActor, manual.ID, docSafety, UpdateDocumentInput{DisplayTitleOverride: ptr("Safety First")})
		},
		func() (MutationResult, error) {
			return svc.SetDocumentPrintInclusion(ctx, testActor, manual.ID, docPPE, false)
		},
		func() (MutationResult, error) {
			return svc.RemoveDocument(ctx, testActor, manual.ID, docPPE)
		},
		func() (MutationResult, error) {
			return svc.RemoveChapter(ctx, testActor, manual.ID, chA)
		},
		func() (MutationResult, error) {
			return svc.UpdateManual(ctx, testActor, manual.ID, UpdateManualInput{Description: ptr("Field crews")})
		},
	}
	for _, step := range steps {
		_, err := step()
		require.NoError(t, err)
	}
	_, err := svc.Publish(ctx, testActor, manual.ID, PublishInput{ChangeNotes: "First release"})
	require.NoError(t, err)

	// 5 setup mutations, 7 steps, 1 publish
	const mutations = 13
	rows := repo.versionRows(manual.ID)
	require.Len(t, rows, mutations+1)
	for i, row := range rows {
		assert.Equal(t, i+1, row.Version)
	}

	current, err := svc.GetManual(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, mutations+1, current.CurrentVersion)

	wantTypes := []string{
		store.ChangeInitial,
		store.ChangeChapterAdded, store.ChangeChapterAdded,
		store.ChangeDocumentAdded, store.ChangeDocumentAdded, store.ChangeDocumentAdded,
		store.ChangeChapterReordered,
		store.ChangeMetadataUpdated,
		store.ChangeMetadataUpdated,
		store.ChangeMetadataUpdated,
		store.ChangeDocumentRemoved,
		store.ChangeChapterRemoved,
		store.ChangeMetadataUpdated,
		store.ChangeMetadataUpdated,
	}
	gotTypes := make([]string, 0, len(rows))
	for _, row := range rows {
		gotTypes = append(gotTypes, row.ChangeType)
	}
	assert.Equal(t, wantTypes, gotTypes)
}

func TestFailedMutationRollsBackEverything(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")
	chapterID := addChapter(t, svc, manual.ID, "General")
	addDocument(t, svc, manual.ID, &chapterID, "sd-safety")

	storageFault := errors.New("connection reset")
	repo.fail["InsertVersion"] = storageFault

	_, err := svc.RemoveChapter(ctx, testActor, manual.ID, chapterID)
	require.ErrorIs(t, err, storageFault)

	_, err = svc.AddChapter(ctx, testActor, manual.ID, AddChapterInput{Title: "Never"})
	require.ErrorIs(t, err, storageFault)

	delete(repo.fail, "InsertVersion")
	detail, err := svc.GetManual(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, detail.CurrentVersion)
	require.Len(t, detail.Chapters, 1)
	assert.Equal(t, chapterID, detail.Chapters[0].ID)
	require.Len(t, detail.Chapters[0].Documents, 1)
	assert.Empty(t, detail.RootDocuments)
	assert.Len(t, repo.versionRows(manual.ID), 3)
}

func TestRemoveChapterReparentsDocumentsToRoot(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")
	chapterID := addChapter(t, svc, manual.ID, "General")
	docA := addDocument(t, svc, manual.ID, &chapterID, "sd-safety")
	docB := addDocument(t, svc, manual.ID, &chapterID, "sd-ppe")

	_, err := svc.RemoveChapter(ctx, testActor, manual.ID, chapterID)
	require.NoError(t, err)

	for _, id := range []string{docA, docB} {
		doc := repo.data.documents[id]
		assert.Nil(t, doc.ChapterID, id)
		assert.True(t, doc.Active, id)
	}
	assert.False(t, repo.data.chapters[chapterID].Active)

	detail, err := svc.GetManual(ctx, manual.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Chapters)
	require.Len(t, detail.RootDocuments, 2)
	assert.Equal(t, "Site Safety", detail.RootDocuments[0].Title)
	assert.Equal(t, 3, detail.RootDocuments[0].RevisionNo)

	_, err = svc.RemoveChapter(ctx, testActor, manual.ID, chapterID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestAddChapterDefaultsSortOrder(t *testing.T) {
	svc, repo := newTestService(t)
	manual := createManual(t, svc, "SAF-001")

	first := addChapter(t, svc, manual.ID, "One")
	assert.Equal(t, 0, repo.data.chapters[first].SortOrder)

	_, err := svc.AddChapter(context.Background(), testActor, manual.ID, AddChapterInput{Title: "Pinned", SortOrder: ptr(7)})
	require.NoError(t, err)

	third := addChapter(t, svc, manual.ID, "Three")
	assert.Equal(t, 8, repo.data.chapters[third].SortOrder)

	_, err = svc.AddChapter(context.Background(), testActor, "missing", AddChapterInput{Title: "X"})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestAddDocumentConflictAndNotFound(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")
	chapterID := addChapter(t, svc, manual.ID, "General")
	docID := addDocument(t, svc, manual.ID, &chapterID, "sd-safety")

	_, err := svc.AddDocument(ctx, testActor, manual.ID, AddDocumentInput{SystemDocumentID: "sd-safety"})
	requireDomainError(t, err, http.StatusConflict, "CONFLICT")

	_, err = svc.AddDocument(ctx, testActor, manual.ID, AddDocumentInput{ChapterID: ptr("nope"), SystemDocumentID: "sd-ppe"})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.AddDocument(ctx, testActor, manual.ID, AddDocumentInput{SystemDocumentID: "sd-unknown"})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	before := len(repo.versionRows(manual.ID))
	_, err = svc.RemoveDocument(ctx, testActor, manual.ID, docID)
	require.NoError(t, err)
	_, err = svc.AddDocument(ctx, testActor, manual.ID, AddDocumentInput{SystemDocumentID: "sd-safety"})
	require.NoError(t, err)
	assert.Len(t, repo.versionRows(manual.ID), before+2)
}

func TestRemoveDocumentStampsVersions(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")
	docID := addDocument(t, svc, manual.ID, nil, "sd-fire")
	assert.Equal(t, 2, repo.data.documents[docID].AddedInManualVersion)

	result, err := svc.RemoveDocument(ctx, testActor, manual.ID, docID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Manual.CurrentVersion)

	doc := repo.data.documents[docID]
	assert.False(t, doc.Active)
	require.NotNil(t, doc.RemovedInManualVersion)
	assert.Equal(t, 3, *doc.RemovedInManualVersion)

	_, err = svc.RemoveDocument(ctx, testActor, manual.ID, docID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestReorderChaptersIgnoresUnknownIDs(t *testing.T) {
	svc, repo := newTestService(t)
	manual := createManual(t, svc, "SAF-001")
	a := addChapter(t, svc, manual.ID, "A")
	b := addChapter(t, svc, manual.ID, "B")
	c := addChapter(t, svc, manual.ID, "C")

	_, err := svc.ReorderChapters(context.Background(), testActor, manual.ID, ReorderInput{OrderedIDs: []string{c, "ghost", a}})
	require.NoError(t, err)

	assert.Equal(t, 0, repo.data.chapters[c].SortOrder)
	assert.Equal(t, 2, repo.data.chapters[a].SortOrder)
	assert.Equal(t, 1, repo.data.chapters[b].SortOrder)
}

func TestReorderDocumentsIsScopedToParent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")
	chapterID := addChapter(t, svc, manual.ID, "General")
	inChapter1 := addDocument(t, svc, manual.ID, &chapterID, "sd-safety")
	inChapter2 := addDocument(t, svc, manual.ID, &chapterID, "sd-ppe")
	atRoot := addDocument(t, svc, manual.ID, nil, "sd-fire")

	_, err := svc.ReorderDocuments(ctx, testActor, manual.ID, ReorderDocumentsInput{
		ChapterID:  &chapterID,
		OrderedIDs: []string{inChapter2, atRoot, inChapter1},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, repo.data.documents[inChapter2].SortOrder)
	assert.Equal(t, 2, repo.data.documents[inChapter1].SortOrder)
	assert.Equal(t, 0, repo.data.documents[atRoot].SortOrder, "root document is outside the chapter scope")

	_, err = svc.ReorderDocuments(ctx, testActor, manual.ID, ReorderDocumentsInput{ChapterID: ptr("gone"), OrderedIDs: []string{inChapter1}})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestUpdateDocumentChangeTypes(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")
	chapterID := addChapter(t, svc, manual.ID, "General")
	docID := addDocument(t, svc, manual.ID, nil, "sd-safety")

	_, err := svc.UpdateDocument(ctx, testActor, manual.ID, docID, UpdateDocumentInput{ChapterID: &chapterID})
	require.NoError(t, err)
	doc := repo.data.documents[docID]
	require.NotNil(t, doc.ChapterID)
	assert.Equal(t, chapterID, *doc.ChapterID)

	_, err = svc.UpdateDocument(ctx, testActor, manual.ID, docID, UpdateDocumentInput{DisplayTitleOverride: ptr("Rules")})
	require.NoError(t, err)

	_, err = svc.UpdateDocument(ctx, testActor, manual.ID, docID, UpdateDocumentInput{ChapterID: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, repo.data.documents[docID].ChapterID)

	rows := repo.versionRows(manual.ID)
	last := rows[len(rows)-3:]
	assert.Equal(t, store.ChangeDocumentReordered, last[0].ChangeType)
	assert.Equal(t, store.ChangeMetadataUpdated, last[1].ChangeType)
	assert.Equal(t, store.ChangeDocumentReordered, last[2].ChangeType)
}

func TestArchiveIsTerminalAndUnversioned(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")

	archived, err := svc.Archive(ctx, testActor, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ManualStatusArchived, archived.Status)
	require.NotNil(t, archived.ArchivedAt)
	assert.Equal(t, 1, archived.CurrentVersion)
	assert.Len(t, repo.versionRows(manual.ID), 1)

	again, err := svc.Archive(ctx, testActor, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, archived.ArchivedAt, again.ArchivedAt)

	_, err = svc.AddChapter(ctx, testActor, manual.ID, AddChapterInput{Title: "Late"})
	requireDomainError(t, err, http.StatusConflict, "MANUAL_ARCHIVED")
	_, err = svc.Publish(ctx, testActor, manual.ID, PublishInput{})
	requireDomainError(t, err, http.StatusConflict, "MANUAL_ARCHIVED")
	assert.Len(t, repo.versionRows(manual.ID), 1)

	listed, err := svc.ListManuals(ctx, ListManualsInput{})
	require.NoError(t, err)
	assert.Empty(t, listed)
	listed, err = svc.ListManuals(ctx, ListManualsInput{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestArchiveCommittedWhileWaitingForLockWins(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	manual := createManual(t, svc, "SAF-001")
	addChapter(t, svc, manual.ID, "General")

	archivedAt := memEpoch.Add(time.Hour)
	repo.onLock = func(d *memData, manualID string) {
		m := d.manuals[manualID]
		m.Status = store.ManualStatusArchived
		m.ArchivedAt = &archivedAt
		d.manuals[manualID] = m
	}

	_, err := svc.Publish(ctx, testActor, manual.ID, PublishInput{})
	requireDomainError(t, err, http.StatusConflict, "MANUAL_ARCHIVED")
	_, err = svc.AddChapter(ctx, testActor, manual.ID, AddChapterInput{Title: "Late"})
	requireDomainError(t, err, http.StatusConflict, "MANUAL_ARCHIVED")

	// The simulated archive only exists inside the rolled-back transactions.
	stored := repo.data.manuals[manual.ID]
	assert.Equal(t, store.ManualStatusDraft, stored.Status)
	assert.Len(t, repo.versionRows(manual.ID), 2)
}

func TestPublishSnapshotsStructureAndDistributesOnce(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	repo.addCompany("co-1", false, "tag-gc")
	repo.addCompany("co-2", false, "tag-gc", "tag-elec")
	repo.addCompany("co-3", true, "tag-gc")
	repo.addCompany("co-4", false)

	manual, err := svc.CreateManual(ctx, testActor, CreateManualInput{
		Code:         "SAF-001",
		Title:        "Safety Manual",
		TargetTagIDs: []string{"tag-gc", "tag-elec"},
	})
	require.NoError(t, err)
	chapterID := addChapter(t, svc, manual.ID, "General")
	docID := addDocument(t, svc, manual.ID, &chapterID, "sd-safety")
	rootID := addDocument(t, svc, manual.ID, nil, "sd-fire")

	first, err := svc.Publish(ctx, testActor, manual.ID, PublishInput{ChangeNotes: "Initial release"})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Version)
	assert.Equal(t, store.ManualStatusPublished, first.Manual.Status)
	require.NotNil(t, first.Manual.PublishedAt)
	assert.Equal(t, 2, first.Distribution.Recipients)
	assert.Equal(t, 2, first.Distribution.Created)
	assert.Nil(t, first.Archive)

	copies, err := svc.ListTenantCopies(ctx, manual.ID)
	require.NoError(t, err)
	require.Len(t, copies, 2)
	for _, item := range copies {
		assert.Contains(t, []string{"co-1", "co-2"}, item.CompanyID)
		assert.Equal(t, store.TenantCopyUnreleased, item.Status)
		assert.Equal(t, 5, item.SourceManualVersion)
	}

	row, err := svc.VersionSnapshot(ctx, manual.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, "Initial release", row.ChangeNotes)
	var snapshot structure.Snapshot
	require.NoError(t, json.Unmarshal(row.Snapshot, &snapshot))
	require.Len(t, snapshot.Chapters, 1)
	assert.Equal(t, chapterID, snapshot.Chapters[0].ID)
	require.Len(t, snapshot.Chapters[0].Documents, 1)
	assert.Equal(t, docID, snapshot.Chapters[0].Documents[0].ID)
	require.Len(t, snapshot.RootDocuments, 1)
	assert.Equal(t, rootID, snapshot.RootDocuments[0].ID)

	second, err := svc.Publish(ctx, testActor, manual.ID, PublishInput{})
	require.NoError(t, err)
	assert.Equal(t, 6, second.Version)
	assert.Equal(t, 0, second.Distribution.Created)
	assert.Equal(t, 2, second.Distribution.Skipped)
	assert.Equal(t, first.Manual.PublishedAt, second.Manual.PublishedAt)

	copies, err = svc.ListTenantCopies(ctx, manual.ID)
	require.NoError(t, err)
	require.Len(t, copies, 2)
	for _, item := range copies {
		assert.Equal(t, 5, item.SourceManualVersion, "existing copies are never touched")
	}
}

func TestPublishToAllTenants(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	repo.addCompany("co-1", false)
	repo.addCompany("co-2", true)
	repo.addCompany("co-3", false, "tag-x")

	manual, err := svc.CreateManual(ctx, testActor, CreateManualInput{Code: "ALL", Title: "Everyone", PublishToAllTenants: true})
	require.NoError(t, err)

	result, err := svc.Publish(ctx, testActor, manual.ID, PublishInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Distribution.Created)
}

func TestPublishWithoutRecipientsIsNoop(t *testing.T) {
	svc, repo := newTestService(t)
	repo.addCompany("co-1", false, "tag-a")
	manual := createManual(t, svc, "SAF-001")

	result, err := svc.Publish(context.Background(), testActor, manual.ID, PublishInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Distribution.Recipients)
	assert.Empty(t, repo.data.copies)
}

func TestVersionHistoryNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	manual := createManual(t, svc, "SAF-001")
	addChapter(t, svc, manual.ID, "General")

	history, err := svc.VersionHistory(context.Background(), manual.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, store.ChangeChapterAdded, history[0].ChangeType)
	assert.Nil(t, history[0].Snapshot)

	_, err = svc.VersionSnapshot(context.Background(), manual.ID, 9)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestAvailableDocumentsFlagsLinkedContent(t *testing.T) {
	svc, _ := newTestService(t)
	manual := createManual(t, svc, "SAF-001")
	addDocument(t, svc, manual.ID, nil, "sd-ppe")

	docs, err := svc.AvailableDocuments(context.Background(), manual.ID)
	require.NoError(t, err)
	require.Len(t, docs, 4)
	linked := map[string]bool{}
	for _, doc := range docs {
		linked[doc.ID] = doc.AlreadyInManual
	}
	assert.True(t, linked["sd-ppe"])
	assert.False(t, linked["sd-safety"])
}

func TestUpdateManualPublicSlugConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateManual(ctx, testActor, CreateManualInput{Code: "A", Title: "A", PublicSlug: ptr("taken")})
	require.NoError(t, err)
	other := createManual(t, svc, "B")

	_, err = svc.UpdateManual(ctx, testActor, other.ID, UpdateManualInput{PublicSlug: ptr("taken")})
	requireDomainError(t, err, http.StatusConflict, "CONFLICT")

	result, err := svc.UpdateManual(ctx, testActor, other.ID, UpdateManualInput{PublicSlug: ptr("mine"), TargetTagIDs: []string{"tag-1"}})
	require.NoError(t, err)
	require.NotNil(t, result.Manual.PublicSlug)
	assert.Equal(t, "mine", *result.Manual.PublicSlug)
	assert.Equal(t, []string{"tag-1"}, result.Manual.TargetTagIDs)
	assert.Equal(t, 2, result.Manual.CurrentVersion)
}
