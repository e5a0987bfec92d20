package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Repository is the storage contract of the manual engine. WithTx runs fn
// against a repository bound to one transaction; any error rolls every
// write in fn back.
type Repository interface {
	WithTx(ctx context.Context, fn func(Repository) error) error

	GetManual(ctx context.Context, manualID string) (Manual, error)
	LockManual(ctx context.Context, manualID string) (Manual, error)
	ManualCodeExists(ctx context.Context, code string) (bool, error)
	PublicSlugExists(ctx context.Context, slug, excludeManualID string) (bool, error)
	ListManuals(ctx context.Context, filter ManualFilter) ([]Manual, error)
	InsertManual(ctx context.Context, manual Manual) error
	UpdateManual(ctx context.Context, manual Manual) error
	IncrementVersion(ctx context.Context, manualID string) (int, error)

	InsertVersion(ctx context.Context, version ManualVersion) error
	ListVersions(ctx context.Context, manualID string) ([]ManualVersion, error)
	GetVersion(ctx context.Context, manualID string, version int) (ManualVersion, error)

	ListChapters(ctx context.Context, manualID string) ([]Chapter, error)
	GetChapter(ctx context.Context, manualID, chapterID string) (Chapter, error)
	MaxChapterSortOrder(ctx context.Context, manualID string) (int, bool, error)
	InsertChapter(ctx context.Context, chapter Chapter) error
	UpdateChapter(ctx context.Context, chapter Chapter) error
	SetChapterSortOrder(ctx context.Context, manualID, chapterID string, sortOrder int) (bool, error)

	ListDocuments(ctx context.Context, manualID string) ([]ManualDocument, error)
	GetDocument(ctx context.Context, manualID, documentID string) (ManualDocument, error)
	ActiveContentLinked(ctx context.Context, manualID, contentID string) (bool, error)
	MaxDocumentSortOrder(ctx context.Context, manualID string, chapterID *string) (int, bool, error)
	InsertDocument(ctx context.Context, doc ManualDocument) error
	UpdateDocument(ctx context.Context, doc ManualDocument) error
	ReparentChapterDocuments(ctx context.Context, manualID, chapterID string) (int64, error)
	SetDocumentSortOrder(ctx context.Context, manualID string, chapterID *string, documentID string, sortOrder int) (bool, error)

	ListViews(ctx context.Context, manualID string) ([]ManualView, error)
	GetView(ctx context.Context, manualID, viewID string) (ManualView, error)
	GetDefaultView(ctx context.Context, manualID string) (ManualView, error)
	InsertView(ctx context.Context, view ManualView) error
	UpdateView(ctx context.Context, view ManualView) error
	DeleteView(ctx context.Context, manualID, viewID string) error
	ClearDefaultViews(ctx context.Context, manualID, exceptViewID string) error

	GetContents(ctx context.Context, contentIDs []string) (map[string]ContentEntry, error)
	ContentStamp(ctx context.Context, manualID string) (time.Time, error)
	ListContents(ctx context.Context) ([]ContentEntry, error)

	ActiveCompanyIDs(ctx context.Context) ([]string, error)
	CompanyIDsWithTags(ctx context.Context, tagIDs []string) ([]string, error)
	TenantCopyCompanyIDs(ctx context.Context, manualID string) ([]string, error)
	InsertTenantCopy(ctx context.Context, item TenantManualCopy) (bool, error)
	ListTenantCopies(ctx context.Context, manualID string) ([]TenantManualCopy, error)

	Ping(ctx context.Context) error
}
