package store

import (
	"encoding/json"
	"time"
)

const (
	ManualStatusDraft     = "DRAFT"
	ManualStatusPublished = "PUBLISHED"
	ManualStatusArchived  = "ARCHIVED"
)

const (
	ChangeInitial           = "INITIAL"
	ChangeChapterAdded      = "CHAPTER_ADDED"
	ChangeChapterRemoved    = "CHAPTER_REMOVED"
	ChangeChapterReordered  = "CHAPTER_REORDERED"
	ChangeDocumentAdded     = "DOCUMENT_ADDED"
	ChangeDocumentRemoved   = "DOCUMENT_REMOVED"
	ChangeDocumentReordered = "DOCUMENT_REORDERED"
	ChangeMetadataUpdated   = "METADATA_UPDATED"
)

const (
	TenantCopyUnreleased = "UNRELEASED"
	TenantCopyReleased   = "RELEASED"
)

type Manual struct {
	ID                  string
	Code                string
	Title               string
	Description         string
	Status              string
	CurrentVersion      int
	OwnerCompanyID      *string
	IsNexusInternal     bool
	RequiredGlobalRoles []string
	PublishToAllTenants bool
	TargetTagIDs        []string
	PublicSlug          *string
	IsPublic            bool
	CoverImageURL       string
	IconEmoji           string
	CreatedByUserID     string
	PublishedAt         *time.Time
	ArchivedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Chapter struct {
	ID          string
	ManualID    string
	Title       string
	Description string
	SortOrder   int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ManualDocument links a content entry into a manual. ChapterID nil means the
// document lives at the root and prints as an appendix.
type ManualDocument struct {
	ID                     string
	ManualID               string
	ChapterID              *string
	ContentID              string
	DisplayTitleOverride   string
	SortOrder              int
	IncludeInPrint         bool
	Active                 bool
	AddedInManualVersion   int
	RemovedInManualVersion *int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type ManualVersion struct {
	ID              string
	ManualID        string
	Version         int
	ChangeType      string
	ChangeNotes     string
	Snapshot        json.RawMessage
	CreatedByUserID string
	CreatedAt       time.Time
}

type ManualView struct {
	ID              string
	ManualID        string
	Name            string
	Description     string
	IsDefault       bool
	Mapping         json.RawMessage
	CreatedByUserID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TenantManualCopy struct {
	ID                  string
	CompanyID           string
	SourceManualID      string
	SourceManualVersion int
	Title               string
	ReceivedByUserID    string
	Status              string
	CreatedAt           time.Time
}

// ContentEntry is a row from the system document store that manuals link to.
type ContentEntry struct {
	ID         string
	Title      string
	RevisionNo int
	HTML       string
	UpdatedAt  time.Time
}

type ManualFilter struct {
	Status          string
	IncludeArchived bool
	OwnerCompanyID  string
}
