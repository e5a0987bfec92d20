package app

import (
	"encoding/json"
	"time"

	"nexus/manuals/internal/projection"
	"nexus/manuals/internal/store"
)

type ManualPayload struct {
	ID                  string     `json:"id"`
	Code                string     `json:"code"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Status              string     `json:"status"`
	CurrentVersion      int        `json:"currentVersion"`
	OwnerCompanyID      *string    `json:"ownerCompanyId"`
	IsNexusInternal     bool       `json:"isNexusInternal"`
	RequiredGlobalRoles []string   `json:"requiredGlobalRoles"`
	PublishToAllTenants bool       `json:"publishToAllTenants"`
	TargetTagIDs        []string   `json:"targetTagIds"`
	PublicSlug          *string    `json:"publicSlug"`
	IsPublic            bool       `json:"isPublic"`
	CoverImageURL       string     `json:"coverImageUrl,omitempty"`
	IconEmoji           string     `json:"iconEmoji,omitempty"`
	CreatedByUserID     string     `json:"createdByUserId"`
	PublishedAt         *time.Time `json:"publishedAt"`
	ArchivedAt          *time.Time `json:"archivedAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func manualPayload(m store.Manual) ManualPayload {
	return ManualPayload{
		ID:                  m.ID,
		Code:                m.Code,
		Title:               m.Title,
		Description:         m.Description,
		Status:              m.Status,
		CurrentVersion:      m.CurrentVersion,
		OwnerCompanyID:      m.OwnerCompanyID,
		IsNexusInternal:     m.IsNexusInternal,
		RequiredGlobalRoles: nonNil(m.RequiredGlobalRoles),
		PublishToAllTenants: m.PublishToAllTenants,
		TargetTagIDs:        nonNil(m.TargetTagIDs),
		PublicSlug:          m.PublicSlug,
		IsPublic:            m.IsPublic,
		CoverImageURL:       m.CoverImageURL,
		IconEmoji:           m.IconEmoji,
		CreatedByUserID:     m.CreatedByUserID,
		PublishedAt:         m.PublishedAt,
		ArchivedAt:          m.ArchivedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

type ChapterPayload struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	SortOrder   int               `json:"sortOrder"`
	Documents   []DocumentPayload `json:"documents"`
}

type DocumentPayload struct {
	ID                     string  `json:"id"`
	ChapterID              *string `json:"chapterId"`
	SystemDocumentID       string  `json:"systemDocumentId"`
	Title                  string  `json:"title"`
	DisplayTitleOverride   string  `json:"displayTitleOverride,omitempty"`
	RevisionNo             int     `json:"revisionNo"`
	SortOrder              int     `json:"sortOrder"`
	IncludeInPrint         bool    `json:"includeInPrint"`
	AddedInManualVersion   int     `json:"addedInManualVersion"`
	RemovedInManualVersion *int    `json:"removedInManualVersion,omitempty"`
}

// ManualDetail is a manual with its live structure.
type ManualDetail struct {
	ManualPayload
	Chapters      []ChapterPayload  `json:"chapters"`
	RootDocuments []DocumentPayload `json:"rootDocuments"`
}

type VersionPayload struct {
	ID              string          `json:"id"`
	Version         int             `json:"version"`
	ChangeType      string          `json:"changeType"`
	ChangeNotes     string          `json:"changeNotes,omitempty"`
	Snapshot        json.RawMessage `json:"structureSnapshot,omitempty"`
	CreatedByUserID string          `json:"createdByUserId"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func versionPayload(v store.ManualVersion, withSnapshot bool) VersionPayload {
	out := VersionPayload{
		ID:              v.ID,
		Version:         v.Version,
		ChangeType:      v.ChangeType,
		ChangeNotes:     v.ChangeNotes,
		CreatedByUserID: v.CreatedByUserID,
		CreatedAt:       v.CreatedAt,
	}
	if withSnapshot {
		out.Snapshot = v.Snapshot
	}
	return out
}

type ViewPayload struct {
	ID              string             `json:"id"`
	ManualID        string             `json:"manualId"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	IsDefault       bool               `json:"isDefault"`
	Mapping         projection.Mapping `json:"mapping"`
	CreatedByUserID string             `json:"createdByUserId"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func viewPayload(v store.ManualView) ViewPayload {
	// Stored mappings were validated on write.
	mapping, _ := projection.ParseJSON(v.Mapping)
	return ViewPayload{
		ID:              v.ID,
		ManualID:        v.ManualID,
		Name:            v.Name,
		Description:     v.Description,
		IsDefault:       v.IsDefault,
		Mapping:         mapping,
		CreatedByUserID: v.CreatedByUserID,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

type TenantCopyPayload struct {
	ID                  string    `json:"id"`
	CompanyID           string    `json:"companyId"`
	SourceManualVersion int       `json:"sourceManualVersion"`
	Title               string    `json:"title"`
	ReceivedByUserID    string    `json:"receivedByUserId"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
}

type AvailableDocument struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	RevisionNo      int       `json:"revisionNo"`
	UpdatedAt       time.Time `json:"updatedAt"`
	AlreadyInManual bool      `json:"alreadyInManual"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
