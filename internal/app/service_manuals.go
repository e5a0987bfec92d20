package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus/manuals/internal/distribution"
	"nexus/manuals/internal/render"
	"nexus/manuals/internal/snapshots"
	"nexus/manuals/internal/store"
	"nexus/manuals/internal/structure"
)

type CreateManualInput struct {
	Code                string   `json:"code" validate:"required,max=64"`
	Title               string   `json:"title" validate:"required,max=300"`
	Description         string   `json:"description" validate:"max=4000"`
	OwnerCompanyID      *string  `json:"ownerCompanyId"`
	IsNexusInternal     bool     `json:"isNexusInternal"`
	RequiredGlobalRoles []string `json:"requiredGlobalRoles" validate:"dive,required"`
	PublishToAllTenants bool     `json:"publishToAllTenants"`
	TargetTagIDs        []string `json:"targetTagIds" validate:"dive,required"`
	PublicSlug          *string  `json:"publicSlug" validate:"omitempty,min=1,max=120"`
	IsPublic            bool     `json:"isPublic"`
	CoverImageURL       string   `json:"coverImageUrl" validate:"omitempty,url"`
	IconEmoji           string   `json:"iconEmoji" validate:"max=16"`
}

// UpdateManualInput changes only the fields that are set. A slice field set
// to an empty list clears it.
type UpdateManualInput struct {
	Title               *string  `json:"title" validate:"omitempty,min=1,max=300"`
	Description         *string  `json:"description" validate:"omitempty,max=4000"`
	OwnerCompanyID      *string  `json:"ownerCompanyId"`
	IsNexusInternal     *bool    `json:"isNexusInternal"`
	RequiredGlobalRoles []string `json:"requiredGlobalRoles" validate:"omitempty,dive,required"`
	PublishToAllTenants *bool    `json:"publishToAllTenants"`
	TargetTagIDs        []string `json:"targetTagIds" validate:"omitempty,dive,required"`
	PublicSlug          *string  `json:"publicSlug" validate:"omitempty,max=120"`
	IsPublic            *bool    `json:"isPublic"`
	CoverImageURL       *string  `json:"coverImageUrl" validate:"omitempty,max=2000"`
	IconEmoji           *string  `json:"iconEmoji" validate:"omitempty,max=16"`
	ChangeNotes         string   `json:"changeNotes" validate:"max=2000"`
}

type ListManualsInput struct {
	Status          string `json:"status" validate:"omitempty,oneof=DRAFT PUBLISHED ARCHIVED"`
	IncludeArchived bool   `json:"includeArchived"`
	OwnerCompanyID  string `json:"ownerCompanyId"`
}

type PublishInput struct {
	ChangeNotes string `json:"changeNotes" validate:"max=2000"`
}

type PublishResult struct {
	Manual       ManualPayload       `json:"manual"`
	Version      int                 `json:"version"`
	Distribution distribution.Result `json:"distribution"`
	Archive      *snapshots.Commit   `json:"archive,omitempty"`
}

// MutationResult is returned by every versioned structural operation.
type MutationResult struct {
	Manual     ManualPayload `json:"manual"`
	ChapterID  string        `json:"chapterId,omitempty"`
	DocumentID string        `json:"documentId,omitempty"`
	ViewID     string        `json:"viewId,omitempty"`
}

type VersionSnapshotPayload struct {
	VersionPayload
	ArchivedHTML bool `json:"archivedHtml"`
}

func (s *Service) CreateManual(ctx context.Context, actor Actor, input CreateManualInput) (ManualPayload, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Title = strings.TrimSpace(input.Title)
	input.PublicSlug = trimOptional(input.PublicSlug)
	if err := s.validate(input); err != nil {
		return ManualPayload{}, err
	}

	snapshot, err := json.Marshal(structure.EmptySnapshot())
	if err != nil {
		return ManualPayload{}, fmt.Errorf("encode initial snapshot: %w", err)
	}

	manual := store.Manual{
		ID:                  s.newID("man"),
		Code:                input.Code,
		Title:               input.Title,
		Description:         input.Description,
		Status:              store.ManualStatusDraft,
		CurrentVersion:      1,
		OwnerCompanyID:      trimOptional(input.OwnerCompanyID),
		IsNexusInternal:     input.IsNexusInternal,
		RequiredGlobalRoles: nonNil(input.RequiredGlobalRoles),
		PublishToAllTenants: input.PublishToAllTenants,
		TargetTagIDs:        nonNil(input.TargetTagIDs),
		PublicSlug:          input.PublicSlug,
		IsPublic:            input.IsPublic,
		CoverImageURL:       input.CoverImageURL,
		IconEmoji:           input.IconEmoji,
		CreatedByUserID:     actor.UserID,
	}

	var created store.Manual
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		exists, err := tx.ManualCodeExists(ctx, manual.Code)
		if err != nil {
			return err
		}
		if exists {
			return conflict("Manual code already exists", map[string]any{"code": manual.Code})
		}
		if manual.PublicSlug != nil {
			taken, err := tx.PublicSlugExists(ctx, *manual.PublicSlug, manual.ID)
			if err != nil {
				return err
			}
			if taken {
				return conflict("Public slug already in use", map[string]any{"publicSlug": *manual.PublicSlug})
			}
		}
		if err := tx.InsertManual(ctx, manual); err != nil {
			return err
		}
		if err := tx.InsertVersion(ctx, store.ManualVersion{
			ID:              s.newID("mv"),
			ManualID:        manual.ID,
			Version:         1,
			ChangeType:      store.ChangeInitial,
			ChangeNotes:     "Manual created",
			Snapshot:        snapshot,
			CreatedByUserID: actor.UserID,
		}); err != nil {
			return err
		}
		created, err = tx.GetManual(ctx, manual.ID)
		return err
	})
	if err != nil {
		return ManualPayload{}, err
	}

	s.metrics.VersionAppended(store.ChangeInitial)
	s.syncSearch(ctx, created.ID)
	s.logger.WithFields(logrus.Fields{"manual_id": created.ID, "code": created.Code}).Info("manual created")
	return manualPayload(created), nil
}

func (s *Service) GetManual(ctx context.Context, manualID string) (ManualDetail, error) {
	manual, err := s.repo.GetManual(ctx, manualID)
	if err != nil {
		return ManualDetail{}, lookupError(err, "Manual")
	}
	rows, err := s.loadRows(ctx, s.repo, manual.ID)
	if err != nil {
		return ManualDetail{}, err
	}
	contents, err := s.resolver(s.repo).Resolve(ctx, documentContentIDs(rows.documents))
	if err != nil {
		return ManualDetail{}, err
	}
	return rows.detail(manual, contents), nil
}

func (s *Service) ListManuals(ctx context.Context, input ListManualsInput) ([]ManualPayload, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	manuals, err := s.repo.ListManuals(ctx, store.ManualFilter{
		Status:          input.Status,
		IncludeArchived: input.IncludeArchived,
		OwnerCompanyID:  input.OwnerCompanyID,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ManualPayload, 0, len(manuals))
	for _, manual := range manuals {
		out = append(out, manualPayload(manual))
	}
	return out, nil
}

func (s *Service) UpdateManual(ctx context.Context, actor Actor, manualID string, input UpdateManualInput) (MutationResult, error) {
	input.PublicSlug = trimPointer(input.PublicSlug)
	if err := s.validate(input); err != nil {
		return MutationResult{}, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return MutationResult{}, validationError("Invalid input", []fieldError{{Field: "title", Rule: "required"}})
	}

	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		if input.PublicSlug != nil && *input.PublicSlug != "" {
			taken, err := tx.PublicSlugExists(ctx, *input.PublicSlug, manual.ID)
			if err != nil {
				return change{}, err
			}
			if taken {
				return change{}, conflict("Public slug already in use", map[string]any{"publicSlug": *input.PublicSlug})
			}
		}
		applyManualUpdate(&manual, input)
		if err := tx.UpdateManual(ctx, manual); err != nil {
			return change{}, lookupError(err, "Manual")
		}
		notes := input.ChangeNotes
		if notes == "" {
			notes = "Manual details updated"
		}
		return change{Type: store.ChangeMetadataUpdated, Notes: notes}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.syncSearch(ctx, manual.ID)
	return MutationResult{Manual: manualPayload(manual)}, nil
}

func applyManualUpdate(manual *store.Manual, input UpdateManualInput) {
	if input.Title != nil {
		manual.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		manual.Description = *input.Description
	}
	if input.OwnerCompanyID != nil {
		manual.OwnerCompanyID = trimOptional(input.OwnerCompanyID)
	}
	if input.IsNexusInternal != nil {
		manual.IsNexusInternal = *input.IsNexusInternal
	}
	if input.RequiredGlobalRoles != nil {
		manual.RequiredGlobalRoles = input.RequiredGlobalRoles
	}
	if input.PublishToAllTenants != nil {
		manual.PublishToAllTenants = *input.PublishToAllTenants
	}
	if input.TargetTagIDs != nil {
		manual.TargetTagIDs = input.TargetTagIDs
	}
	if input.PublicSlug != nil {
		// An empty slug clears it.
		manual.PublicSlug = trimOptional(input.PublicSlug)
	}
	if input.IsPublic != nil {
		manual.IsPublic = *input.IsPublic
	}
	if input.CoverImageURL != nil {
		manual.CoverImageURL = *input.CoverImageURL
	}
	if input.IconEmoji != nil {
		manual.IconEmoji = *input.IconEmoji
	}
}

// Archive is terminal and does not append a version. Archiving an archived
// manual returns it unchanged.
func (s *Service) Archive(ctx context.Context, actor Actor, manualID string) (ManualPayload, error) {
	var (
		archived bool
		result   store.Manual
	)
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		manual, err := tx.LockManual(ctx, manualID)
		if err != nil {
			return lookupError(err, "Manual")
		}
		if manual.Status == store.ManualStatusArchived {
			result = manual
			return nil
		}
		at := s.now()
		manual.Status = store.ManualStatusArchived
		manual.ArchivedAt = &at
		if err := tx.UpdateManual(ctx, manual); err != nil {
			return err
		}
		archived = true
		result, err = tx.GetManual(ctx, manual.ID)
		return err
	})
	if err != nil {
		return ManualPayload{}, err
	}
	if archived {
		s.invalidateTOC(ctx, result.ID)
		s.syncSearch(ctx, result.ID)
		s.logger.WithFields(logrus.Fields{"manual_id": result.ID, "user_id": actor.UserID}).Info("manual archived")
	}
	return manualPayload(result), nil
}

// Publish freezes the active structure into a new version, marks the manual
// PUBLISHED and hands it to the target tenants. The snapshot archive and the
// search index are updated afterwards; their failures are logged only.
func (s *Service) Publish(ctx context.Context, actor Actor, manualID string, input PublishInput) (PublishResult, error) {
	ctx, span := s.tracer.Start(ctx, "manuals.publish", trace.WithAttributes(attribute.String("manual.id", manualID)))
	defer span.End()

	if err := s.validate(input); err != nil {
		return PublishResult{}, err
	}

	var snapshot []byte
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		rows, err := s.loadRows(ctx, tx, manual.ID)
		if err != nil {
			return change{}, err
		}
		snapshot, err = json.Marshal(rows.canonical(manual).Snapshot())
		if err != nil {
			return change{}, fmt.Errorf("encode snapshot: %w", err)
		}
		if manual.Status == store.ManualStatusDraft {
			at := s.now()
			manual.PublishedAt = &at
		}
		manual.Status = store.ManualStatusPublished
		if err := tx.UpdateManual(ctx, manual); err != nil {
			return change{}, lookupError(err, "Manual")
		}
		notes := strings.TrimSpace(input.ChangeNotes)
		if notes == "" {
			notes = fmt.Sprintf("Published version %d", manual.CurrentVersion)
		}
		return change{Type: store.ChangeMetadataUpdated, Notes: notes, Snapshot: snapshot}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return PublishResult{}, err
	}
	span.SetAttributes(attribute.Int("manual.version", manual.CurrentVersion))

	distributed, err := s.distributor.Distribute(ctx, manual, actor.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "distribution failed")
		return PublishResult{}, fmt.Errorf("distribute manual %s: %w", manual.ID, err)
	}
	s.metrics.TenantCopies(distributed.Created)

	result := PublishResult{
		Manual:       manualPayload(manual),
		Version:      manual.CurrentVersion,
		Distribution: distributed,
	}
	if commit, ok := s.archiveVersion(ctx, actor, manual, snapshot, input.ChangeNotes); ok {
		result.Archive = &commit
	}
	s.syncSearch(ctx, manual.ID)

	s.logger.WithFields(logrus.Fields{
		"manual_id":      manual.ID,
		"version":        manual.CurrentVersion,
		"tenant_copies":  distributed.Created,
		"already_shared": distributed.Skipped,
	}).Info("manual published")
	return result, nil
}

func (s *Service) archiveVersion(ctx context.Context, actor Actor, manual store.Manual, snapshot []byte, notes string) (snapshots.Commit, bool) {
	if s.snapshots == nil {
		return snapshots.Commit{}, false
	}
	log := s.logger.WithFields(logrus.Fields{"manual_id": manual.ID, "version": manual.CurrentVersion})

	opts := render.DefaultOptions()
	opts.IncludeRevisionMarkers = true
	out, err := s.RenderHTML(ctx, actor, manual.ID, opts)
	if err != nil {
		log.WithError(err).Warn("render published version for archive")
		return snapshots.Commit{}, false
	}
	author := actor.UserName
	if author == "" {
		author = actor.UserID
	}
	publishedAt := s.now()
	if manual.PublishedAt != nil {
		publishedAt = *manual.PublishedAt
	}
	commit, err := s.snapshots.Store(manual.ID, snapshots.Entry{
		Version:     manual.CurrentVersion,
		Structure:   snapshot,
		HTML:        out.HTML,
		ChangeNotes: strings.TrimSpace(notes),
		Author:      author,
		PublishedAt: publishedAt,
	})
	if err != nil {
		log.WithError(err).Warn("archive published version")
		return snapshots.Commit{}, false
	}
	return commit, true
}

// VersionHistory lists the ledger newest first without snapshots.
func (s *Service) VersionHistory(ctx context.Context, manualID string) ([]VersionPayload, error) {
	if _, err := s.repo.GetManual(ctx, manualID); err != nil {
		return nil, lookupError(err, "Manual")
	}
	versions, err := s.repo.ListVersions(ctx, manualID)
	if err != nil {
		return nil, err
	}
	out := make([]VersionPayload, 0, len(versions))
	for _, version := range versions {
		out = append(out, versionPayload(version, false))
	}
	return out, nil
}

func (s *Service) VersionSnapshot(ctx context.Context, manualID string, version int) (VersionSnapshotPayload, error) {
	row, err := s.repo.GetVersion(ctx, manualID, version)
	if err != nil {
		return VersionSnapshotPayload{}, lookupError(err, "Version")
	}
	out := VersionSnapshotPayload{VersionPayload: versionPayload(row, true)}
	if s.snapshots != nil {
		if _, err := s.snapshots.Get(manualID, version); err == nil {
			out.ArchivedHTML = true
		}
	}
	return out, nil
}

// ArchivedHTML returns the HTML rendered when version was published.
func (s *Service) ArchivedHTML(ctx context.Context, manualID string, version int) (string, error) {
	if _, err := s.repo.GetManual(ctx, manualID); err != nil {
		return "", lookupError(err, "Manual")
	}
	if s.snapshots == nil {
		return "", notFound("Archived version")
	}
	entry, err := s.snapshots.Get(manualID, version)
	if errors.Is(err, snapshots.ErrVersionNotArchived) {
		return "", notFound("Archived version")
	}
	if err != nil {
		return "", err
	}
	return entry.HTML, nil
}

// Publications lists archived publishes newest first.
func (s *Service) Publications(ctx context.Context, manualID string, limit int) ([]snapshots.Commit, error) {
	if _, err := s.repo.GetManual(ctx, manualID); err != nil {
		return nil, lookupError(err, "Manual")
	}
	if s.snapshots == nil {
		return []snapshots.Commit{}, nil
	}
	return s.snapshots.History(manualID, limit)
}

func (s *Service) ListTenantCopies(ctx context.Context, manualID string) ([]TenantCopyPayload, error) {
	if _, err := s.repo.GetManual(ctx, manualID); err != nil {
		return nil, lookupError(err, "Manual")
	}
	copies, err := s.repo.ListTenantCopies(ctx, manualID)
	if err != nil {
		return nil, err
	}
	out := make([]TenantCopyPayload, 0, len(copies))
	for _, item := range copies {
		out = append(out, TenantCopyPayload{
			ID:                  item.ID,
			CompanyID:           item.CompanyID,
			SourceManualVersion: item.SourceManualVersion,
			Title:               item.Title,
			ReceivedByUserID:    item.ReceivedByUserID,
			Status:              item.Status,
			CreatedAt:           item.CreatedAt,
		})
	}
	return out, nil
}

// AvailableDocuments lists the content store, flagging entries already
// linked to the manual.
func (s *Service) AvailableDocuments(ctx context.Context, manualID string) ([]AvailableDocument, error) {
	if _, err := s.repo.GetManual(ctx, manualID); err != nil {
		return nil, lookupError(err, "Manual")
	}
	docs, err := s.repo.ListDocuments(ctx, manualID)
	if err != nil {
		return nil, err
	}
	linked := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		linked[doc.ContentID] = struct{}{}
	}
	entries, err := s.repo.ListContents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableDocument, 0, len(entries))
	for _, entry := range entries {
		_, inManual := linked[entry.ID]
		out = append(out, AvailableDocument{
			ID:              entry.ID,
			Title:           entry.Title,
			RevisionNo:      entry.RevisionNo,
			UpdatedAt:       entry.UpdatedAt,
			AlreadyInManual: inManual,
		})
	}
	return out, nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trimPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
