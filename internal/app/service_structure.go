package app

import (
	"context"
	"fmt"
	"strings"

	"nexus/manuals/internal/store"
)

type AddChapterInput struct {
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"max=4000"`
	SortOrder   *int   `json:"sortOrder" validate:"omitempty,min=0"`
}

type UpdateChapterInput struct {
	Title       *string `json:"title" validate:"omitempty,max=300"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	SortOrder   *int    `json:"sortOrder" validate:"omitempty,min=0"`
}

type ReorderInput struct {
	OrderedIDs []string `json:"orderedIds" validate:"required,dive,required"`
}

type AddDocumentInput struct {
	ChapterID            *string `json:"chapterId"`
	SystemDocumentID     string  `json:"systemDocumentId" validate:"required"`
	DisplayTitleOverride string  `json:"displayTitleOverride" validate:"max=300"`
	SortOrder            *int    `json:"sortOrder" validate:"omitempty,min=0"`
	IncludeInPrint       *bool   `json:"includeInPrint"`
}

// UpdateDocumentInput changes only the fields that are set. ChapterID set to
// an empty string moves the document to the root.
type UpdateDocumentInput struct {
	ChapterID            *string `json:"chapterId"`
	DisplayTitleOverride *string `json:"displayTitleOverride" validate:"omitempty,max=300"`
	SortOrder            *int    `json:"sortOrder" validate:"omitempty,min=0"`
	IncludeInPrint       *bool   `json:"includeInPrint"`
}

// ReorderDocumentsInput orders the documents of one chapter, or of the root
// when ChapterID is empty.
type ReorderDocumentsInput struct {
	ChapterID  *string  `json:"chapterId"`
	OrderedIDs []string `json:"orderedIds" validate:"required,dive,required"`
}

func (s *Service) AddChapter(ctx context.Context, actor Actor, manualID string, input AddChapterInput) (MutationResult, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validate(input); err != nil {
		return MutationResult{}, err
	}

	chapterID := s.newID("mch")
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		sortOrder, err := nextSortOrder(input.SortOrder, func() (int, bool, error) {
			return tx.MaxChapterSortOrder(ctx, manual.ID)
		})
		if err != nil {
			return change{}, err
		}
		if err := tx.InsertChapter(ctx, store.Chapter{
			ID:          chapterID,
			ManualID:    manual.ID,
			Title:       input.Title,
			Description: input.Description,
			SortOrder:   sortOrder,
			Active:      true,
		}); err != nil {
			return change{}, err
		}
		return change{Type: store.ChangeChapterAdded, Notes: fmt.Sprintf("Added chapter %q", input.Title)}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Manual: manualPayload(manual), ChapterID: chapterID}, nil
}

func (s *Service) UpdateChapter(ctx context.Context, actor Actor, manualID, chapterID string, input UpdateChapterInput) (MutationResult, error) {
	if err := s.validate(input); err != nil {
		return MutationResult{}, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return MutationResult{}, validationError("Invalid input", []fieldError{{Field: "title", Rule: "required"}})
	}

	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		chapter, err := tx.GetChapter(ctx, manual.ID, chapterID)
		if err != nil {
			return change{}, lookupError(err, "Chapter")
		}
		if input.Title != nil {
			chapter.Title = strings.TrimSpace(*input.Title)
		}
		if input.Description != nil {
			chapter.Description = *input.Description
		}
		if input.SortOrder != nil {
			chapter.SortOrder = *input.SortOrder
		}
		if err := tx.UpdateChapter(ctx, chapter); err != nil {
			return change{}, lookupError(err, "Chapter")
		}
		return change{Type: store.ChangeMetadataUpdated, Notes: fmt.Sprintf("Updated chapter %q", chapter.Title)}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.syncSearch(ctx, manual.ID)
	return MutationResult{Manual: manualPayload(manual), ChapterID: chapterID}, nil
}

// RemoveChapter deactivates the chapter and moves its active documents to the
// root. Documents are never deleted with their chapter.
func (s *Service) RemoveChapter(ctx context.Context, actor Actor, manualID, chapterID string) (MutationResult, error) {
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		chapter, err := tx.GetChapter(ctx, manual.ID, chapterID)
		if err != nil {
			return change{}, lookupError(err, "Chapter")
		}
		moved, err := tx.ReparentChapterDocuments(ctx, manual.ID, chapter.ID)
		if err != nil {
			return change{}, err
		}
		chapter.Active = false
		if err := tx.UpdateChapter(ctx, chapter); err != nil {
			return change{}, lookupError(err, "Chapter")
		}
		notes := fmt.Sprintf("Removed chapter %q", chapter.Title)
		if moved > 0 {
			notes = fmt.Sprintf("%s; %d document(s) moved to appendices", notes, moved)
		}
		return change{Type: store.ChangeChapterRemoved, Notes: notes}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.syncSearch(ctx, manual.ID)
	return MutationResult{Manual: manualPayload(manual), ChapterID: chapterID}, nil
}

// ReorderChapters sets each listed chapter's sort order to its index. Ids
// that are not active chapters of the manual are ignored.
func (s *Service) ReorderChapters(ctx context.Context, actor Actor, manualID string, input ReorderInput) (MutationResult, error) {
	if err := s.validate(input); err != nil {
		return MutationResult{}, err
	}
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		for index, id := range input.OrderedIDs {
			if _, err := tx.SetChapterSortOrder(ctx, manual.ID, id, index); err != nil {
				return change{}, err
			}
		}
		return change{Type: store.ChangeChapterReordered, Notes: "Chapters reordered"}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Manual: manualPayload(manual)}, nil
}

func (s *Service) AddDocument(ctx context.Context, actor Actor, manualID string, input AddDocumentInput) (MutationResult, error) {
	input.SystemDocumentID = strings.TrimSpace(input.SystemDocumentID)
	input.ChapterID = trimOptional(input.ChapterID)
	if err := s.validate(input); err != nil {
		return MutationResult{}, err
	}

	documentID := s.newID("mdoc")
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		if input.ChapterID != nil {
			if _, err := tx.GetChapter(ctx, manual.ID, *input.ChapterID); err != nil {
				return change{}, lookupError(err, "Chapter")
			}
		}
		contents, err := tx.GetContents(ctx, []string{input.SystemDocumentID})
		if err != nil {
			return change{}, err
		}
		entry, ok := contents[input.SystemDocumentID]
		if !ok {
			return change{}, notFound("System document")
		}
		linked, err := tx.ActiveContentLinked(ctx, manual.ID, input.SystemDocumentID)
		if err != nil {
			return change{}, err
		}
		if linked {
			return change{}, conflict("Document is already in this manual", map[string]any{"systemDocumentId": input.SystemDocumentID})
		}
		sortOrder, err := nextSortOrder(input.SortOrder, func() (int, bool, error) {
			return tx.MaxDocumentSortOrder(ctx, manual.ID, input.ChapterID)
		})
		if err != nil {
			return change{}, err
		}
		includeInPrint := true
		if input.IncludeInPrint != nil {
			includeInPrint = *input.IncludeInPrint
		}
		if err := tx.InsertDocument(ctx, store.ManualDocument{
			ID:                   documentID,
			ManualID:             manual.ID,
			ChapterID:            input.ChapterID,
			ContentID:            input.SystemDocumentID,
			DisplayTitleOverride: strings.TrimSpace(input.DisplayTitleOverride),
			SortOrder:            sortOrder,
			IncludeInPrint:       includeInPrint,
			Active:               true,
			AddedInManualVersion: manual.CurrentVersion,
		}); err != nil {
			return change{}, err
		}
		return change{Type: store.ChangeDocumentAdded, Notes: fmt.Sprintf("Added document %q", firstNonEmpty(input.DisplayTitleOverride, entry.Title))}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.syncSearch(ctx, manual.ID)
	return MutationResult{Manual: manualPayload(manual), DocumentID: documentID}, nil
}

// UpdateDocument records DOCUMENT_REORDERED when the document changes parent
// or position and METADATA_UPDATED otherwise.
func (s *Service) UpdateDocument(ctx context.Context, actor Actor, manualID, documentID string, input UpdateDocumentInput) (MutationResult, error) {
	if err := s.validate(input); err != nil {
		return MutationResult{}, err
	}
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		doc, err := tx.GetDocument(ctx, manual.ID, documentID)
		if err != nil {
			return change{}, lookupError(err, "Document")
		}

		moved := false
		if input.ChapterID != nil {
			target := trimOptional(input.ChapterID)
			if target != nil {
				if _, err := tx.GetChapter(ctx, manual.ID, *target); err != nil {
					return change{}, lookupError(err, "Chapter")
				}
			}
			if !sameParent(doc.ChapterID, target) {
				moved = true
				doc.ChapterID = target
				if input.SortOrder == nil {
					doc.SortOrder, err = nextSortOrder(nil, func() (int, bool, error) {
						return tx.MaxDocumentSortOrder(ctx, manual.ID, target)
					})
					if err != nil {
						return change{}, err
					}
				}
			}
		}
		if input.SortOrder != nil && *input.SortOrder != doc.SortOrder {
			moved = true
			doc.SortOrder = *input.SortOrder
		}
		if input.DisplayTitleOverride != nil {
			doc.DisplayTitleOverride = strings.TrimSpace(*input.DisplayTitleOverride)
		}
		if input.IncludeInPrint != nil {
			doc.IncludeInPrint = *input.IncludeInPrint
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return change{}, lookupError(err, "Document")
		}
		if moved {
			return change{Type: store.ChangeDocumentReordered, Notes: "Document moved"}, nil
		}
		return change{Type: store.ChangeMetadataUpdated, Notes: "Document details updated"}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.syncSearch(ctx, manual.ID)
	return MutationResult{Manual: manualPayload(manual), DocumentID: documentID}, nil
}

// SetDocumentPrintInclusion toggles whether the document body is printed or
// replaced by the blank-section placeholder.
func (s *Service) SetDocumentPrintInclusion(ctx context.Context, actor Actor, manualID, documentID string, include bool) (MutationResult, error) {
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		doc, err := tx.GetDocument(ctx, manual.ID, documentID)
		if err != nil {
			return change{}, lookupError(err, "Document")
		}
		doc.IncludeInPrint = include
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return change{}, lookupError(err, "Document")
		}
		notes := "Document excluded from print"
		if include {
			notes = "Document included in print"
		}
		return change{Type: store.ChangeMetadataUpdated, Notes: notes}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Manual: manualPayload(manual), DocumentID: documentID}, nil
}

// RemoveDocument soft-deletes the link and stamps the version it left in.
func (s *Service) RemoveDocument(ctx context.Context, actor Actor, manualID, documentID string) (MutationResult, error) {
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		doc, err := tx.GetDocument(ctx, manual.ID, documentID)
		if err != nil {
			return change{}, lookupError(err, "Document")
		}
		removedIn := manual.CurrentVersion
		doc.Active = false
		doc.RemovedInManualVersion = &removedIn
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return change{}, lookupError(err, "Document")
		}
		return change{Type: store.ChangeDocumentRemoved, Notes: "Document removed"}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.syncSearch(ctx, manual.ID, documentID)
	return MutationResult{Manual: manualPayload(manual), DocumentID: documentID}, nil
}

func (s *Service) ReorderDocuments(ctx context.Context, actor Actor, manualID string, input ReorderDocumentsInput) (MutationResult, error) {
	input.ChapterID = trimOptional(input.ChapterID)
	if err := s.validate(input); err != nil {
		return MutationResult{}, err
	}
	manual, err := s.mutate(ctx, manualID, actor, func(tx store.Repository, manual store.Manual) (change, error) {
		if input.ChapterID != nil {
			if _, err := tx.GetChapter(ctx, manual.ID, *input.ChapterID); err != nil {
				return change{}, lookupError(err, "Chapter")
			}
		}
		for index, id := range input.OrderedIDs {
			if _, err := tx.SetDocumentSortOrder(ctx, manual.ID, input.ChapterID, id, index); err != nil {
				return change{}, err
			}
		}
		return change{Type: store.ChangeDocumentReordered, Notes: "Documents reordered"}, nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Manual: manualPayload(manual)}, nil
}

// nextSortOrder returns the requested order, or one past the current
// maximum (0 for an empty list).
func nextSortOrder(requested *int, currentMax func() (int, bool, error)) (int, error) {
	if requested != nil {
		return *requested, nil
	}
	maxOrder, ok, err := currentMax()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return maxOrder + 1, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
