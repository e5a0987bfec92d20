package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nexus/manuals/internal/projection"
	"nexus/manuals/internal/store"
)

type CreateViewInput struct {
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description" validate:"max=2000"`
	IsDefault   bool               `json:"isDefault"`
	Mapping     projection.Mapping `json:"mapping"`
}

type UpdateViewInput struct {
	Name        *string             `json:"name" validate:"omitempty,max=200"`
	Description *string             `json:"description" validate:"omitempty,max=2000"`
	IsDefault   *bool               `json:"isDefault"`
	Mapping     *projection.Mapping `json:"mapping"`
}

// ListViews returns the default view first, then the rest by name.
func (s *Service) ListViews(ctx context.Context, manualID string) ([]ViewPayload, error) {
	if _, err := s.repo.GetManual(ctx, manualID); err != nil {
		return nil, lookupError(err, "Manual")
	}
	views, err := s.repo.ListViews(ctx, manualID)
	if err != nil {
		return nil, err
	}
	out := make([]ViewPayload, 0, len(views))
	for _, view := range views {
		out = append(out, viewPayload(view))
	}
	return out, nil
}

func (s *Service) GetView(ctx context.Context, manualID, viewID string) (ViewPayload, error) {
	view, err := s.repo.GetView(ctx, manualID, viewID)
	if err != nil {
		return ViewPayload{}, lookupError(err, "View")
	}
	return viewPayload(view), nil
}

// CreateView saves a mapping. Making it the default clears the flag on every
// other view of the manual in the same transaction.
func (s *Service) CreateView(ctx context.Context, actor Actor, manualID string, input CreateViewInput) (ViewPayload, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(input); err != nil {
		return ViewPayload{}, err
	}
	if err := validateMapping(input.Mapping); err != nil {
		return ViewPayload{}, err
	}
	mapping, err := json.Marshal(input.Mapping)
	if err != nil {
		return ViewPayload{}, fmt.Errorf("encode view mapping: %w", err)
	}

	view := store.ManualView{
		ID:              s.newID("mview"),
		ManualID:        manualID,
		Name:            input.Name,
		Description:     input.Description,
		IsDefault:       input.IsDefault,
		Mapping:         mapping,
		CreatedByUserID: actor.UserID,
	}
	var created store.ManualView
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		if err := s.requireWritableManual(ctx, tx, manualID); err != nil {
			return err
		}
		if view.IsDefault {
			if err := tx.ClearDefaultViews(ctx, manualID, view.ID); err != nil {
				return err
			}
		}
		if err := tx.InsertView(ctx, view); err != nil {
			return err
		}
		var err error
		created, err = tx.GetView(ctx, manualID, view.ID)
		return err
	})
	if err != nil {
		return ViewPayload{}, err
	}
	s.invalidateTOC(ctx, manualID)
	return viewPayload(created), nil
}

func (s *Service) UpdateView(ctx context.Context, actor Actor, manualID, viewID string, input UpdateViewInput) (ViewPayload, error) {
	if err := s.validate(input); err != nil {
		return ViewPayload{}, err
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return ViewPayload{}, validationError("Invalid input", []fieldError{{Field: "name", Rule: "required"}})
	}
	var mapping []byte
	if input.Mapping != nil {
		if err := validateMapping(*input.Mapping); err != nil {
			return ViewPayload{}, err
		}
		encoded, err := json.Marshal(*input.Mapping)
		if err != nil {
			return ViewPayload{}, fmt.Errorf("encode view mapping: %w", err)
		}
		mapping = encoded
	}

	var updated store.ManualView
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		if err := s.requireWritableManual(ctx, tx, manualID); err != nil {
			return err
		}
		view, err := tx.GetView(ctx, manualID, viewID)
		if err != nil {
			return lookupError(err, "View")
		}
		if input.Name != nil {
			view.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			view.Description = *input.Description
		}
		if mapping != nil {
			view.Mapping = mapping
		}
		if input.IsDefault != nil {
			if *input.IsDefault {
				if err := tx.ClearDefaultViews(ctx, manualID, view.ID); err != nil {
					return err
				}
			}
			view.IsDefault = *input.IsDefault
		}
		if err := tx.UpdateView(ctx, view); err != nil {
			return lookupError(err, "View")
		}
		updated, err = tx.GetView(ctx, manualID, view.ID)
		return err
	})
	if err != nil {
		return ViewPayload{}, err
	}
	s.invalidateTOC(ctx, manualID)
	s.logger.WithField("manual_id", manualID).WithField("view_id", viewID).WithField("user_id", actor.UserID).Debug("view updated")
	return viewPayload(updated), nil
}

func (s *Service) DeleteView(ctx context.Context, actor Actor, manualID, viewID string) error {
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		if err := s.requireWritableManual(ctx, tx, manualID); err != nil {
			return err
		}
		return lookupError(tx.DeleteView(ctx, manualID, viewID), "View")
	})
	if err != nil {
		return err
	}
	s.invalidateTOC(ctx, manualID)
	s.logger.WithField("manual_id", manualID).WithField("view_id", viewID).WithField("user_id", actor.UserID).Info("view deleted")
	return nil
}

func (s *Service) requireWritableManual(ctx context.Context, repo store.Repository, manualID string) error {
	manual, err := repo.LockManual(ctx, manualID)
	if err != nil {
		return lookupError(err, "Manual")
	}
	if manual.Status == store.ManualStatusArchived {
		return manualArchived(manual.ID)
	}
	return nil
}

// validateMapping rejects malformed rules. Ids that do not resolve are valid:
// they are skipped when the view is applied.
func validateMapping(m projection.Mapping) error {
	var details []fieldError
	for i, move := range m.DocumentMoves {
		if strings.TrimSpace(move.DocumentID) == "" {
			details = append(details, fieldError{Field: fmt.Sprintf("mapping.documentMoves[%d].documentId", i), Rule: "required"})
		}
		if move.SortOrder != nil && *move.SortOrder < 0 {
			details = append(details, fieldError{Field: fmt.Sprintf("mapping.documentMoves[%d].sortOrder", i), Rule: "min", Param: "0"})
		}
	}
	for i, merge := range m.ChapterMerges {
		if strings.TrimSpace(merge.TargetChapterID) == "" {
			details = append(details, fieldError{Field: fmt.Sprintf("mapping.chapterMerges[%d].targetChapterId", i), Rule: "required"})
		}
	}
	if len(details) > 0 {
		return validationError("Invalid view mapping", details)
	}
	return nil
}
