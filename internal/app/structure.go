package app

import (
	"context"

	"nexus/manuals/internal/content"
	"nexus/manuals/internal/store"
	"nexus/manuals/internal/structure"
)

// manualRows are the active chapter and document rows of one manual in
// render order.
type manualRows struct {
	chapters  []store.Chapter
	documents []store.ManualDocument
}

func (s *Service) loadRows(ctx context.Context, repo store.Repository, manualID string) (manualRows, error) {
	chapters, err := repo.ListChapters(ctx, manualID)
	if err != nil {
		return manualRows{}, err
	}
	documents, err := repo.ListDocuments(ctx, manualID)
	if err != nil {
		return manualRows{}, err
	}
	return manualRows{chapters: chapters, documents: documents}, nil
}

func (s *Service) resolver(repo store.Repository) *content.Resolver {
	return content.NewResolver(repo, s.sanitizer)
}

// groups splits documents by parent. Documents pointing at a chapter that is
// no longer active land at the root.
func (r manualRows) groups() (map[string][]store.ManualDocument, []store.ManualDocument) {
	active := make(map[string]struct{}, len(r.chapters))
	for _, chapter := range r.chapters {
		active[chapter.ID] = struct{}{}
	}
	byChapter := make(map[string][]store.ManualDocument, len(r.chapters))
	root := []store.ManualDocument{}
	for _, doc := range r.documents {
		if doc.ChapterID != nil {
			if _, ok := active[*doc.ChapterID]; ok {
				byChapter[*doc.ChapterID] = append(byChapter[*doc.ChapterID], doc)
				continue
			}
		}
		root = append(root, doc)
	}
	return byChapter, root
}

// canonical builds the structure without content.
func (r manualRows) canonical(manual store.Manual) structure.Structure {
	byChapter, root := r.groups()
	out := structure.Structure{
		ManualID:      manual.ID,
		Code:          manual.Code,
		Title:         manual.Title,
		Description:   manual.Description,
		Version:       manual.CurrentVersion,
		Chapters:      make([]structure.Chapter, 0, len(r.chapters)),
		RootDocuments: structureDocuments(root),
	}
	for _, chapter := range r.chapters {
		out.Chapters = append(out.Chapters, structure.Chapter{
			ID:          chapter.ID,
			Title:       chapter.Title,
			Description: chapter.Description,
			SortOrder:   chapter.SortOrder,
			Documents:   structureDocuments(byChapter[chapter.ID]),
		})
	}
	return out
}

func structureDocuments(docs []store.ManualDocument) []structure.Document {
	out := make([]structure.Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, structure.Document{
			ID:                   doc.ID,
			ContentID:            doc.ContentID,
			ChapterID:            doc.ChapterID,
			DisplayTitleOverride: doc.DisplayTitleOverride,
			SortOrder:            doc.SortOrder,
			IncludeInPrint:       doc.IncludeInPrint,
		})
	}
	return out
}

func (r manualRows) detail(manual store.Manual, contents map[string]structure.Content) ManualDetail {
	byChapter, root := r.groups()
	out := ManualDetail{
		ManualPayload: manualPayload(manual),
		Chapters:      make([]ChapterPayload, 0, len(r.chapters)),
		RootDocuments: documentPayloads(root, contents),
	}
	for _, chapter := range r.chapters {
		out.Chapters = append(out.Chapters, ChapterPayload{
			ID:          chapter.ID,
			Title:       chapter.Title,
			Description: chapter.Description,
			SortOrder:   chapter.SortOrder,
			Documents:   documentPayloads(byChapter[chapter.ID], contents),
		})
	}
	return out
}

func documentPayloads(docs []store.ManualDocument, contents map[string]structure.Content) []DocumentPayload {
	out := make([]DocumentPayload, 0, len(docs))
	for _, doc := range docs {
		resolved := structure.Document{DisplayTitleOverride: doc.DisplayTitleOverride, Content: contents[doc.ContentID]}
		out = append(out, DocumentPayload{
			ID:                     doc.ID,
			ChapterID:              doc.ChapterID,
			SystemDocumentID:       doc.ContentID,
			Title:                  resolved.Title(),
			DisplayTitleOverride:   doc.DisplayTitleOverride,
			RevisionNo:             resolved.RevisionNo(),
			SortOrder:              doc.SortOrder,
			IncludeInPrint:         doc.IncludeInPrint,
			AddedInManualVersion:   doc.AddedInManualVersion,
			RemovedInManualVersion: doc.RemovedInManualVersion,
		})
	}
	return out
}

// liveStructure is the canonical structure of a manual with content resolved.
func (s *Service) liveStructure(ctx context.Context, manual store.Manual) (structure.Structure, error) {
	rows, err := s.loadRows(ctx, s.repo, manual.ID)
	if err != nil {
		return structure.Structure{}, err
	}
	out := rows.canonical(manual)
	contents, err := s.resolver(s.repo).Resolve(ctx, content.ContentIDs(out))
	if err != nil {
		return structure.Structure{}, err
	}
	content.Fill(&out, contents)
	return out, nil
}
