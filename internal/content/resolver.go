package content

import (
	"context"
	"fmt"

	"nexus/manuals/internal/store"
	"nexus/manuals/internal/structure"
)

// Source is the slice of the repository the resolver reads from.
type Source interface {
	GetContents(ctx context.Context, contentIDs []string) (map[string]store.ContentEntry, error)
}

// Resolver looks up content entries and sanitizes their bodies. A nil
// sanitizer passes bodies through untouched.
type Resolver struct {
	source    Source
	sanitizer *Sanitizer
}

func NewResolver(source Source, sanitizer *Sanitizer) *Resolver {
	return &Resolver{source: source, sanitizer: sanitizer}
}

// Resolve returns content keyed by id. Ids the store does not know resolve to
// an entry carrying only the id, so a dangling link still renders with its
// override title and revision 1.
func (r *Resolver) Resolve(ctx context.Context, contentIDs []string) (map[string]structure.Content, error) {
	entries, err := r.source.GetContents(ctx, contentIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve content: %w", err)
	}

	out := make(map[string]structure.Content, len(contentIDs))
	for _, id := range contentIDs {
		entry, ok := entries[id]
		if !ok {
			out[id] = structure.Content{ID: id}
			continue
		}
		out[id] = structure.Content{
			ID:         entry.ID,
			Title:      entry.Title,
			RevisionNo: entry.RevisionNo,
			HTML:       r.sanitizer.Sanitize(entry.HTML),
		}
	}
	return out, nil
}

// Fill sets Content on every document of s from the resolved map.
func Fill(s *structure.Structure, contents map[string]structure.Content) {
	for ci := range s.Chapters {
		for di := range s.Chapters[ci].Documents {
			doc := &s.Chapters[ci].Documents[di]
			doc.Content = contents[doc.ContentID]
		}
	}
	for di := range s.RootDocuments {
		doc := &s.RootDocuments[di]
		doc.Content = contents[doc.ContentID]
	}
}

// ContentIDs lists every content id referenced by s, chapters first.
func ContentIDs(s structure.Structure) []string {
	ids := make([]string, 0, s.DocumentCount())
	for _, chapter := range s.Chapters {
		for _, doc := range chapter.Documents {
			ids = append(ids, doc.ContentID)
		}
	}
	for _, doc := range s.RootDocuments {
		ids = append(ids, doc.ContentID)
	}
	return ids
}
