// Package toc turns a (possibly projected) manual structure into the
// navigation model used by the printed table of contents and the API.
package toc

import "nexus/manuals/internal/structure"

const (
	TypeChapter    = "chapter"
	TypeDocument   = "document"
	TypeAppendices = "appendices"

	AppendicesAnchor = "appendices"
	AppendicesTitle  = "Appendices"
)

type Entry struct {
	ID             string  `json:"id" yaml:"id"`
	Type           string  `json:"type" yaml:"type"`
	Title          string  `json:"title" yaml:"title"`
	Level          int     `json:"level" yaml:"level"`
	Anchor         string  `json:"anchor" yaml:"anchor"`
	RevisionNo     int     `json:"revisionNo,omitempty" yaml:"revisionNo,omitempty"`
	IncludeInPrint bool    `json:"includeInPrint" yaml:"includeInPrint"`
	Compact        bool    `json:"compact,omitempty" yaml:"compact,omitempty"`
	DocumentID     string  `json:"documentId,omitempty" yaml:"documentId,omitempty"`
	Children       []Entry `json:"children,omitempty" yaml:"children,omitempty"`
}

func ChapterAnchor(chapterID string) string { return "chapter-" + chapterID }

func DocumentAnchor(documentID string) string { return "doc-" + documentID }

// Build lists chapters first and root documents last under a single
// appendices entry. In compact mode a chapter holding exactly one document
// becomes one level-1 entry carrying that document's revision.
func Build(s structure.Structure, compact bool) []Entry {
	entries := make([]Entry, 0, len(s.Chapters)+1)
	for _, chapter := range s.Chapters {
		if compact && len(chapter.Documents) == 1 {
			only := chapter.Documents[0]
			entries = append(entries, Entry{
				ID:             chapter.ID,
				Type:           TypeChapter,
				Title:          chapter.Title,
				Level:          1,
				Anchor:         ChapterAnchor(chapter.ID),
				RevisionNo:     only.RevisionNo(),
				IncludeInPrint: only.IncludeInPrint,
				Compact:        true,
				DocumentID:     only.ID,
			})
			continue
		}

		entry := Entry{
			ID:             chapter.ID,
			Type:           TypeChapter,
			Title:          chapter.Title,
			Level:          1,
			Anchor:         ChapterAnchor(chapter.ID),
			IncludeInPrint: true,
			Children:       documentEntries(chapter.Documents),
		}
		entries = append(entries, entry)
	}

	if len(s.RootDocuments) > 0 {
		entries = append(entries, Entry{
			ID:             AppendicesAnchor,
			Type:           TypeAppendices,
			Title:          AppendicesTitle,
			Level:          1,
			Anchor:         AppendicesAnchor,
			IncludeInPrint: true,
			Children:       documentEntries(s.RootDocuments),
		})
	}
	return entries
}

func documentEntries(docs []structure.Document) []Entry {
	out := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, Entry{
			ID:             doc.ID,
			Type:           TypeDocument,
			Title:          doc.Title(),
			Level:          2,
			Anchor:         DocumentAnchor(doc.ID),
			RevisionNo:     doc.RevisionNo(),
			IncludeInPrint: doc.IncludeInPrint,
			DocumentID:     doc.ID,
		})
	}
	return out
}

// CompactChapters returns the ids of chapters collapsed by Build.
func CompactChapters(entries []Entry) map[string]bool {
	out := make(map[string]bool)
	for _, entry := range entries {
		if entry.Type == TypeChapter && entry.Compact {
			out[entry.ID] = true
		}
	}
	return out
}
