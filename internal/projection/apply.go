// Package projection rewrites a canonical manual structure through a saved
// view mapping. Apply is pure: it works on a clone and never touches its input.
package projection

import (
	"sort"

	"nexus/manuals/internal/structure"
)

// Apply runs the mapping stages in a fixed order: chapter merges, document
// moves, chapter ordering, hidden chapters, hidden documents.
func Apply(canonical structure.Structure, mapping Mapping) structure.Structure {
	working := canonical.Clone()
	if mapping.IsZero() {
		return working
	}

	working.Chapters = mergeChapters(working.Chapters, mapping.ChapterMerges)
	moveDocuments(&working, mapping.DocumentMoves)
	working.Chapters = orderChapters(working.Chapters, mapping.ChapterOrder)
	working.Chapters = hideChapters(working.Chapters, mapping.HiddenChapterIDs)
	hideDocuments(&working, mapping.HiddenDocumentIDs)
	return working
}

func mergeChapters(chapters []structure.Chapter, merges []ChapterMerge) []structure.Chapter {
	for _, merge := range merges {
		if indexOf(chapters, merge.TargetChapterID) < 0 {
			continue
		}
		for _, sourceID := range merge.SourceChapterIDs {
			if sourceID == merge.TargetChapterID {
				continue
			}
			sourceIdx := indexOf(chapters, sourceID)
			if sourceIdx < 0 {
				continue
			}
			targetIdx := indexOf(chapters, merge.TargetChapterID)
			target := &chapters[targetIdx]
			for _, doc := range chapters[sourceIdx].Documents {
				chapterID := target.ID
				doc.ChapterID = &chapterID
				target.Documents = append(target.Documents, doc)
			}
			chapters = append(chapters[:sourceIdx], chapters[sourceIdx+1:]...)
		}
	}
	return chapters
}

func moveDocuments(working *structure.Structure, moves []DocumentMove) {
	for _, move := range moves {
		targetIdx := -1
		if move.ToChapterID != nil {
			targetIdx = indexOf(working.Chapters, *move.ToChapterID)
			// A missing target leaves the document where it is.
			if targetIdx < 0 {
				continue
			}
		}

		doc, found := takeDocument(working, move.DocumentID)
		if !found {
			continue
		}

		if targetIdx >= 0 {
			target := &working.Chapters[targetIdx]
			chapterID := target.ID
			doc.ChapterID = &chapterID
			target.Documents = insertAt(target.Documents, doc, move.SortOrder)
			continue
		}
		doc.ChapterID = nil
		working.RootDocuments = insertAt(working.RootDocuments, doc, move.SortOrder)
	}
}

// takeDocument removes the first match, searching chapters before the root list.
func takeDocument(working *structure.Structure, documentID string) (structure.Document, bool) {
	for i := range working.Chapters {
		docs := working.Chapters[i].Documents
		for j, doc := range docs {
			if doc.ID == documentID {
				working.Chapters[i].Documents = append(docs[:j:j], docs[j+1:]...)
				return doc, true
			}
		}
	}
	for j, doc := range working.RootDocuments {
		if doc.ID == documentID {
			working.RootDocuments = append(working.RootDocuments[:j:j], working.RootDocuments[j+1:]...)
			return doc, true
		}
	}
	return structure.Document{}, false
}

func insertAt(docs []structure.Document, doc structure.Document, position *int) []structure.Document {
	if position == nil || *position >= len(docs) {
		return append(docs, doc)
	}
	idx := *position
	if idx < 0 {
		idx = 0
	}
	out := make([]structure.Document, 0, len(docs)+1)
	out = append(out, docs[:idx]...)
	out = append(out, doc)
	return append(out, docs[idx:]...)
}

func orderChapters(chapters []structure.Chapter, order []string) []structure.Chapter {
	if len(order) == 0 {
		return chapters
	}
	rank := make(map[string]int, len(order))
	for i, id := range order {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	unlisted := len(order)
	rankOf := func(id string) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return unlisted
	}
	sort.SliceStable(chapters, func(i, j int) bool {
		return rankOf(chapters[i].ID) < rankOf(chapters[j].ID)
	})
	return chapters
}

func hideChapters(chapters []structure.Chapter, hidden []string) []structure.Chapter {
	if len(hidden) == 0 {
		return chapters
	}
	set := toSet(hidden)
	out := chapters[:0]
	for _, chapter := range chapters {
		if _, skip := set[chapter.ID]; skip {
			continue
		}
		out = append(out, chapter)
	}
	return out
}

func hideDocuments(working *structure.Structure, hidden []string) {
	if len(hidden) == 0 {
		return
	}
	set := toSet(hidden)
	for i := range working.Chapters {
		working.Chapters[i].Documents = filterDocuments(working.Chapters[i].Documents, set)
	}
	working.RootDocuments = filterDocuments(working.RootDocuments, set)
}

func filterDocuments(docs []structure.Document, hidden map[string]struct{}) []structure.Document {
	out := docs[:0]
	for _, doc := range docs {
		if _, skip := hidden[doc.ID]; skip {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func indexOf(chapters []structure.Chapter, id string) int {
	for i, chapter := range chapters {
		if chapter.ID == id {
			return i
		}
	}
	return -1
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
