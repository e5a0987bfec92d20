package structure

// Snapshot is the frozen structure recorded on a Version row. Only identity and
// ordering are captured; content bodies stay in the content store.
type Snapshot struct {
	Chapters      []SnapshotChapter  `json:"chapters"`
	RootDocuments []SnapshotDocument `json:"rootDocuments"`
}

type SnapshotChapter struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	SortOrder int                `json:"sortOrder"`
	Documents []SnapshotDocument `json:"documents"`
}

type SnapshotDocument struct {
	ID               string `json:"id"`
	SystemDocumentID string `json:"systemDocumentId"`
	SortOrder        int    `json:"sortOrder"`
}

func EmptySnapshot() Snapshot {
	return Snapshot{Chapters: []SnapshotChapter{}, RootDocuments: []SnapshotDocument{}}
}

func (s Structure) Snapshot() Snapshot {
	out := EmptySnapshot()
	for _, chapter := range s.Chapters {
		item := SnapshotChapter{
			ID:        chapter.ID,
			Title:     chapter.Title,
			SortOrder: chapter.SortOrder,
			Documents: snapshotDocuments(chapter.Documents),
		}
		out.Chapters = append(out.Chapters, item)
	}
	out.RootDocuments = snapshotDocuments(s.RootDocuments)
	return out
}

func snapshotDocuments(docs []Document) []SnapshotDocument {
	out := make([]SnapshotDocument, 0, len(docs))
	for _, doc := range docs {
		out = append(out, SnapshotDocument{ID: doc.ID, SystemDocumentID: doc.ContentID, SortOrder: doc.SortOrder})
	}
	return out
}
