// Package structure holds the in-memory shape of a manual: ordered chapters,
// the documents inside them and the root-level documents rendered as
// appendices. Values are plain data; Clone produces a fully independent copy
// so projections never alias the canonical structure.
package structure

// Content is what the content store returns for a document link.
type Content struct {
	ID         string `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	RevisionNo int    `json:"revisionNo" yaml:"revisionNo"`
	HTML       string `json:"-" yaml:"-"`
}

type Document struct {
	ID                   string  `json:"id" yaml:"id"`
	ContentID            string  `json:"contentId" yaml:"contentId"`
	ChapterID            *string `json:"chapterId,omitempty" yaml:"chapterId,omitempty"`
	DisplayTitleOverride string  `json:"displayTitleOverride,omitempty" yaml:"displayTitleOverride,omitempty"`
	SortOrder            int     `json:"sortOrder" yaml:"sortOrder"`
	IncludeInPrint       bool    `json:"includeInPrint" yaml:"includeInPrint"`
	Content              Content `json:"content" yaml:"content"`
}

// Title is the override when one is set, otherwise the content title.
func (d Document) Title() string {
	if d.DisplayTitleOverride != "" {
		return d.DisplayTitleOverride
	}
	return d.Content.Title
}

// RevisionNo defaults to 1 for content that never reported a revision.
func (d Document) RevisionNo() int {
	if d.Content.RevisionNo <= 0 {
		return 1
	}
	return d.Content.RevisionNo
}

type Chapter struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	SortOrder   int        `json:"sortOrder" yaml:"sortOrder"`
	Documents   []Document `json:"documents" yaml:"documents"`
}

type Structure struct {
	ManualID      string     `json:"manualId" yaml:"manualId"`
	Code          string     `json:"code" yaml:"code"`
	Title         string     `json:"title" yaml:"title"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	Version       int        `json:"version" yaml:"version"`
	Chapters      []Chapter  `json:"chapters" yaml:"chapters"`
	RootDocuments []Document `json:"rootDocuments" yaml:"rootDocuments"`
}

func (s Structure) Clone() Structure {
	out := s
	out.Chapters = make([]Chapter, len(s.Chapters))
	for i, chapter := range s.Chapters {
		copied := chapter
		copied.Documents = cloneDocuments(chapter.Documents)
		out.Chapters[i] = copied
	}
	out.RootDocuments = cloneDocuments(s.RootDocuments)
	return out
}

func cloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, doc := range docs {
		copied := doc
		if doc.ChapterID != nil {
			chapterID := *doc.ChapterID
			copied.ChapterID = &chapterID
		}
		out[i] = copied
	}
	return out
}

// DocumentCount counts documents in chapters and at the root.
func (s Structure) DocumentCount() int {
	count := len(s.RootDocuments)
	for _, chapter := range s.Chapters {
		count += len(chapter.Documents)
	}
	return count
}

func (s Structure) ChapterIndex(chapterID string) int {
	for i, chapter := range s.Chapters {
		if chapter.ID == chapterID {
			return i
		}
	}
	return -1
}
