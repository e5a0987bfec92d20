package projection

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Mapping is the payload of a saved view. Every field is an intent evaluated
// against the live structure at render time; ids that no longer resolve are
// skipped.
type Mapping struct {
	CompactSingleDocChapters bool           `json:"compactSingleDocChapters,omitempty" yaml:"compactSingleDocChapters,omitempty"`
	DocumentMoves            []DocumentMove `json:"documentMoves,omitempty" yaml:"documentMoves,omitempty"`
	ChapterOrder             []string       `json:"chapterOrder,omitempty" yaml:"chapterOrder,omitempty"`
	HiddenChapterIDs         []string       `json:"hiddenChapterIds,omitempty" yaml:"hiddenChapterIds,omitempty"`
	HiddenDocumentIDs        []string       `json:"hiddenDocumentIds,omitempty" yaml:"hiddenDocumentIds,omitempty"`
	ChapterMerges            []ChapterMerge `json:"chapterMerges,omitempty" yaml:"chapterMerges,omitempty"`
}

// DocumentMove relocates a document. A nil ToChapterID targets the root
// (appendix) list. SortOrder is an insertion index, clamped to the list.
type DocumentMove struct {
	DocumentID  string  `json:"documentId" yaml:"documentId"`
	ToChapterID *string `json:"toChapterId" yaml:"toChapterId"`
	SortOrder   *int    `json:"sortOrder,omitempty" yaml:"sortOrder,omitempty"`
}

type ChapterMerge struct {
	TargetChapterID  string   `json:"targetChapterId" yaml:"targetChapterId"`
	SourceChapterIDs []string `json:"sourceChapterIds" yaml:"sourceChapterIds"`
}

func (m Mapping) IsZero() bool {
	return !m.CompactSingleDocChapters &&
		len(m.DocumentMoves) == 0 &&
		len(m.ChapterOrder) == 0 &&
		len(m.HiddenChapterIDs) == 0 &&
		len(m.HiddenDocumentIDs) == 0 &&
		len(m.ChapterMerges) == 0
}

// ParseJSON decodes a stored mapping. Empty input is the identity mapping.
func ParseJSON(raw []byte) (Mapping, error) {
	var mapping Mapping
	if len(raw) == 0 || string(raw) == "null" {
		return mapping, nil
	}
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return Mapping{}, fmt.Errorf("decode view mapping: %w", err)
	}
	return mapping, nil
}

// ParseYAML decodes a mapping authored as a YAML file.
func ParseYAML(raw []byte) (Mapping, error) {
	var mapping Mapping
	if err := yaml.Unmarshal(raw, &mapping); err != nil {
		return Mapping{}, fmt.Errorf("decode view mapping yaml: %w", err)
	}
	return mapping, nil
}
