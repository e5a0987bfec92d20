package toc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/manuals/internal/structure"
)

func manual() structure.Structure {
	return structure.Structure{
		ManualID: "man_1",
		Chapters: []structure.Chapter{
			{ID: "A", Title: "Introduction", Documents: []structure.Document{
				{ID: "d1", IncludeInPrint: true, Content: structure.Content{Title: "Purpose", RevisionNo: 3}},
			}},
			{ID: "B", Title: "Procedures", Documents: []structure.Document{
				{ID: "d2", IncludeInPrint: true, DisplayTitleOverride: "Lockout", Content: structure.Content{Title: "LOTO", RevisionNo: 2}},
				{ID: "d3", IncludeInPrint: false, Content: structure.Content{Title: "Ladders"}},
			}},
			{ID: "C", Title: "Empty"},
		},
		RootDocuments: []structure.Document{
			{ID: "r1", IncludeInPrint: true, Content: structure.Content{Title: "Glossary", RevisionNo: 5}},
		},
	}
}

func TestBuildFull(t *testing.T) {
	entries := Build(manual(), false)
	require.Len(t, entries, 4)

	assert.Equal(t, "chapter-A", entries[0].Anchor)
	assert.Equal(t, 1, entries[0].Level)
	assert.False(t, entries[0].Compact)
	require.Len(t, entries[0].Children, 1)
	assert.Equal(t, "doc-d1", entries[0].Children[0].Anchor)
	assert.Equal(t, 3, entries[0].Children[0].RevisionNo)
	assert.Equal(t, 2, entries[0].Children[0].Level)

	procedures := entries[1]
	require.Len(t, procedures.Children, 2)
	assert.Equal(t, "Lockout", procedures.Children[0].Title)
	assert.Equal(t, 1, procedures.Children[1].RevisionNo)
	assert.False(t, procedures.Children[1].IncludeInPrint)

	assert.Empty(t, entries[2].Children)

	appendices := entries[3]
	assert.Equal(t, TypeAppendices, appendices.Type)
	assert.Equal(t, "Appendices", appendices.Title)
	require.Len(t, appendices.Children, 1)
	assert.Equal(t, "doc-r1", appendices.Children[0].Anchor)
}

func TestBuildCompactOnlyCollapsesSingleDocumentChapters(t *testing.T) {
	entries := Build(manual(), true)
	require.Len(t, entries, 4)

	assert.True(t, entries[0].Compact)
	assert.Empty(t, entries[0].Children)
	assert.Equal(t, 3, entries[0].RevisionNo)
	assert.Equal(t, "d1", entries[0].DocumentID)

	assert.False(t, entries[1].Compact)
	assert.Len(t, entries[1].Children, 2)
	assert.False(t, entries[2].Compact, "chapters without documents never compact")

	assert.Equal(t, map[string]bool{"A": true}, CompactChapters(entries))
}

func TestBuildWithoutRootDocumentsHasNoAppendices(t *testing.T) {
	s := manual()
	s.RootDocuments = nil
	entries := Build(s, false)
	for _, entry := range entries {
		assert.NotEqual(t, TypeAppendices, entry.Type)
	}
}
