package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortPagesCanonical(t *testing.T) {
	pages := []Page{{ID: "p3"}, {ID: "p1"}, {ID: "p10"}, {ID: "p2"}}

	SortPagesCanonical(pages)

	// Lexicographic, not numeric: p10 sorts before p2.
	assert.Equal(t, []string{"p1", "p10", "p2", "p3"}, pageIDs(pages))
}

func TestPagesAfter(t *testing.T) {
	pages := []Page{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}, {ID: "p4"}}

	rest, skipped := PagesAfter(pages, "p2")
	assert.Equal(t, []string{"p3", "p4"}, pageIDs(rest))
	assert.Equal(t, 2, skipped)

	rest, skipped = PagesAfter(pages, "")
	assert.Len(t, rest, 4)
	assert.Zero(t, skipped)

	rest, skipped = PagesAfter(pages, "p4")
	assert.Empty(t, rest)
	assert.Equal(t, 4, skipped)

	// A marker between IDs resumes at the next greater ID.
	rest, _ = PagesAfter(pages, "p2a")
	assert.Equal(t, []string{"p3", "p4"}, pageIDs(rest))
}

func TestAttachmentsAfter(t *testing.T) {
	atts := []Attachment{{Name: "a.pdf"}, {Name: "b.doc"}, {Name: "c.txt"}}

	rest, skipped := AttachmentsAfter(atts, "a.pdf")
	assert.Len(t, rest, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "b.doc", rest[0].Name)
}

func pageIDs(pages []Page) []string {
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids
}
