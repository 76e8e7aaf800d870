// Package content models the external content platform: spaces holding
// pages, pages holding binary attachments. The platform itself is reached
// through the Accessor interface; this package only fixes the types and the
// canonical processing order scans rely on for resume.
package content

import (
	"context"
	"sort"
	"time"
)

// Space is a wiki space.
type Space struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Page is a wiki page with its extracted body text.
type Page struct {
	ID        string    `json:"id"`
	SpaceKey  string    `json:"space_key"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment describes a binary attached to a page.
type Attachment struct {
	ID        string `json:"id"`
	PageID    string `json:"page_id"`
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Accessor reads from the content platform. Implementations may cache;
// callers must treat results as snapshots.
type Accessor interface {
	ListSpaces(ctx context.Context) ([]Space, error)
	GetSpace(ctx context.Context, key string) (*Space, error)
	ListPages(ctx context.Context, spaceKey string) ([]Page, error)
	GetPage(ctx context.Context, id string) (*Page, error)
	ListAttachments(ctx context.Context, pageID string) ([]Attachment, error)
	DownloadAttachment(ctx context.Context, id string) ([]byte, error)
}

// SortPagesCanonical orders pages by ID ascending lexicographically. This is
// the canonical order used for resume positions.
func SortPagesCanonical(pages []Page) {
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
}

// SortAttachmentsCanonical orders attachments by name ascending.
func SortAttachmentsCanonical(atts []Attachment) {
	sort.Slice(atts, func(i, j int) bool { return atts[i].Name < atts[j].Name })
}

// PagesAfter returns the pages strictly after lastID in canonical order,
// assuming pages are already canonically sorted. The second return value is
// the number of pages skipped (the already-processed prefix).
func PagesAfter(pages []Page, lastID string) ([]Page, int) {
	if lastID == "" {
		return pages, 0
	}
	idx := sort.Search(len(pages), func(i int) bool { return pages[i].ID > lastID })
	return pages[idx:], idx
}

// AttachmentsAfter returns the attachments strictly after lastName in
// canonical order, assuming canonical sorting, plus the skipped prefix size.
func AttachmentsAfter(atts []Attachment, lastName string) ([]Attachment, int) {
	if lastName == "" {
		return atts, 0
	}
	idx := sort.Search(len(atts), func(i int) bool { return atts[i].Name > lastName })
	return atts[idx:], idx
}
