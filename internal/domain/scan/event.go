package scan

import (
	"time"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
)

// EventType enumerates the kinds of scan events.
type EventType string

const (
	EventStart          EventType = "START"
	EventSpaceStart     EventType = "SPACE_START"
	EventItem           EventType = "ITEM"
	EventAttachmentItem EventType = "ATTACHMENT_ITEM"
	EventSpaceComplete  EventType = "SPACE_COMPLETE"
	EventComplete       EventType = "COMPLETE"
	EventError          EventType = "ERROR"
	EventPaused         EventType = "PAUSED"
	EventResumed        EventType = "RESUMED"
)

func validEventType(t EventType) bool {
	switch t {
	case EventStart, EventSpaceStart, EventItem, EventAttachmentItem,
		EventSpaceComplete, EventComplete, EventError,
		EventPaused, EventResumed:
		return true
	}
	return false
}

// Payload carries the kind-specific content of an event. Exactly which
// fields are set depends on the event type; the zero value is valid for
// lifecycle events without detail.
type Payload struct {
	Entities      []*pii.DetectedEntity `json:"entities,omitempty"`
	Severity      *pii.SeverityDelta    `json:"severity,omitempty"`
	MaskedContent string                `json:"masked_content,omitempty"`
	Progress      float64               `json:"progress,omitempty"`
	TotalPages    int                   `json:"total_pages,omitempty"`
	TotalAttachments int                `json:"total_attachments,omitempty"`
	SpacesCount   int                   `json:"spaces_count,omitempty"`
	Message       string                `json:"message,omitempty"`
	Failed        bool                  `json:"failed,omitempty"`
}

// Clone deep-copies the payload so persistence-side encryption never mutates
// the event handed to live subscribers.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}
	c := *p
	if p.Entities != nil {
		c.Entities = make([]*pii.DetectedEntity, len(p.Entities))
		for i, e := range p.Entities {
			c.Entities[i] = e.Clone()
		}
	}
	if p.Severity != nil {
		s := *p.Severity
		c.Severity = &s
	}
	return &c
}

// Event is one durable, ordered record of a scan step. EventSeq is strictly
// monotonic per scan starting at 1; events are append-only.
type Event struct {
	ScanID         string    `json:"scan_id"`
	EventSeq       int64     `json:"event_seq"`
	SpaceKey       string    `json:"space_key,omitempty"`
	Type           EventType `json:"event_type"`
	Timestamp      time.Time `json:"ts"`
	PageID         string    `json:"page_id,omitempty"`
	PageTitle      string    `json:"page_title,omitempty"`
	AttachmentName string    `json:"attachment_name,omitempty"`
	AttachmentType string    `json:"attachment_type,omitempty"`
	Payload        *Payload  `json:"payload,omitempty"`
}

// NewEvent creates a scan event with validation. The sequence number is
// assigned by the event store at append time.
func NewEvent(scanID string, eventType EventType) (*Event, error) {
	if scanID == "" {
		return nil, errors.NewValidationError("MISSING_SCAN_ID", "scan ID is required")
	}
	if !validEventType(eventType) {
		return nil, errors.NewValidationError("INVALID_EVENT_TYPE", "unknown event type")
	}
	return &Event{
		ScanID:    scanID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   &Payload{},
	}, nil
}

// Clone deep-copies the event.
func (e *Event) Clone() *Event {
	c := *e
	c.Payload = e.Payload.Clone()
	return &c
}

// IsItem reports whether the event records a processed page or attachment.
func (e *Event) IsItem() bool {
	return e.Type == EventItem || e.Type == EventAttachmentItem
}
