// Package scanning drives discovery runs: the engine walks spaces, pages
// and attachments in canonical order and the orchestrator lands each
// detection outcome in storage atomically before it reaches live listeners.
package scanning

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/crypto"
)

// EventSink receives events strictly after their storage transaction has
// committed.
type EventSink interface {
	Publish(event *scan.Event)
}

// Item identifies one unit of work within a space: a page, or one of its
// attachments. Processed and Planned feed the progress formula; Processed
// already includes the resume offset.
type Item struct {
	SpaceKey       string
	PageID         string
	PageTitle      string
	AttachmentName string
	AttachmentType string
	Processed      int
	Planned        int
}

func (i Item) isAttachment() bool { return i.AttachmentName != "" }

func (i Item) key() string {
	return i.SpaceKey + "\x00" + i.PageID + "\x00" + i.AttachmentName
}

// progress applies the fixed formula: 100 * processed / max(1, planned),
// rounded to one decimal.
func (i Item) progress() float64 {
	planned := i.Planned
	if planned < 1 {
		planned = 1
	}
	return math.Round(1000*float64(i.Processed)/float64(planned)) / 10
}

// Orchestrator turns one detection outcome into durable state: masked
// context, encrypted entities, the next event in sequence, the merged
// checkpoint and the counter increments, all in a single transaction. The
// live publish happens only after commit.
type Orchestrator struct {
	uow    scan.UnitOfWork
	crypto *crypto.Service
	sink   EventSink
	clock  scan.Clock
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	appends  map[string]*sync.Mutex
}

// NewOrchestrator wires the orchestrator over the transactional stores.
func NewOrchestrator(uow scan.UnitOfWork, cryptoSvc *crypto.Service, sink EventSink, clock scan.Clock, logger *zap.Logger) *Orchestrator {
	if clock == nil {
		clock = scan.SystemClock{}
	}
	return &Orchestrator{
		uow:      uow,
		crypto:   cryptoSvc,
		sink:     sink,
		clock:    clock,
		logger:   logger,
		inflight: make(map[string]struct{}),
		appends:  make(map[string]*sync.Mutex),
	}
}

// HandleDetection consumes the detection outcome for one item. Re-entrant
// calls for the same (scan, space, item) are refused; the producer design
// guarantees a single writer per space, and this guard catches violations.
func (o *Orchestrator) HandleDetection(ctx context.Context, scanID string, item Item, sourceContent string, entities []*pii.DetectedEntity) (*scan.Event, error) {
	lockKey := scanID + "\x00" + item.key()
	if !o.acquire(lockKey) {
		return nil, errors.NewConflictError(
			fmt.Sprintf("item %s/%s is already being processed", item.SpaceKey, item.PageID))
	}
	defer o.release(lockKey)

	masked := pii.MaskContent(sourceContent, entities)
	delta := pii.CountSeverities(entities)

	sealed, err := o.encryptEntities(entities)
	if err != nil {
		return nil, err
	}

	event, err := o.buildItemEvent(scanID, item, sealed, delta, masked)
	if err != nil {
		return nil, err
	}

	cp := &scan.Checkpoint{
		ScanID:             scanID,
		SpaceKey:           item.SpaceKey,
		Status:             scan.StatusRunning,
		ProgressPercentage: item.progress(),
		UpdatedAt:          o.clock.Now(),
	}
	if item.isAttachment() {
		cp.LastProcessedAttachmentName = item.AttachmentName
	} else {
		cp.LastProcessedPageID = item.PageID
	}

	lock := o.appendLock(scanID)
	lock.Lock()
	defer lock.Unlock()

	err = o.uow.InTx(ctx, func(stores scan.Stores) error {
		if err := stores.Events().Append(ctx, event); err != nil {
			return err
		}
		if err := stores.Checkpoints().Upsert(ctx, cp); err != nil {
			return err
		}
		return stores.Counters().Increment(ctx, scanID, item.SpaceKey,
			delta.High, delta.Medium, delta.Low)
	})
	if err != nil {
		return nil, err
	}

	o.sink.Publish(event)
	return event, nil
}

// Emit appends a lifecycle event (START, SPACE_START, SPACE_COMPLETE,
// COMPLETE, ERROR, PAUSED, RESUMED) and publishes it after the write lands.
func (o *Orchestrator) Emit(ctx context.Context, event *scan.Event) error {
	lock := o.appendLock(event.ScanID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.uow.Events().Append(ctx, event); err != nil {
		return err
	}
	o.sink.Publish(event)
	return nil
}

// appendLock serializes event appends of one scan, held across the whole
// item transaction and the post-commit publish. Sequence numbers are handed
// out before commit; without the lock, parallel spaces could allocate a
// sequence in a transaction that rolls back while a later one commits,
// leaving a permanent gap in the log and publishing out of sequence order.
func (o *Orchestrator) appendLock(scanID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.appends[scanID]
	if !ok {
		l = &sync.Mutex{}
		o.appends[scanID] = l
	}
	return l
}

func (o *Orchestrator) encryptEntities(entities []*pii.DetectedEntity) ([]*pii.DetectedEntity, error) {
	sealed := make([]*pii.DetectedEntity, len(entities))
	for i, e := range entities {
		c := e.Clone()
		meta := crypto.Metadata{
			PiiType:       c.PiiType,
			PositionBegin: c.StartPosition,
			PositionEnd:   c.EndPosition,
		}
		if c.SensitiveValue != "" && !crypto.IsEncrypted(c.SensitiveValue) {
			token, err := o.crypto.Encrypt(c.SensitiveValue, meta)
			if err != nil {
				return nil, err
			}
			c.SensitiveValue = token
		}
		if c.SensitiveContext != "" && !crypto.IsEncrypted(c.SensitiveContext) {
			token, err := o.crypto.Encrypt(c.SensitiveContext, meta)
			if err != nil {
				return nil, err
			}
			c.SensitiveContext = token
		}
		sealed[i] = c
	}
	return sealed, nil
}

func (o *Orchestrator) buildItemEvent(scanID string, item Item, entities []*pii.DetectedEntity, delta pii.SeverityDelta, masked string) (*scan.Event, error) {
	eventType := scan.EventItem
	if item.isAttachment() {
		eventType = scan.EventAttachmentItem
	}

	event, err := scan.NewEvent(scanID, eventType)
	if err != nil {
		return nil, err
	}
	event.SpaceKey = item.SpaceKey
	event.PageID = item.PageID
	event.PageTitle = item.PageTitle
	event.AttachmentName = item.AttachmentName
	event.AttachmentType = item.AttachmentType
	event.Timestamp = o.clock.Now()
	event.Payload = &scan.Payload{
		Entities:      entities,
		Severity:      &delta,
		MaskedContent: masked,
		Progress:      item.progress(),
	}
	return event, nil
}

func (o *Orchestrator) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}
