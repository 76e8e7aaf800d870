package scanning

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/crypto"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memStores, *recordingSink) {
	t.Helper()
	cryptoSvc, err := crypto.NewService(testKEK)
	require.NoError(t, err)
	stores := newMemStores()
	sink := &recordingSink{}
	return NewOrchestrator(stores, cryptoSvc, sink, nil, zaptest.NewLogger(t)), stores, sink
}

func testEntity(t *testing.T, piiType, value string, start int) *pii.DetectedEntity {
	t.Helper()
	e, err := pii.NewDetectedEntity(piiType, start, start+len(value), 0.9, value, "")
	require.NoError(t, err)
	return e
}

func TestOrchestrator_HandleDetection(t *testing.T) {
	o, stores, sink := newTestOrchestrator(t)
	ctx := context.Background()

	source := "reach me at a@b.com, login with hunter2"
	entities := []*pii.DetectedEntity{
		testEntity(t, "EMAIL", "a@b.com", 12),
		testEntity(t, "PASSWORD", "hunter2", 32),
	}

	item := Item{
		SpaceKey:  "ENG",
		PageID:    "p1",
		PageTitle: "Onboarding",
		Processed: 1,
		Planned:   4,
	}
	event, err := o.HandleDetection(ctx, "scan-1", item, source, entities)
	require.NoError(t, err)

	assert.Equal(t, scan.EventItem, event.Type)
	assert.Equal(t, int64(1), event.EventSeq)
	assert.Equal(t, "reach me at [EMAIL], login with [PASSWORD]", event.Payload.MaskedContent)
	assert.Equal(t, float64(25), event.Payload.Progress)

	// Payload entities are sealed; the caller's slice stays plaintext.
	require.Len(t, event.Payload.Entities, 2)
	for _, e := range event.Payload.Entities {
		assert.True(t, crypto.IsEncrypted(e.SensitiveValue))
	}
	assert.Equal(t, "a@b.com", entities[0].SensitiveValue)

	cp, err := stores.Checkpoints().FindBy(ctx, "scan-1", "ENG")
	require.NoError(t, err)
	assert.Equal(t, scan.StatusRunning, cp.Status)
	assert.Equal(t, "p1", cp.LastProcessedPageID)
	assert.Empty(t, cp.LastProcessedAttachmentName)
	assert.Equal(t, float64(25), cp.ProgressPercentage)

	counts, err := stores.Counters().Get(ctx, "scan-1", "ENG")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Total())

	published := sink.all()
	require.Len(t, published, 1)
	assert.Same(t, event, published[0])
}

func TestOrchestrator_HandleDetection_Attachment(t *testing.T) {
	o, stores, _ := newTestOrchestrator(t)
	ctx := context.Background()

	item := Item{
		SpaceKey:       "ENG",
		PageID:         "p1",
		AttachmentName: "contacts.csv",
		AttachmentType: "text/csv",
		Processed:      2,
		Planned:        4,
	}
	event, err := o.HandleDetection(ctx, "scan-1", item, "nothing detected here", nil)
	require.NoError(t, err)

	assert.Equal(t, scan.EventAttachmentItem, event.Type)
	assert.Equal(t, "contacts.csv", event.AttachmentName)
	assert.Empty(t, event.Payload.Entities)

	cp, err := stores.Checkpoints().FindBy(ctx, "scan-1", "ENG")
	require.NoError(t, err)
	assert.Equal(t, "contacts.csv", cp.LastProcessedAttachmentName)
	assert.Empty(t, cp.LastProcessedPageID)
}

func TestOrchestrator_HandleDetection_RefusesReentrancy(t *testing.T) {
	o, stores, _ := newTestOrchestrator(t)
	ctx := context.Background()

	stores.txGate = make(chan struct{})
	stores.txEntered = make(chan struct{}, 1)
	item := Item{SpaceKey: "ENG", PageID: "p1", Processed: 1, Planned: 1}

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.HandleDetection(ctx, "scan-1", item, "text under analysis", nil)
		firstDone <- err
	}()

	// Wait until the first call holds the item lock inside InTx, then the
	// second call for the same item must be refused.
	<-stores.txEntered
	_, err := o.HandleDetection(ctx, "scan-1", item, "text under analysis", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	close(stores.txGate)
	require.NoError(t, <-firstDone)
}

func TestOrchestrator_HandleDetection_TxFailureIsNotPublished(t *testing.T) {
	o, stores, sink := newTestOrchestrator(t)
	ctx := context.Background()

	stores.txFailures = 1
	item := Item{SpaceKey: "ENG", PageID: "p1", Processed: 1, Planned: 1}
	_, err := o.HandleDetection(ctx, "scan-1", item, "text under analysis", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.Empty(t, sink.all())

	// The same item lands fine once storage recovers.
	event, err := o.HandleDetection(ctx, "scan-1", item, "text under analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), event.EventSeq)
	assert.Len(t, sink.all(), 1)
}

func TestOrchestrator_Emit(t *testing.T) {
	o, stores, sink := newTestOrchestrator(t)
	ctx := context.Background()

	ev, err := scan.NewEvent("scan-1", scan.EventStart)
	require.NoError(t, err)
	ev.Payload = &scan.Payload{SpacesCount: 3}
	require.NoError(t, o.Emit(ctx, ev))

	assert.Equal(t, int64(1), ev.EventSeq)
	require.Len(t, sink.all(), 1)

	seq, err := stores.Events().MaxSeq(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

// overlapUoW flags any two transactions running at the same time.
type overlapUoW struct {
	scan.UnitOfWork
	open       atomic.Int32
	overlapped atomic.Bool
}

func (u *overlapUoW) InTx(ctx context.Context, fn func(scan.Stores) error) error {
	if u.open.Add(1) > 1 {
		u.overlapped.Store(true)
	}
	defer u.open.Add(-1)
	return u.UnitOfWork.InTx(ctx, fn)
}

func TestOrchestrator_SerializesAppendsPerScan(t *testing.T) {
	cryptoSvc, err := crypto.NewService(testKEK)
	require.NoError(t, err)
	uow := &overlapUoW{UnitOfWork: newMemStores()}
	sink := &recordingSink{}
	o := NewOrchestrator(uow, cryptoSvc, sink, nil, zaptest.NewLogger(t))

	// Items from different spaces of one scan, as parallel space workers
	// submit them. Their transactions must not interleave: a sequence taken
	// in a transaction that rolls back while a later one commits would leave
	// a permanent gap in the log.
	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := Item{
				SpaceKey:  fmt.Sprintf("S%02d", i),
				PageID:    "p1",
				Processed: 1,
				Planned:   1,
			}
			_, err := o.HandleDetection(context.Background(), "scan-1", item, "plain text", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.False(t, uow.overlapped.Load(),
		"item transactions of one scan must not run concurrently")

	// Publish order matches sequence order with no gaps.
	published := sink.all()
	require.Len(t, published, workers)
	for i, ev := range published {
		assert.Equal(t, int64(i+1), ev.EventSeq)
	}
}

func TestOrchestrator_ConcurrentItemsKeepCountsAndSequence(t *testing.T) {
	o, stores, sink := newTestOrchestrator(t)
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := Item{
				SpaceKey:  "ENG",
				PageID:    fmt.Sprintf("p%03d", i),
				Processed: i + 1,
				Planned:   workers,
			}
			entities := []*pii.DetectedEntity{
				testEntity(t, "PASSWORD", "hunter2", 0),
			}
			_, err := o.HandleDetection(ctx, "scan-1", item, "password is hunter2", entities)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counts, err := stores.Counters().Get(ctx, "scan-1", "ENG")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), counts.Total())

	// Sequence numbers are unique and contiguous across all writers.
	seen := make(map[int64]bool)
	for _, ev := range sink.all() {
		assert.False(t, seen[ev.EventSeq], "duplicate sequence %d", ev.EventSeq)
		seen[ev.EventSeq] = true
	}
	require.Len(t, seen, workers)
	seq, err := stores.Events().MaxSeq(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), seq)
}
