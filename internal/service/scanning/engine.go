package scanning

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/events"
	"github.com/wikiguard/pii-scan-backend/internal/service/extraction"
)

// Analyzer is the detection side of the engine.
type Analyzer interface {
	Analyze(ctx context.Context, text string) ([]*pii.DetectedEntity, error)
}

// Stream is one live subscription to a scan's events. Close releases the
// subscription; the underlying scan keeps running.
type Stream struct {
	ScanID string
	Events <-chan *scan.Event

	id  uuid.UUID
	bus *events.LiveBus
}

// Close unsubscribes from the live bus.
func (s *Stream) Close() {
	s.bus.Unsubscribe(s.ScanID, s.id)
}

// NewStream subscribes to a scan's events on the given bus. Engine.Attach is
// the usual entry point; this exists for callers that hold a bus directly.
func NewStream(bus *events.LiveBus, scanID string, withReplay bool) *Stream {
	id, ch := bus.Subscribe(scanID, withReplay)
	return &Stream{ScanID: scanID, Events: ch, id: id, bus: bus}
}

// activeRun is the in-memory control block of a running scan.
type activeRun struct {
	cancel context.CancelFunc
	paused atomic.Bool
	done   chan struct{}
}

// Engine owns the scan lifecycle: StartAll, ResumeAll, Pause, Cancel,
// PurgeAll. One producer goroutine per space walks items in canonical order;
// spaces run concurrently up to the configured parallelism.
type Engine struct {
	accessor    content.Accessor
	analyzer    Analyzer
	extractor   *extraction.Processor
	orch        *Orchestrator
	uow         scan.UnitOfWork
	bus         *events.LiveBus
	parallelism int
	clock       scan.Clock
	logger      *zap.Logger

	mu       sync.Mutex
	active   map[string]*activeRun
	starting bool
}

// NewEngine wires the engine.
func NewEngine(
	accessor content.Accessor,
	analyzer Analyzer,
	extractor *extraction.Processor,
	orch *Orchestrator,
	uow scan.UnitOfWork,
	bus *events.LiveBus,
	parallelism int,
	clock scan.Clock,
	logger *zap.Logger,
) *Engine {
	if parallelism < 1 {
		parallelism = 1
	}
	if clock == nil {
		clock = scan.SystemClock{}
	}
	return &Engine{
		accessor:    accessor,
		analyzer:    analyzer,
		extractor:   extractor,
		orch:        orch,
		uow:         uow,
		bus:         bus,
		parallelism: parallelism,
		clock:       clock,
		logger:      logger,
		active:      make(map[string]*activeRun),
	}
}

// StartAll discovers all spaces, allocates a fresh scan and starts
// processing in the background. The returned stream is subscribed before the
// START event is emitted, so callers see the scan from its first event.
// A prior scan that did not complete must be purged or resumed first.
func (e *Engine) StartAll(ctx context.Context) (*Stream, error) {
	if err := e.reserve(); err != nil {
		return nil, err
	}
	defer e.unreserve()

	if err := e.ensureNoActiveCheckpoints(ctx); err != nil {
		return nil, err
	}

	spaces, err := e.accessor.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	sortSpaces(spaces)

	sc, err := scan.NewScan(len(spaces))
	if err != nil {
		return nil, err
	}

	stream := e.attach(sc.ID, false)

	start, err := scan.NewEvent(sc.ID, scan.EventStart)
	if err != nil {
		stream.Close()
		return nil, err
	}
	start.Timestamp = e.clock.Now()
	start.Payload = &scan.Payload{SpacesCount: len(spaces)}
	if err := e.orch.Emit(ctx, start); err != nil {
		stream.Close()
		return nil, err
	}

	e.launch(sc.ID, spaces, false)
	return stream, nil
}

// ResumeAll picks up a paused scan: COMPLETED spaces are skipped, partially
// processed spaces continue strictly after their checkpoint position. With
// replay, the returned stream is primed with the buffered history first.
// Resuming an already running scan just attaches to its stream.
func (e *Engine) ResumeAll(ctx context.Context, scanID string, withReplay bool) (*Stream, error) {
	e.mu.Lock()
	run, running := e.active[scanID]
	e.mu.Unlock()
	if running {
		if !run.paused.Load() {
			return e.Attach(scanID, withReplay), nil
		}
		// The run is pausing; wait for its teardown so the resume below
		// starts from the committed checkpoints.
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, errors.NewCancelledError("resume")
		}
	}

	if err := e.reserve(); err != nil {
		// The slot may have just been claimed by this same scan; attach then.
		e.mu.Lock()
		_, running = e.active[scanID]
		e.mu.Unlock()
		if running {
			return e.Attach(scanID, withReplay), nil
		}
		return nil, err
	}
	defer e.unreserve()

	cps, err := e.uow.Checkpoints().FindByScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, errors.ErrScanNotFound
	}

	resumable := false
	for _, cp := range cps {
		if cp.Status.IsActive() {
			resumable = true
			break
		}
	}
	if !resumable {
		return nil, errors.NewBusinessError("SCAN_FINISHED",
			"scan has no active spaces left to resume")
	}

	spaces, err := e.accessor.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	sortSpaces(spaces)

	// The first run's PAUSED terminal is stale once the scan resumes; drop
	// it from replay so attached streams do not close on it immediately.
	e.bus.Prune(scanID, scan.EventPaused)

	stream := e.attach(scanID, withReplay)

	resumed, err := scan.NewEvent(scanID, scan.EventResumed)
	if err != nil {
		stream.Close()
		return nil, err
	}
	resumed.Timestamp = e.clock.Now()
	if err := e.orch.Emit(ctx, resumed); err != nil {
		stream.Close()
		return nil, err
	}

	e.launch(scanID, spaces, true)
	return stream, nil
}

// Attach subscribes to the live stream of an existing scan.
func (e *Engine) Attach(scanID string, withReplay bool) *Stream {
	return e.attach(scanID, withReplay)
}

func (e *Engine) attach(scanID string, withReplay bool) *Stream {
	return NewStream(e.bus, scanID, withReplay)
}

// Pause requests a cooperative stop at the next safe point between items.
// When the scan is not in memory (for example after a crash), the stored
// RUNNING checkpoints are transitioned directly.
func (e *Engine) Pause(ctx context.Context, scanID string) error {
	e.mu.Lock()
	run, ok := e.active[scanID]
	e.mu.Unlock()
	if ok {
		run.paused.Store(true)
		return nil
	}
	return e.pauseStored(ctx, scanID)
}

func (e *Engine) pauseStored(ctx context.Context, scanID string) error {
	cps, err := e.uow.Checkpoints().FindByScan(ctx, scanID)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		return errors.ErrScanNotFound
	}
	paused := false
	for _, cp := range cps {
		if cp.Status != scan.StatusRunning {
			continue
		}
		cp.Status = scan.StatusPaused
		cp.UpdatedAt = e.clock.Now()
		if err := e.uow.Checkpoints().Upsert(ctx, cp); err != nil {
			return err
		}
		paused = true
	}
	if paused {
		if ev, err := scan.NewEvent(scanID, scan.EventPaused); err == nil {
			ev.Timestamp = e.clock.Now()
			if err := e.orch.Emit(ctx, ev); err != nil {
				e.logger.Warn("failed to emit paused event",
					zap.String("scan_id", scanID), zap.Error(err))
			}
		}
	}
	return nil
}

// Cancel stops the producer without touching checkpoint state. Used when the
// consumer goes away; the scan can be resumed later from its checkpoints.
func (e *Engine) Cancel(scanID string) {
	e.mu.Lock()
	run, ok := e.active[scanID]
	e.mu.Unlock()
	if ok {
		run.cancel()
	}
}

// PurgeAll stops any active scan and wipes events, checkpoints, counters
// and live buffers.
func (e *Engine) PurgeAll(ctx context.Context) error {
	e.mu.Lock()
	runs := make([]*activeRun, 0, len(e.active))
	for _, run := range e.active {
		run.cancel()
		runs = append(runs, run)
	}
	e.mu.Unlock()
	for _, run := range runs {
		<-run.done
	}

	if err := e.uow.Events().DeleteAll(ctx); err != nil {
		return err
	}
	if err := e.uow.Checkpoints().DeleteAll(ctx); err != nil {
		return err
	}
	if err := e.uow.Counters().DeleteAll(ctx); err != nil {
		return err
	}
	e.bus.ReleaseAll()
	return nil
}

// RecoverOrphans transitions RUNNING checkpoints left behind by a crashed
// process to PAUSED so the scan becomes resumable. Called once at startup.
func (e *Engine) RecoverOrphans(ctx context.Context) error {
	scanID, err := e.uow.Checkpoints().FindLatestScanID(ctx)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil
		}
		return err
	}
	cps, err := e.uow.Checkpoints().FindByScan(ctx, scanID)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		if cp.Status != scan.StatusRunning {
			continue
		}
		cp.Status = scan.StatusPaused
		cp.UpdatedAt = e.clock.Now()
		if err := e.uow.Checkpoints().Upsert(ctx, cp); err != nil {
			return err
		}
		e.logger.Info("orphaned running checkpoint paused",
			zap.String("scan_id", cp.ScanID),
			zap.String("space_key", cp.SpaceKey))
	}
	return nil
}

// reserve claims the single-scan slot. launch fills e.active while the
// reservation is still held, so two concurrent starts can never both pass
// the guard: the check and the claim happen in one critical section.
func (e *Engine) reserve() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.starting || len(e.active) > 0 {
		return errors.ErrScanAlreadyActive
	}
	e.starting = true
	return nil
}

func (e *Engine) unreserve() {
	e.mu.Lock()
	e.starting = false
	e.mu.Unlock()
}

func (e *Engine) ensureNoActiveCheckpoints(ctx context.Context) error {
	latest, err := e.uow.Checkpoints().FindLatestScanID(ctx)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil
		}
		return err
	}
	cps, err := e.uow.Checkpoints().FindByScan(ctx, latest)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		if cp.Status.IsActive() {
			return errors.ErrScanAlreadyActive
		}
	}
	return nil
}

func (e *Engine) launch(scanID string, spaces []content.Space, resume bool) {
	runCtx, cancel := context.WithCancel(context.Background())
	run := &activeRun{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.active[scanID] = run
	e.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.active, scanID)
			e.mu.Unlock()
			close(run.done)
		}()
		e.runScan(runCtx, run, scanID, spaces, resume)
	}()
}

// runScan fans spaces out to workers and emits the terminal event.
func (e *Engine) runScan(ctx context.Context, run *activeRun, scanID string, spaces []content.Space, resume bool) {
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	var fatal atomic.Bool

	for _, space := range spaces {
		if ctx.Err() != nil || run.paused.Load() || fatal.Load() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(space content.Space) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.processSpace(ctx, run, scanID, space, resume); err != nil {
				if errors.IsCancelled(err) || ctx.Err() != nil {
					return
				}
				// Space-level failures are handled inside processSpace;
				// anything escaping here is scan-fatal.
				e.logger.Error("scan-fatal error",
					zap.String("scan_id", scanID),
					zap.String("space_key", space.Key),
					zap.Error(err))
				fatal.Store(true)
			}
		}(space)
	}
	wg.Wait()

	switch {
	case fatal.Load():
		e.failActiveCheckpoints(scanID)
		e.emitTerminal(scanID, scan.EventComplete, &scan.Payload{Failed: true})
	case run.paused.Load():
		e.emitTerminal(scanID, scan.EventPaused, nil)
	case ctx.Err() != nil:
		// Consumer-driven cancellation is a clean stop, not an error.
	default:
		e.emitTerminal(scanID, scan.EventComplete, nil)
	}
}

func (e *Engine) emitTerminal(scanID string, eventType scan.EventType, payload *scan.Payload) {
	ev, err := scan.NewEvent(scanID, eventType)
	if err != nil {
		return
	}
	ev.Timestamp = e.clock.Now()
	if payload != nil {
		ev.Payload = payload
	}
	if err := e.orch.Emit(context.Background(), ev); err != nil {
		e.logger.Error("failed to emit terminal event",
			zap.String("scan_id", scanID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func (e *Engine) failActiveCheckpoints(scanID string) {
	ctx := context.Background()
	cps, err := e.uow.Checkpoints().FindByScan(ctx, scanID)
	if err != nil {
		e.logger.Error("failed to load checkpoints for failure transition",
			zap.String("scan_id", scanID), zap.Error(err))
		return
	}
	for _, cp := range cps {
		if !cp.Status.IsActive() {
			continue
		}
		cp.Status = scan.StatusFailed
		cp.UpdatedAt = e.clock.Now()
		if err := e.uow.Checkpoints().Upsert(ctx, cp); err != nil {
			e.logger.Error("failed to mark checkpoint failed",
				zap.String("scan_id", scanID),
				zap.String("space_key", cp.SpaceKey),
				zap.Error(err))
		}
	}
}

// processSpace walks one space in canonical order. Item errors emit ERROR
// events and move on; space-fatal errors close the space with a failed
// SPACE_COMPLETE and a FAILED checkpoint. The returned error is non-nil only
// for cancellation and scan-fatal conditions.
func (e *Engine) processSpace(ctx context.Context, run *activeRun, scanID string, space content.Space, resume bool) error {
	var prior *scan.Checkpoint
	if resume {
		cp, err := e.uow.Checkpoints().FindBy(ctx, scanID, space.Key)
		switch {
		case err == nil:
			if cp.Status == scan.StatusCompleted {
				return nil
			}
			prior = cp
		case errors.IsType(err, errors.ErrorTypeNotFound):
			// Space never started in the original run.
		default:
			return err
		}
	}

	if err := e.emitSpaceEvent(ctx, scanID, space.Key, scan.EventSpaceStart, nil); err != nil {
		return err
	}

	items, err := e.planItems(ctx, scanID, space.Key, prior)
	if err != nil {
		e.closeSpaceFailed(ctx, scanID, space.Key, err)
		return nil
	}

	for _, item := range items.remaining {
		if run.paused.Load() {
			return e.pauseSpace(ctx, scanID, space.Key, item)
		}
		if ctx.Err() != nil {
			return errors.NewCancelledError("scan")
		}
		if err := e.processItem(ctx, scanID, item); err != nil {
			if errors.IsCancelled(err) {
				return err
			}
			e.emitItemError(ctx, scanID, item, err)
		}
	}

	cp := &scan.Checkpoint{
		ScanID:             scanID,
		SpaceKey:           space.Key,
		Status:             scan.StatusCompleted,
		ProgressPercentage: 100,
		UpdatedAt:          e.clock.Now(),
	}
	if err := e.uow.Checkpoints().Upsert(ctx, cp); err != nil {
		return err
	}
	return e.emitSpaceEvent(ctx, scanID, space.Key, scan.EventSpaceComplete,
		&scan.Payload{Progress: 100, TotalPages: items.totalPages, TotalAttachments: items.totalAttachments})
}

type plannedItems struct {
	remaining        []Item
	totalPages       int
	totalAttachments int
}

// planItems builds the canonical item list of a space and drops the
// already-processed prefix when resuming. Attachment completion within the
// last processed page is reconstructed from the event log, which is
// authoritative.
func (e *Engine) planItems(ctx context.Context, scanID, spaceKey string, prior *scan.Checkpoint) (*plannedItems, error) {
	pages, err := e.accessor.ListPages(ctx, spaceKey)
	if err != nil {
		return nil, err
	}
	content.SortPagesCanonical(pages)

	var all []Item
	totalAttachments := 0
	for _, page := range pages {
		all = append(all, Item{
			SpaceKey:  spaceKey,
			PageID:    page.ID,
			PageTitle: page.Title,
		})
		atts, err := e.accessor.ListAttachments(ctx, page.ID)
		if err != nil {
			return nil, err
		}
		content.SortAttachmentsCanonical(atts)
		totalAttachments += len(atts)
		for _, att := range atts {
			all = append(all, Item{
				SpaceKey:       spaceKey,
				PageID:         page.ID,
				PageTitle:      page.Title,
				AttachmentName: att.Name,
				AttachmentType: att.MediaType,
			})
		}
	}

	planned := len(all)
	offset := 0
	if prior != nil && prior.LastProcessedPageID != "" {
		done, err := e.processedAttachments(ctx, scanID, spaceKey, prior.LastProcessedPageID)
		if err != nil {
			return nil, err
		}
		for _, item := range all {
			if !itemProcessed(item, prior, done) {
				break
			}
			offset++
		}
	}

	result := &plannedItems{
		totalPages:       len(pages),
		totalAttachments: totalAttachments,
	}
	for i, item := range all[offset:] {
		item.Processed = offset + i + 1
		item.Planned = planned
		result.remaining = append(result.remaining, item)
	}
	return result, nil
}

// itemProcessed decides membership in the already-processed prefix.
func itemProcessed(item Item, cp *scan.Checkpoint, doneAttachments map[string]bool) bool {
	if item.PageID < cp.LastProcessedPageID {
		return true
	}
	if item.PageID > cp.LastProcessedPageID {
		return false
	}
	if !item.isAttachment() {
		return true
	}
	return doneAttachments[item.AttachmentName]
}

// processedAttachments lists the attachment items already recorded for the
// page the scan stopped on.
func (e *Engine) processedAttachments(ctx context.Context, scanID, spaceKey, pageID string) (map[string]bool, error) {
	evs, err := e.uow.Events().ListItems(ctx, scanID, scan.ItemFilter{
		SpaceKey: spaceKey,
		PageID:   pageID,
		Types:    []scan.EventType{scan.EventAttachmentItem},
	})
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(evs))
	for _, ev := range evs {
		done[ev.AttachmentName] = true
	}
	return done, nil
}

// processItem fetches content, runs detection and lands the outcome through
// the orchestrator. Persistence failures are retried once.
func (e *Engine) processItem(ctx context.Context, scanID string, item Item) error {
	text, err := e.itemText(ctx, item)
	if err != nil {
		return err
	}

	var entities []*pii.DetectedEntity
	if text != "" {
		entities, err = e.analyzer.Analyze(ctx, text)
		if err != nil {
			return err
		}
	}

	_, err = e.orch.HandleDetection(ctx, scanID, item, text, entities)
	if err != nil && errors.IsType(err, errors.ErrorTypeInternal) {
		e.logger.Warn("persistence failed, retrying once",
			zap.String("scan_id", scanID),
			zap.String("page_id", item.PageID),
			zap.Error(err))
		_, err = e.orch.HandleDetection(ctx, scanID, item, text, entities)
	}
	return err
}

func (e *Engine) itemText(ctx context.Context, item Item) (string, error) {
	if !item.isAttachment() {
		page, err := e.accessor.GetPage(ctx, item.PageID)
		if err != nil {
			return "", err
		}
		text, err := extraction.StripHTML(page.Body)
		if err != nil {
			return "", errors.NewExtractionError("failed to normalize page body").WithCause(err)
		}
		return text, nil
	}

	atts, err := e.accessor.ListAttachments(ctx, item.PageID)
	if err != nil {
		return "", err
	}
	for _, att := range atts {
		if att.Name != item.AttachmentName {
			continue
		}
		data, err := e.accessor.DownloadAttachment(ctx, att.ID)
		if err != nil {
			return "", err
		}
		return e.extractor.Process(ctx, att, data)
	}
	return "", errors.NewNotFoundError("attachment " + item.AttachmentName)
}

// pauseSpace records the pause position. The item passed is the next
// unprocessed one; progress is reported as of the last committed item and
// the last-processed markers are left untouched, which the upsert merge
// preserves.
func (e *Engine) pauseSpace(ctx context.Context, scanID, spaceKey string, next Item) error {
	last := next
	if last.Processed > 0 {
		last.Processed--
	}
	cp := &scan.Checkpoint{
		ScanID:             scanID,
		SpaceKey:           spaceKey,
		Status:             scan.StatusPaused,
		ProgressPercentage: last.progress(),
		UpdatedAt:          e.clock.Now(),
	}
	return e.uow.Checkpoints().Upsert(ctx, cp)
}

func (e *Engine) closeSpaceFailed(ctx context.Context, scanID, spaceKey string, cause error) {
	e.logger.Error("space failed",
		zap.String("scan_id", scanID),
		zap.String("space_key", spaceKey),
		zap.Error(cause))

	cp := &scan.Checkpoint{
		ScanID:    scanID,
		SpaceKey:  spaceKey,
		Status:    scan.StatusFailed,
		UpdatedAt: e.clock.Now(),
	}
	if err := e.uow.Checkpoints().Upsert(ctx, cp); err != nil {
		e.logger.Error("failed to mark space checkpoint failed",
			zap.String("scan_id", scanID),
			zap.String("space_key", spaceKey),
			zap.Error(err))
	}

	payload := &scan.Payload{Failed: true, Message: cause.Error()}
	if err := e.emitSpaceEvent(ctx, scanID, spaceKey, scan.EventSpaceComplete, payload); err != nil {
		e.logger.Error("failed to emit failed space event",
			zap.String("scan_id", scanID),
			zap.String("space_key", spaceKey),
			zap.Error(err))
	}
}

func (e *Engine) emitSpaceEvent(ctx context.Context, scanID, spaceKey string, eventType scan.EventType, payload *scan.Payload) error {
	ev, err := scan.NewEvent(scanID, eventType)
	if err != nil {
		return err
	}
	ev.SpaceKey = spaceKey
	ev.Timestamp = e.clock.Now()
	if payload != nil {
		ev.Payload = payload
	}
	return e.orch.Emit(ctx, ev)
}

func (e *Engine) emitItemError(ctx context.Context, scanID string, item Item, cause error) {
	ev, err := scan.NewEvent(scanID, scan.EventError)
	if err != nil {
		return
	}
	ev.SpaceKey = item.SpaceKey
	ev.PageID = item.PageID
	ev.AttachmentName = item.AttachmentName
	ev.Timestamp = e.clock.Now()
	ev.Payload = &scan.Payload{Message: cause.Error()}
	if err := e.orch.Emit(ctx, ev); err != nil {
		e.logger.Error("failed to emit item error event",
			zap.String("scan_id", scanID),
			zap.String("page_id", item.PageID),
			zap.Error(err))
	}
}

// sortSpaces keeps the space processing order stable across runs.
func sortSpaces(spaces []content.Space) {
	sort.Slice(spaces, func(i, j int) bool { return spaces[i].Key < spaces[j].Key })
}
