package scanning

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
)

// memStores is an in-memory scan.UnitOfWork. InTx applies writes directly;
// a queued failure makes the next InTx fail before any write lands, which is
// how the retry path gets exercised.
type memStores struct {
	mu          sync.Mutex
	events      map[string][]*scan.Event
	checkpoints map[string]map[string]*scan.Checkpoint
	counters    map[string]map[string]*scan.SeverityCount
	lastScanID  string

	txFailures int
	txGate     chan struct{}
	txEntered  chan struct{}
}

func newMemStores() *memStores {
	return &memStores{
		events:      make(map[string][]*scan.Event),
		checkpoints: make(map[string]map[string]*scan.Checkpoint),
		counters:    make(map[string]map[string]*scan.SeverityCount),
	}
}

func (m *memStores) Events() scan.EventRepository           { return (*memEvents)(m) }
func (m *memStores) Checkpoints() scan.CheckpointRepository { return (*memCheckpoints)(m) }
func (m *memStores) Counters() scan.SeverityCountRepository { return (*memCounters)(m) }

func (m *memStores) InTx(ctx context.Context, fn func(scan.Stores) error) error {
	if m.txGate != nil {
		if m.txEntered != nil {
			m.txEntered <- struct{}{}
		}
		<-m.txGate
	}
	m.mu.Lock()
	fail := m.txFailures > 0
	if fail {
		m.txFailures--
	}
	m.mu.Unlock()
	if fail {
		return errors.NewPersistenceError("injected transaction failure")
	}
	return fn(m)
}

type memEvents memStores

func (m *memEvents) Append(_ context.Context, event *scan.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.EventSeq = int64(len(m.events[event.ScanID])) + 1
	m.events[event.ScanID] = append(m.events[event.ScanID], event.Clone())
	return nil
}

func (m *memEvents) MaxSeq(_ context.Context, scanID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events[scanID])), nil
}

func (m *memEvents) ListItems(_ context.Context, scanID string, filter scan.ItemFilter) ([]*scan.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scan.Event
	for _, ev := range m.events[scanID] {
		if !ev.IsItem() {
			continue
		}
		if filter.SpaceKey != "" && ev.SpaceKey != filter.SpaceKey {
			continue
		}
		if filter.PageID != "" && ev.PageID != filter.PageID {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, ev.Type) {
			continue
		}
		out = append(out, ev.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memEvents) ListForExport(_ context.Context, scanID, spaceKey string) ([]*scan.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scan.Event
	for _, ev := range m.events[scanID] {
		if spaceKey != "" && ev.SpaceKey != spaceKey {
			continue
		}
		out = append(out, ev.Clone())
	}
	return out, nil
}

func (m *memEvents) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]*scan.Event)
	return nil
}

func containsType(types []scan.EventType, t scan.EventType) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}

type memCheckpoints memStores

func (m *memCheckpoints) Upsert(_ context.Context, cp *scan.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byScan, ok := m.checkpoints[cp.ScanID]
	if !ok {
		byScan = make(map[string]*scan.Checkpoint)
		m.checkpoints[cp.ScanID] = byScan
	}
	existing, ok := byScan[cp.SpaceKey]
	if !ok {
		c := *cp
		byScan[cp.SpaceKey] = &c
	} else if err := existing.Merge(cp); err != nil {
		return err
	}
	m.lastScanID = cp.ScanID
	return nil
}

func (m *memCheckpoints) FindBy(_ context.Context, scanID, spaceKey string) (*scan.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.checkpoints[scanID][spaceKey]; ok {
		c := *cp
		return &c, nil
	}
	return nil, errors.ErrCheckpointNotFound
}

func (m *memCheckpoints) FindByScan(_ context.Context, scanID string) ([]*scan.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scan.Checkpoint
	for _, cp := range m.checkpoints[scanID] {
		c := *cp
		out = append(out, &c)
	}
	return out, nil
}

func (m *memCheckpoints) FindBySpace(_ context.Context, spaceKey string) ([]*scan.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scan.Checkpoint
	for _, byScan := range m.checkpoints {
		if cp, ok := byScan[spaceKey]; ok {
			c := *cp
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memCheckpoints) FindLatestBySpace(_ context.Context, spaceKey string) (*scan.Checkpoint, error) {
	cps, _ := m.FindBySpace(context.Background(), spaceKey)
	var latest *scan.Checkpoint
	for _, cp := range cps {
		if latest == nil || cp.UpdatedAt.After(latest.UpdatedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, errors.ErrCheckpointNotFound
	}
	return latest, nil
}

func (m *memCheckpoints) FindRunning(_ context.Context, scanID string) (*scan.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cp := range m.checkpoints[scanID] {
		if cp.Status == scan.StatusRunning {
			c := *cp
			return &c, nil
		}
	}
	return nil, errors.ErrCheckpointNotFound
}

func (m *memCheckpoints) FindLatestScanID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastScanID == "" {
		return "", errors.ErrScanNotFound
	}
	return m.lastScanID, nil
}

func (m *memCheckpoints) DeleteByScan(_ context.Context, scanID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, scanID)
	return nil
}

func (m *memCheckpoints) DeleteActive(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byScan := range m.checkpoints {
		for key, cp := range byScan {
			if cp.Status.IsActive() {
				delete(byScan, key)
			}
		}
	}
	return nil
}

func (m *memCheckpoints) DeleteActiveForSpaces(_ context.Context, spaceKeys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[string]bool, len(spaceKeys))
	for _, k := range spaceKeys {
		keys[k] = true
	}
	for _, byScan := range m.checkpoints {
		for key, cp := range byScan {
			if keys[key] && cp.Status.IsActive() {
				delete(byScan, key)
			}
		}
	}
	return nil
}

func (m *memCheckpoints) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = make(map[string]map[string]*scan.Checkpoint)
	m.lastScanID = ""
	return nil
}

type memCounters memStores

func (m *memCounters) Increment(_ context.Context, scanID, spaceKey string, high, medium, low int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byScan, ok := m.counters[scanID]
	if !ok {
		byScan = make(map[string]*scan.SeverityCount)
		m.counters[scanID] = byScan
	}
	sc, ok := byScan[spaceKey]
	if !ok {
		sc = &scan.SeverityCount{ScanID: scanID, SpaceKey: spaceKey}
		byScan[spaceKey] = sc
	}
	sc.High += int64(high)
	sc.Medium += int64(medium)
	sc.Low += int64(low)
	return nil
}

func (m *memCounters) Get(_ context.Context, scanID, spaceKey string) (*scan.SeverityCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc, ok := m.counters[scanID][spaceKey]; ok {
		c := *sc
		return &c, nil
	}
	return &scan.SeverityCount{ScanID: scanID, SpaceKey: spaceKey}, nil
}

func (m *memCounters) ListByScan(_ context.Context, scanID string) ([]*scan.SeverityCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scan.SeverityCount
	for _, sc := range m.counters[scanID] {
		c := *sc
		out = append(out, &c)
	}
	return out, nil
}

func (m *memCounters) DeleteByScan(_ context.Context, scanID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, scanID)
	return nil
}

func (m *memCounters) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]map[string]*scan.SeverityCount)
	return nil
}

// fakeAccessor is an in-memory content platform.
type fakeAccessor struct {
	mu          sync.Mutex
	spaces      []content.Space
	pages       map[string][]content.Page       // space key -> pages
	attachments map[string][]content.Attachment // page ID -> attachments
	data        map[string][]byte               // attachment ID -> bytes

	listPagesErr map[string]error // space key -> error
	getPageErr   map[string]error // page ID -> error
	onListSpaces func()           // runs before every ListSpaces
}

func newFakeAccessor() *fakeAccessor {
	return &fakeAccessor{
		pages:        make(map[string][]content.Page),
		attachments:  make(map[string][]content.Attachment),
		data:         make(map[string][]byte),
		listPagesErr: make(map[string]error),
		getPageErr:   make(map[string]error),
	}
}

func (f *fakeAccessor) addSpace(key string) {
	f.spaces = append(f.spaces, content.Space{Key: key, Name: key})
}

func (f *fakeAccessor) addPage(spaceKey, id, title, body string) {
	f.pages[spaceKey] = append(f.pages[spaceKey], content.Page{
		ID: id, SpaceKey: spaceKey, Title: title, Body: body, UpdatedAt: time.Now(),
	})
}

func (f *fakeAccessor) addAttachment(pageID, id, name, mediaType string, data []byte) {
	f.attachments[pageID] = append(f.attachments[pageID], content.Attachment{
		ID: id, PageID: pageID, Name: name, MediaType: mediaType, SizeBytes: int64(len(data)),
	})
	f.data[id] = data
}

func (f *fakeAccessor) ListSpaces(context.Context) ([]content.Space, error) {
	if f.onListSpaces != nil {
		f.onListSpaces()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]content.Space(nil), f.spaces...), nil
}

func (f *fakeAccessor) GetSpace(_ context.Context, key string) (*content.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.spaces {
		if s.Key == key {
			c := s
			return &c, nil
		}
	}
	return nil, errors.NewNotFoundError("space " + key)
}

func (f *fakeAccessor) ListPages(_ context.Context, spaceKey string) ([]content.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listPagesErr[spaceKey]; err != nil {
		return nil, err
	}
	return append([]content.Page(nil), f.pages[spaceKey]...), nil
}

func (f *fakeAccessor) GetPage(_ context.Context, id string) (*content.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getPageErr[id]; err != nil {
		return nil, err
	}
	for _, pages := range f.pages {
		for _, p := range pages {
			if p.ID == id {
				c := p
				return &c, nil
			}
		}
	}
	return nil, errors.NewNotFoundError("page " + id)
}

func (f *fakeAccessor) ListAttachments(_ context.Context, pageID string) ([]content.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]content.Attachment(nil), f.attachments[pageID]...), nil
}

func (f *fakeAccessor) DownloadAttachment(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[id]
	if !ok {
		return nil, errors.NewNotFoundError("attachment data " + id)
	}
	return data, nil
}

// fakeAnalyzer finds well-known markers in the text and returns entities with
// real offsets. onCall runs before each analysis, which lets tests trigger a
// pause mid-scan.
type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	errFor map[string]error // substring of text -> error
	onCall func(call int)
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{errFor: make(map[string]error)}
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string) ([]*pii.DetectedEntity, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	for marker, err := range f.errFor {
		if marker != "" && strings.Contains(text, marker) {
			return nil, err
		}
	}

	var entities []*pii.DetectedEntity
	for marker, piiType := range map[string]string{
		"a@b.com": "EMAIL",
		"hunter2": "PASSWORD",
	} {
		if idx := strings.Index(text, marker); idx >= 0 {
			e, err := pii.NewDetectedEntity(piiType, idx, idx+len(marker), 0.95, marker, text)
			if err != nil {
				return nil, err
			}
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// recordingSink captures published events for orchestrator tests.
type recordingSink struct {
	mu     sync.Mutex
	events []*scan.Event
}

func (r *recordingSink) Publish(event *scan.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) all() []*scan.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*scan.Event(nil), r.events...)
}
