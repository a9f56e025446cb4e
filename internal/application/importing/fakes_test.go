package importing_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/domain/pin"
)

// fakeStore stands in for the database: imports, pins, the outbox and the
// batch inbox, with the same uniqueness and version rules.
type fakeStore struct {
	mu      sync.Mutex
	imports map[string]domain.Import
	order   []string
	pins    map[string]pin.Pin
	outbox  []app.Envelope
	batches map[string]bool
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		imports: make(map[string]domain.Import),
		pins:    make(map[string]pin.Pin),
		batches: make(map[string]bool),
	}
}

func (s *fakeStore) CanStartImport(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.hasRunningLocked(userID, ""), nil
}

func (s *fakeStore) hasRunningLocked(userID, exceptID string) bool {
	for id, imp := range s.imports {
		if id != exceptID && imp.UserID == userID && imp.State == domain.StateInProgress {
			return true
		}
	}
	return false
}

func (s *fakeStore) Add(ctx context.Context, imp *domain.Import, envelopes ...app.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if imp.State == domain.StateInProgress && s.hasRunningLocked(imp.UserID, imp.ID) {
		return domain.ErrImportAlreadyStarted
	}
	imp.Version = 1
	s.imports[imp.ID] = cloneImport(imp)
	s.order = append(s.order, imp.ID)
	s.outbox = append(s.outbox, envelopes...)
	return nil
}

func (s *fakeStore) Save(ctx context.Context, imp *domain.Import, envelopes ...app.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(imp, envelopes)
}

func (s *fakeStore) saveLocked(imp *domain.Import, envelopes []app.Envelope) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, ok := s.imports[imp.ID]
	if !ok || stored.Version != imp.Version {
		return domain.ErrConcurrencyConflict
	}
	imp.Version++
	s.imports[imp.ID] = cloneImport(imp)
	s.outbox = append(s.outbox, envelopes...)
	s.saves++
	return nil
}

func (s *fakeStore) FindInProgress(ctx context.Context, userID, archiveJobID string) (*domain.Import, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, imp := range s.imports {
		if imp.UserID == userID && imp.ArchiveJobID == archiveJobID && imp.State == domain.StateInProgress {
			c := cloneImport(&imp)
			return &c, nil
		}
	}
	return nil, domain.ErrImportNotFound
}

func (s *fakeStore) FindLatest(ctx context.Context, userID string) (*domain.Import, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		imp := s.imports[s.order[i]]
		if imp.UserID == userID {
			c := cloneImport(&imp)
			return &c, nil
		}
	}
	return nil, domain.ErrImportNotFound
}

func (s *fakeStore) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.Import, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Import
	for _, id := range s.order {
		imp := s.imports[id]
		if imp.State != domain.StateInProgress || imp.StartedAt == nil || !imp.StartedAt.Before(startedBefore) {
			continue
		}
		c := cloneImport(&imp)
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ListByOwner(ctx context.Context, ownerID string) ([]*pin.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*pin.Pin
	for _, p := range s.pins {
		if p.OwnerID == ownerID {
			c := p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeStore) CommitBatch(ctx context.Context, commit app.BatchCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batches[commit.BatchID] {
		return app.ErrBatchAlreadyApplied
	}
	if err := s.saveLocked(commit.Import, commit.Envelopes); err != nil {
		return err
	}
	for _, p := range commit.Pins {
		s.pins[p.ID] = *p
	}
	s.batches[commit.BatchID] = true
	return nil
}

func (s *fakeStore) addPin(t *testing.T, ownerID, placeID, name string) *pin.Pin {
	t.Helper()

	p, err := pin.NewPin(ownerID, placeID, name, pin.Address{}, orb.Point{1, 1}, time.Now())
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[p.ID] = *p
	return p
}

func (s *fakeStore) get(t *testing.T, id string) domain.Import {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.imports[id]
	require.True(t, ok, "import %s not stored", id)
	return imp
}

func (s *fakeStore) only(t *testing.T) domain.Import {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.imports, 1)
	for _, imp := range s.imports {
		return imp
	}
	return domain.Import{}
}

func (s *fakeStore) envelopes(subject string) []app.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []app.Envelope
	for _, env := range s.outbox {
		if env.Subject == subject {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeStore) pinsOf(ownerID string) []pin.Pin {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pin.Pin
	for _, p := range s.pins {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeStore) seed(t *testing.T, userID, archiveJobID string) *domain.Import {
	t.Helper()

	imp := domain.NewImport(userID, domain.AllTime())
	require.NoError(t, imp.Start(context.Background(), archiveJobID, s))
	imp.AcknowledgeEvents(len(imp.PendingEvents()))
	require.NoError(t, s.Add(context.Background(), imp))
	return imp
}

func cloneImport(imp *domain.Import) domain.Import {
	c := *imp
	c.ConflictedPlaces = append([]domain.ReportedPlace(nil), imp.ConflictedPlaces...)
	c.FailedPlaces = append([]domain.ReportedPlace(nil), imp.FailedPlaces...)
	c.AcknowledgeEvents(len(c.PendingEvents()))
	return c
}

type allowPolicy struct{}

func (allowPolicy) CanStartImport(ctx context.Context, userID string) (bool, error) {
	return true, nil
}

type failingPolicy struct{ err error }

func (p failingPolicy) CanStartImport(ctx context.Context, userID string) (bool, error) {
	return false, p.err
}

type fakeArchiveService struct {
	mu        sync.Mutex
	jobID     string
	initErr   error
	status    app.ArchiveJobStatus
	checkErr  error
	cancelled []string
	disposed  int
	initiated int
}

func (f *fakeArchiveService) Initiate(ctx context.Context, period domain.Period) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated++
	return f.jobID, f.initErr
}

func (f *fakeArchiveService) CheckJob(ctx context.Context, archiveJobID string) (app.ArchiveJobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.checkErr
}

func (f *fakeArchiveService) Cancel(ctx context.Context, archiveJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, archiveJobID)
	return nil
}

func (f *fakeArchiveService) DisposeDataArchives(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed++
	return nil
}

type fakeFactory struct {
	service *fakeArchiveService
	err     error
	calls   int
}

func (f *fakeFactory) Create(ctx context.Context, userID string) (app.ArchiveService, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.service, nil
}

type fakeDownloader struct {
	places []app.StarredPlace
	err    error
	calls  int
}

func (f *fakeDownloader) Download(ctx context.Context, metadataURL, dataURL string) ([]app.StarredPlace, error) {
	f.calls++
	return f.places, f.err
}

type harness struct {
	store      *fakeStore
	service    *fakeArchiveService
	factory    *fakeFactory
	downloader *fakeDownloader
	orch       *app.Orchestrator
}

func newHarness(t *testing.T, cfg app.OrchestratorConfig) *harness {
	t.Helper()

	h := &harness{
		store:      newFakeStore(),
		service:    &fakeArchiveService{jobID: "job-123"},
		downloader: &fakeDownloader{},
	}
	h.factory = &fakeFactory{service: h.service}
	h.orch = app.NewOrchestrator(app.OrchestratorDeps{
		Imports:    h.store,
		Pins:       h.store,
		Batches:    h.store,
		Policy:     h.store,
		Services:   h.factory,
		Downloader: h.downloader,
	}, cfg)
	return h
}

func decode[T any](t *testing.T, env app.Envelope) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func place(name, cid string, lat, lng float64) app.StarredPlace {
	return app.StarredPlace{
		Name:      &name,
		MapsURL:   pin.MapsURL(cid),
		Latitude:  &lat,
		Longitude: &lng,
		AddedDate: time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}
