package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vipul43/leadsync/internal/models"
)

type mockBoardClient struct {
	fetchOpenCardsFunc func(ctx context.Context, creds BoardCredentials, boardID string) ([]BoardCard, error)
	fetchOpenListsFunc func(ctx context.Context, creds BoardCredentials, boardID string) ([]BoardList, error)
	fetchCardFunc      func(ctx context.Context, creds BoardCredentials, cardID string) (*CardDetail, error)

	mu           sync.Mutex
	fetchedCards []string
}

func (m *mockBoardClient) FetchOpenCards(ctx context.Context, creds BoardCredentials, boardID string) ([]BoardCard, error) {
	if m.fetchOpenCardsFunc != nil {
		return m.fetchOpenCardsFunc(ctx, creds, boardID)
	}
	return nil, nil
}

func (m *mockBoardClient) FetchOpenLists(ctx context.Context, creds BoardCredentials, boardID string) ([]BoardList, error) {
	if m.fetchOpenListsFunc != nil {
		return m.fetchOpenListsFunc(ctx, creds, boardID)
	}
	return nil, nil
}

func (m *mockBoardClient) FetchCard(ctx context.Context, creds BoardCredentials, cardID string) (*CardDetail, error) {
	m.mu.Lock()
	m.fetchedCards = append(m.fetchedCards, cardID)
	m.mu.Unlock()
	if m.fetchCardFunc != nil {
		return m.fetchCardFunc(ctx, creds, cardID)
	}
	return nil, ErrCardNotFound
}

func (m *mockBoardClient) fetched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetchedCards...)
}

// memLeadStore mimics the lead repository, including agency scoping
type memLeadStore struct {
	mu        sync.Mutex
	leads     map[string]*models.Lead
	createErr error

	sweptLists bool
	sweptCards bool
}

func newMemLeadStore(leads ...*models.Lead) *memLeadStore {
	s := &memLeadStore{leads: make(map[string]*models.Lead)}
	for _, l := range leads {
		s.leads[l.ID] = l
	}
	return s
}

func (s *memLeadStore) FindByExternalID(ctx context.Context, agencyID, externalID, source string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.AgencyID == agencyID && l.Source == source && l.ExternalID != nil && *l.ExternalID == externalID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memLeadStore) Create(ctx context.Context, lead *models.Lead) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *memLeadStore) UpdateSyncedFields(ctx context.Context, agencyID, leadID string, f LeadSyncFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.AgencyID != agencyID {
		return errors.New("lead not found")
	}
	l.Status = f.Status
	if f.Region != nil {
		l.Region = f.Region
	}
	l.ContactName = f.ContactName
	listID := f.ExternalListID
	l.ExternalListID = &listID
	if f.ListName != nil {
		l.ListName = f.ListName
	}
	l.ExternalDescription = f.ExternalDescription
	l.ExternalURL = f.ExternalURL
	l.Labels = f.Labels
	l.DueAt = f.DueAt
	l.LastActivityAt = f.LastActivityAt
	return nil
}

func (s *memLeadStore) DeleteByExternalID(ctx context.Context, agencyID, externalID, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, l := range s.leads {
		if l.AgencyID == agencyID && l.Source == source && l.ExternalID != nil && *l.ExternalID == externalID {
			delete(s.leads, id)
			n++
		}
	}
	return n, nil
}

func (s *memLeadStore) DeleteNotInLists(ctx context.Context, agencyID, source string, openListIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweptLists = true
	open := toSet(openListIDs)
	var n int64
	for id, l := range s.leads {
		if l.AgencyID == agencyID && l.Source == source && l.ExternalListID != nil && !open[*l.ExternalListID] {
			delete(s.leads, id)
			n++
		}
	}
	return n, nil
}

func (s *memLeadStore) DeleteNotInCards(ctx context.Context, agencyID, source string, cardIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweptCards = true
	present := toSet(cardIDs)
	var n int64
	for id, l := range s.leads {
		if l.AgencyID == agencyID && l.Source == source && l.ExternalID != nil && !present[*l.ExternalID] {
			delete(s.leads, id)
			n++
		}
	}
	return n, nil
}

func (s *memLeadStore) byExternalID(agencyID, externalID string) *models.Lead {
	l, _ := s.FindByExternalID(context.Background(), agencyID, externalID, models.LeadSourceTrello)
	return l
}

func (s *memLeadStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

type memTenantStore struct {
	mu             sync.Mutex
	agencies       map[string]*models.Agency
	mappingUpdates int
}

func newMemTenantStore(agencies ...*models.Agency) *memTenantStore {
	s := &memTenantStore{agencies: make(map[string]*models.Agency)}
	for _, a := range agencies {
		s.agencies[a.ID] = a
	}
	return s
}

func (s *memTenantStore) GetByID(ctx context.Context, agencyID string) (*models.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[agencyID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *a
	cp.TrelloListMapping = a.TrelloListMapping.Clone()
	return &cp, nil
}

func (s *memTenantStore) UpdateListMapping(ctx context.Context, agencyID string, mapping models.ListMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappingUpdates++
	s.agencies[agencyID].TrelloListMapping = mapping.Clone()
	return nil
}

// memCheckpointStore only moves forward, like the SQL implementation
type memCheckpointStore struct {
	mu     sync.Mutex
	points map[string]time.Time
	sets   int
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{points: make(map[string]time.Time)}
}

func (s *memCheckpointStore) Get(ctx context.Context, agencyID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.points[agencyID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *memCheckpointStore) Set(ctx context.Context, agencyID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if cur, ok := s.points[agencyID]; !ok || cur.Before(t) {
		s.points[agencyID] = t
	}
	return nil
}

type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	released int
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) Acquire(ctx context.Context, agencyID, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[agencyID]; ok {
		return false, nil
	}
	l.held[agencyID] = holder
	return true, nil
}

func (l *memLocker) Release(ctx context.Context, agencyID, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[agencyID] == holder {
		delete(l.held, agencyID)
		l.released++
	}
	return nil
}

type memRunRecorder struct {
	mu   sync.Mutex
	runs map[string]*models.SyncRun
}

func newMemRunRecorder() *memRunRecorder {
	return &memRunRecorder{runs: make(map[string]*models.SyncRun)}
}

func (r *memRunRecorder) Start(ctx context.Context, run *models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memRunRecorder) Finish(ctx context.Context, runID string, status models.SyncRunStatus, summary models.JSONB, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.runs[runID]
	run.Status = status
	run.Summary = summary
	run.LastError = lastError
	return nil
}

func (r *memRunRecorder) only() *models.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		return run
	}
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []SyncCompletedEvent
}

func (n *recordingNotifier) NotifySyncCompleted(ctx context.Context, event SyncCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func strPtr(s string) *string { return &s }

func timePtr(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func configuredAgency(id string) *models.Agency {
	return &models.Agency{
		ID:                id,
		Name:              "Agency " + id,
		TrelloAPIKey:      strPtr("key-" + id),
		TrelloToken:       strPtr("token-" + id),
		TrelloBoardID:     strPtr("board-" + id),
		TrelloListMapping: models.ListMapping{},
	}
}

func trelloLead(id, agencyID, cardID, listID string) *models.Lead {
	return &models.Lead{
		ID:             id,
		AgencyID:       agencyID,
		ExternalID:     strPtr(cardID),
		Source:         models.LeadSourceTrello,
		Status:         models.LeadStatusNew,
		ExternalListID: strPtr(listID),
	}
}
