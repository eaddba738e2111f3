package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vipul43/leadsync/internal/models"
	"github.com/vipul43/leadsync/internal/repository"
	"github.com/vipul43/leadsync/internal/service"
)

const testSecret = "test-secret-0123456789abcdef0123"

type mockRunner struct {
	RunFunc func(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error)
	calls   []service.SyncRequest
}

func (m *mockRunner) Run(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error) {
	m.calls = append(m.calls, req)
	return m.RunFunc(ctx, req)
}

type mockCheckpoints struct {
	GetFunc func(ctx context.Context, agencyID string) (*time.Time, error)
}

func (m *mockCheckpoints) Get(ctx context.Context, agencyID string) (*time.Time, error) {
	return m.GetFunc(ctx, agencyID)
}

type mockRuns struct {
	GetLatestFunc func(ctx context.Context, agencyID string) (*models.SyncRun, error)
}

func (m *mockRuns) GetLatest(ctx context.Context, agencyID string) (*models.SyncRun, error) {
	return m.GetLatestFunc(ctx, agencyID)
}

type mockLeases struct {
	held bool
	err  error
}

func (m *mockLeases) IsHeld(ctx context.Context, agencyID string) (bool, error) {
	return m.held, m.err
}

type mockTenants struct {
	agencies map[string]*models.Agency
}

func (m *mockTenants) GetByID(ctx context.Context, agencyID string) (*models.Agency, error) {
	a, ok := m.agencies[agencyID]
	if !ok {
		return nil, service.ErrTenantNotFound
	}
	return a, nil
}

type mockLeads struct {
	created []*models.Lead
	err     error
}

func (m *mockLeads) Create(ctx context.Context, lead *models.Lead) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, lead)
	return nil
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

type mockFeed struct{ agencies []string }

func (m *mockFeed) ServeWS(w http.ResponseWriter, r *http.Request, agencyID string) {
	m.agencies = append(m.agencies, agencyID)
	w.WriteHeader(http.StatusOK)
}

func testDeps() Deps {
	return Deps{
		Sync: &mockRunner{RunFunc: func(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error) {
			return &service.SyncSummary{}, nil
		}},
		Checkpoints: &mockCheckpoints{GetFunc: func(ctx context.Context, agencyID string) (*time.Time, error) {
			return nil, nil
		}},
		Runs: &mockRuns{GetLatestFunc: func(ctx context.Context, agencyID string) (*models.SyncRun, error) {
			return nil, repository.ErrSyncRunNotFound
		}},
		Tenants:           &mockTenants{agencies: map[string]*models.Agency{"a1": {ID: "a1", Name: "Viajes Sur"}}},
		Leads:             &mockLeads{},
		DB:                &mockPinger{},
		Feed:              &mockFeed{},
		Auth:              NewAuthenticator(testSecret),
		ManychatSecret:    "mc-secret",
		SyncTimeout:       time.Minute,
		SyncRatePerMinute: 1000,
	}
}

func tokenFor(t *testing.T, role string, agencies ...string) string {
	t.Helper()
	tok, err := NewAuthenticator(testSecret).IssueToken("user-1", role, agencies, time.Hour)
	require.NoError(t, err)
	return tok
}

func doRequest(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
