package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vipul43/leadsync/internal/config"
	"github.com/vipul43/leadsync/internal/models"
	"github.com/vipul43/leadsync/internal/service"
)

type mockAgencies struct {
	ListAutoSyncFunc func(ctx context.Context) ([]models.Agency, error)
}

func (m *mockAgencies) ListAutoSync(ctx context.Context) ([]models.Agency, error) {
	return m.ListAutoSyncFunc(ctx)
}

type mockCheckpoints struct {
	values map[string]time.Time
	err    map[string]error
}

func (m *mockCheckpoints) Get(ctx context.Context, agencyID string) (*time.Time, error) {
	if err := m.err[agencyID]; err != nil {
		return nil, err
	}
	if t, ok := m.values[agencyID]; ok {
		return &t, nil
	}
	return nil, nil
}

type mockReaper struct {
	calls     int
	olderThan time.Duration
}

func (m *mockReaper) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.calls++
	m.olderThan = olderThan
	return 0, nil
}

type mockSyncer struct {
	RunFunc func(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error)
	calls   []service.SyncRequest
}

func (m *mockSyncer) Run(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error) {
	m.calls = append(m.calls, req)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return &service.SyncSummary{}, nil
}

func configured(id string) models.Agency {
	key, token, board := "k", "t", "b-"+id
	return models.Agency{ID: id, TrelloAPIKey: &key, TrelloToken: &token, TrelloBoardID: &board, TrelloAutoSync: true}
}

func testConfig() *config.Config {
	return &config.Config{
		PollInterval:    60,
		SyncInterval:    15 * time.Minute,
		SyncPassTimeout: time.Minute,
		SyncLeaseTTL:    10 * time.Minute,
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-5 * time.Minute)
	old := now.Add(-20 * time.Minute)
	exact := now.Add(-15 * time.Minute)

	tests := []struct {
		name       string
		checkpoint *time.Time
		want       bool
	}{
		{"never synced", nil, true},
		{"recent", &recent, false},
		{"stale", &old, true},
		{"exactly interval", &exact, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDue(tt.checkpoint, now, 15*time.Minute); got != tt.want {
				t.Errorf("isDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessDueAgencies(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	unconfigured := models.Agency{ID: "no-creds", TrelloAutoSync: true}

	agencies := &mockAgencies{ListAutoSyncFunc: func(ctx context.Context) ([]models.Agency, error) {
		return []models.Agency{configured("due"), configured("fresh"), unconfigured, configured("busy"), configured("broken"), configured("after")}, nil
	}}
	checkpoints := &mockCheckpoints{
		values: map[string]time.Time{"fresh": now.Add(-time.Minute), "busy": now.Add(-time.Hour)},
		err:    map[string]error{"broken": errors.New("timeout")},
	}
	reaper := &mockReaper{}
	syncer := &mockSyncer{RunFunc: func(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected pass deadline")
		}
		if req.AgencyID == "busy" {
			return nil, service.ErrSyncInProgress
		}
		return &service.SyncSummary{}, nil
	}}

	w := New(testConfig(), agencies, checkpoints, reaper, syncer)
	w.now = func() time.Time { return now }

	if err := w.processDueAgencies(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var synced []string
	for _, c := range syncer.calls {
		if c.Trigger != service.TriggerScheduled || c.ForceFullSync {
			t.Errorf("expected scheduled incremental request, got %+v", c)
		}
		synced = append(synced, c.AgencyID)
	}
	want := []string{"due", "busy", "after"}
	if len(synced) != len(want) {
		t.Fatalf("expected syncs %v, got %v", want, synced)
	}
	for i := range want {
		if synced[i] != want[i] {
			t.Errorf("sync %d: expected %s, got %s", i, want[i], synced[i])
		}
	}

	if reaper.calls != 1 || reaper.olderThan != 10*time.Minute {
		t.Errorf("expected one reap with lease TTL, got %d calls (%s)", reaper.calls, reaper.olderThan)
	}
}

func TestProcessDueAgencies_ListError(t *testing.T) {
	agencies := &mockAgencies{ListAutoSyncFunc: func(ctx context.Context) ([]models.Agency, error) {
		return nil, errors.New("db down")
	}}
	syncer := &mockSyncer{}

	w := New(testConfig(), agencies, &mockCheckpoints{}, nil, syncer)
	if err := w.processDueAgencies(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(syncer.calls) != 0 {
		t.Errorf("expected no syncs, got %d", len(syncer.calls))
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	agencies := &mockAgencies{ListAutoSyncFunc: func(ctx context.Context) ([]models.Agency, error) {
		return nil, nil
	}}
	w := New(testConfig(), agencies, &mockCheckpoints{}, &mockReaper{}, &mockSyncer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
