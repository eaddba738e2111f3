package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/metrics"
	"github.com/vipul43/leadsync/internal/models"
)

// Trigger values recorded on sync runs
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerCLI       = "cli"
)

type SyncRequest struct {
	AgencyID      string
	ForceFullSync bool
	Trigger       string
}

// SyncSummary is the result of one pass. Total counts cards processed without error.
type SyncSummary struct {
	Total           int        `json:"total"`
	Created         int        `json:"created"`
	Updated         int        `json:"updated"`
	Deleted         int        `json:"deleted"`
	OrphanedDeleted int        `json:"orphanedDeleted"`
	Errors          int        `json:"errors"`
	RateLimited     int        `json:"rateLimited"`
	TotalCards      int        `json:"totalCards"`
	Incremental     bool       `json:"incremental"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
}

func (s *SyncSummary) toJSONB() models.JSONB {
	j := models.JSONB{
		"total":           s.Total,
		"created":         s.Created,
		"updated":         s.Updated,
		"deleted":         s.Deleted,
		"orphanedDeleted": s.OrphanedDeleted,
		"errors":          s.Errors,
		"rateLimited":     s.RateLimited,
		"totalCards":      s.TotalCards,
		"incremental":     s.Incremental,
	}
	if s.LastSyncAt != nil {
		j["lastSyncAt"] = s.LastSyncAt.UTC().Format(time.RFC3339)
	}
	return j
}

// TenantSnapshot is the agency state captured once at pass start. The pass never
// re-reads tenant configuration, so concurrent edits apply from the next pass on.
type TenantSnapshot struct {
	AgencyID    string
	Credentials BoardCredentials
	BoardID     string
	Mapping     models.ListMapping
	Checkpoint  *time.Time
}

type ReconcilerConfig struct {
	Concurrency int           // cards processed at once; 1 keeps listing order
	CardDelay   time.Duration // pause before each card after the first
	BatchPause  time.Duration // replaces CardDelay every BatchSize cards
	BatchSize   int
	LeaseTTL    time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Concurrency: 1,
		CardDelay:   100 * time.Millisecond,
		BatchPause:  2 * time.Second,
		BatchSize:   10,
		LeaseTTL:    10 * time.Minute,
	}
}

type cardOutcome int

const (
	outcomeError cardOutcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeDeleted
	outcomeAlreadyGone
)

func (o cardOutcome) String() string {
	switch o {
	case outcomeCreated:
		return "created"
	case outcomeUpdated:
		return "updated"
	case outcomeDeleted:
		return "deleted"
	case outcomeAlreadyGone:
		return "already_gone"
	default:
		return "error"
	}
}

// Reconciler runs sync passes that bring an agency's Trello-sourced leads in line with its board
type Reconciler struct {
	tenants     TenantStore
	leads       LeadStore
	checkpoints CheckpointStore
	board       BoardClient
	fetcher     *CardFetcher
	resolver    *ListMappingResolver
	runs        SyncRunRecorder
	locker      Locker
	notifiers   []Notifier
	cfg         ReconcilerConfig
	now         func() time.Time
	sleep       SleepFunc
}

func NewReconciler(
	tenants TenantStore,
	leads LeadStore,
	checkpoints CheckpointStore,
	board BoardClient,
	fetcher *CardFetcher,
	cfg ReconcilerConfig,
) *Reconciler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Reconciler{
		tenants:     tenants,
		leads:       leads,
		checkpoints: checkpoints,
		board:       board,
		fetcher:     fetcher,
		resolver:    NewListMappingResolver(nil),
		cfg:         cfg,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func (r *Reconciler) WithRunRecorder(runs SyncRunRecorder) *Reconciler {
	r.runs = runs
	return r
}

func (r *Reconciler) WithLocker(locker Locker) *Reconciler {
	r.locker = locker
	return r
}

func (r *Reconciler) WithNotifiers(n ...Notifier) *Reconciler {
	r.notifiers = append(r.notifiers, n...)
	return r
}

// WithClock and WithSleep are used by tests
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

func (r *Reconciler) WithSleep(sleep SleepFunc) *Reconciler {
	r.sleep = sleep
	return r
}

// Run executes one pass for the agency. It returns ErrTenantNotFound, ErrNotConfigured,
// ErrSyncInProgress, an error wrapping ErrBoardTransport, or a context error; per-card
// failures only show up in the summary.
func (r *Reconciler) Run(ctx context.Context, req SyncRequest) (*SyncSummary, error) {
	ctx = logging.WithAgency(ctx, req.AgencyID)
	log := logging.Ctx(ctx)

	agency, err := r.tenants.GetByID(ctx, req.AgencyID)
	if err != nil {
		return nil, err
	}
	if !agency.TrelloConfigured() {
		return nil, ErrNotConfigured
	}

	if r.locker != nil {
		holder := uuid.NewString()
		ok, err := r.locker.Acquire(ctx, agency.ID, holder, r.cfg.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sync lease: %w", err)
		}
		if !ok {
			return nil, ErrSyncInProgress
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := r.locker.Release(releaseCtx, agency.ID, holder); err != nil {
				log.Warn().Err(err).Msg("Failed to release sync lease")
			}
		}()
	}

	checkpoint, err := r.checkpoints.Get(ctx, agency.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	snap := TenantSnapshot{
		AgencyID:    agency.ID,
		Credentials: BoardCredentials{APIKey: *agency.TrelloAPIKey, Token: *agency.TrelloToken},
		BoardID:     *agency.TrelloBoardID,
		Mapping:     agency.TrelloListMapping.Clone(),
		Checkpoint:  checkpoint,
	}
	incremental := !req.ForceFullSync && checkpoint != nil

	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	runID := r.startRun(ctx, agency.ID, incremental, trigger)

	mode := "full"
	if incremental {
		mode = "incremental"
	}
	log.Info().Str("mode", mode).Str("run_id", runID).Msg("Starting Trello sync")

	started := time.Now()
	summary, err := r.reconcile(ctx, snap, incremental)
	elapsed := time.Since(started)

	if err != nil {
		metrics.RecordSyncPass(mode, "failed", elapsed)
		r.finishRun(ctx, runID, models.SyncRunStatusFailed, summary, err)
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("Trello sync failed")
		return nil, err
	}

	metrics.RecordSyncPass(mode, "completed", elapsed)
	metrics.RecordSyncCounts(summary.Deleted, summary.OrphanedDeleted, summary.RateLimited)
	r.finishRun(ctx, runID, models.SyncRunStatusCompleted, summary, nil)

	log.Info().
		Int("total", summary.Total).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("deleted", summary.Deleted).
		Int("orphaned_deleted", summary.OrphanedDeleted).
		Int("errors", summary.Errors).
		Int("rate_limited", summary.RateLimited).
		Int("total_cards", summary.TotalCards).
		Dur("elapsed", elapsed).
		Msg("Trello sync completed")

	r.notify(ctx, SyncCompletedEvent{AgencyID: agency.ID, RunID: runID, Summary: *summary, FinishedAt: r.now()})

	return summary, nil
}

func (r *Reconciler) reconcile(ctx context.Context, snap TenantSnapshot, incremental bool) (*SyncSummary, error) {
	log := logging.Ctx(ctx)
	passStart := r.now()

	cards, err := r.board.FetchOpenCards(ctx, snap.Credentials, snap.BoardID)
	if err != nil {
		return nil, transportError("fetch open cards", err)
	}
	lists, err := r.board.FetchOpenLists(ctx, snap.Credentials, snap.BoardID)
	if err != nil {
		return nil, transportError("fetch open lists", err)
	}

	mapping, added := r.resolver.Resolve(snap.Mapping, lists)
	if added > 0 {
		if err := r.tenants.UpdateListMapping(ctx, snap.AgencyID, mapping); err != nil {
			// the in-memory mapping still drives this pass; the next pass retries the write
			log.Warn().Err(err).Int("added", added).Msg("Failed to persist list mapping")
		} else {
			log.Info().Int("added", added).Msg("Classified new Trello lists")
		}
	}

	listNames := make(map[string]string, len(lists))
	for _, l := range lists {
		listNames[l.ID] = l.Name
	}

	filtered := cards
	if incremental {
		filtered = FilterSince(cards, *snap.Checkpoint)
	}

	summary := &SyncSummary{TotalCards: len(cards), Incremental: incremental}
	r.processCards(ctx, snap, mapping, listNames, filtered, summary)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("sync pass interrupted: %w", err)
	}

	if !incremental {
		r.sweepOrphans(ctx, snap.AgencyID, lists, cards, summary)
	}

	summary.LastSyncAt = snap.Checkpoint
	if summary.Total > 0 || summary.Errors == 0 {
		next := passStart
		if snap.Checkpoint != nil && snap.Checkpoint.After(next) {
			next = *snap.Checkpoint
		}
		if err := r.checkpoints.Set(ctx, snap.AgencyID, next); err != nil {
			log.Error().Err(err).Msg("Failed to advance sync checkpoint")
		} else {
			summary.LastSyncAt = &next
		}
	} else {
		log.Warn().Int("errors", summary.Errors).Msg("Every card failed, checkpoint not advanced")
	}

	return summary, nil
}

// FilterSince keeps cards active at or after since. Cards without an activity
// timestamp are kept.
func FilterSince(cards []BoardCard, since time.Time) []BoardCard {
	out := make([]BoardCard, 0, len(cards))
	for _, c := range cards {
		if c.DateLastActivity == nil || !c.DateLastActivity.Before(since) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Reconciler) processCards(ctx context.Context, snap TenantSnapshot, mapping models.ListMapping, listNames map[string]string, cards []BoardCard, summary *SyncSummary) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for i, card := range cards {
		if ctx.Err() != nil {
			break
		}
		pause := r.pauseBefore(i)
		g.Go(func() error {
			if err := r.sleep(ctx, pause); err != nil {
				return nil
			}
			outcome, rateLimited := r.syncCard(ctx, snap, mapping, listNames, card)
			metrics.RecordCard(outcome.String())

			mu.Lock()
			defer mu.Unlock()
			summary.RateLimited += rateLimited
			switch outcome {
			case outcomeCreated:
				summary.Created++
			case outcomeUpdated:
				summary.Updated++
			case outcomeDeleted:
				summary.Deleted++
			case outcomeError:
				summary.Errors++
				return nil
			}
			summary.Total++
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reconciler) pauseBefore(i int) time.Duration {
	if i == 0 {
		return 0
	}
	if r.cfg.BatchSize > 0 && i%r.cfg.BatchSize == 0 {
		return r.cfg.BatchPause
	}
	return r.cfg.CardDelay
}

// syncCard never panics or returns an error; every failure becomes outcomeError
func (r *Reconciler) syncCard(ctx context.Context, snap TenantSnapshot, mapping models.ListMapping, listNames map[string]string, card BoardCard) (outcome cardOutcome, rateLimited int) {
	log := logging.Ctx(ctx).With().Str("card_id", card.ID).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("stack", string(debug.Stack())).Msg("Panic while syncing card")
			outcome = outcomeError
		}
	}()

	res, err := r.fetcher.Fetch(ctx, snap.Credentials, card.ID)
	rateLimited = res.RateLimited
	if errors.Is(err, ErrCardNotFound) {
		return r.deleteCard(ctx, snap.AgencyID, card.ID), rateLimited
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch card")
		return outcomeError, rateLimited
	}
	detail := res.Card
	if detail == nil {
		log.Warn().Msg("Board returned an empty card payload")
		return outcomeError, rateLimited
	}
	if detail.Closed {
		return r.deleteCard(ctx, snap.AgencyID, card.ID), rateLimited
	}

	listID := detail.ListID
	if listID == "" {
		listID = card.ListID
	}
	if listID == "" {
		log.Warn().Msg("Card has no list, skipping")
		return outcomeError, rateLimited
	}

	fields := r.syncFields(ctx, detail, card, listID, mapping, listNames)

	existing, err := r.leads.FindByExternalID(ctx, snap.AgencyID, card.ID, models.LeadSourceTrello)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to look up lead")
		return outcomeError, rateLimited
	}

	if existing == nil {
		externalID := card.ID
		lead := &models.Lead{
			ID:                  uuid.NewString(),
			AgencyID:            snap.AgencyID,
			ExternalID:          &externalID,
			Source:              models.LeadSourceTrello,
			Status:              fields.Status,
			Region:              fields.Region,
			ContactName:         fields.ContactName,
			ExternalListID:      &listID,
			ListName:            fields.ListName,
			ExternalDescription: fields.ExternalDescription,
			ExternalURL:         fields.ExternalURL,
			Labels:              fields.Labels,
			DueAt:               fields.DueAt,
			LastActivityAt:      fields.LastActivityAt,
		}
		if err := r.leads.Create(ctx, lead); err != nil {
			log.Warn().Err(err).Msg("Failed to create lead")
			return outcomeError, rateLimited
		}
		return outcomeCreated, rateLimited
	}

	if err := r.leads.UpdateSyncedFields(ctx, snap.AgencyID, existing.ID, fields); err != nil {
		log.Warn().Err(err).Str("lead_id", existing.ID).Msg("Failed to update lead")
		return outcomeError, rateLimited
	}
	return outcomeUpdated, rateLimited
}

func (r *Reconciler) syncFields(ctx context.Context, detail *CardDetail, card BoardCard, listID string, mapping models.ListMapping, listNames map[string]string) LeadSyncFields {
	stage := DefaultStage
	var region *string
	if entry, ok := mapping[listID]; ok {
		if entry.Stage != "" {
			stage = entry.Stage
		}
		if entry.Region != nil {
			rg := *entry.Region
			region = &rg
		}
	} else {
		logging.Ctx(ctx).Warn().Str("list_id", listID).Msg("List not in mapping, using default stage")
	}

	fields := LeadSyncFields{
		Status:         stage,
		Region:         region,
		ContactName:    detail.Name,
		ExternalListID: listID,
		Labels:         models.StringList(detail.Labels),
		DueAt:          detail.Due,
		LastActivityAt: detail.DateLastActivity,
	}
	if fields.ContactName == "" {
		fields.ContactName = card.Name
	}
	if fields.LastActivityAt == nil {
		fields.LastActivityAt = card.DateLastActivity
	}
	if name, ok := listNames[listID]; ok {
		fields.ListName = &name
	}
	if detail.Description != "" {
		desc := detail.Description
		fields.ExternalDescription = &desc
	}
	if detail.ShortURL != "" {
		u := detail.ShortURL
		fields.ExternalURL = &u
	}
	return fields
}

func (r *Reconciler) deleteCard(ctx context.Context, agencyID, cardID string) cardOutcome {
	n, err := r.leads.DeleteByExternalID(ctx, agencyID, cardID, models.LeadSourceTrello)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("card_id", cardID).Msg("Failed to delete lead for removed card")
		return outcomeError
	}
	if n == 0 {
		return outcomeAlreadyGone
	}
	return outcomeDeleted
}

func (r *Reconciler) sweepOrphans(ctx context.Context, agencyID string, lists []BoardList, cards []BoardCard, summary *SyncSummary) {
	log := logging.Ctx(ctx)

	listIDs := make([]string, 0, len(lists))
	for _, l := range lists {
		listIDs = append(listIDs, l.ID)
	}
	n, err := r.leads.DeleteNotInLists(ctx, agencyID, models.LeadSourceTrello, listIDs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete leads on closed lists")
		summary.Errors++
	} else {
		summary.OrphanedDeleted += int(n)
	}

	cardIDs := make([]string, 0, len(cards))
	for _, c := range cards {
		cardIDs = append(cardIDs, c.ID)
	}
	n, err = r.leads.DeleteNotInCards(ctx, agencyID, models.LeadSourceTrello, cardIDs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete leads for vanished cards")
		summary.Errors++
	} else {
		summary.OrphanedDeleted += int(n)
	}

	if summary.OrphanedDeleted > 0 {
		log.Info().Int("orphaned_deleted", summary.OrphanedDeleted).Msg("Removed orphaned leads")
	}
}

func (r *Reconciler) startRun(ctx context.Context, agencyID string, incremental bool, trigger string) string {
	runID := uuid.NewString()
	if r.runs == nil {
		return runID
	}
	run := &models.SyncRun{
		ID:          runID,
		AgencyID:    agencyID,
		Status:      models.SyncRunStatusRunning,
		Incremental: incremental,
		Trigger:     trigger,
		StartedAt:   r.now(),
	}
	if err := r.runs.Start(ctx, run); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to record sync run start")
	}
	return runID
}

func (r *Reconciler) finishRun(ctx context.Context, runID string, status models.SyncRunStatus, summary *SyncSummary, runErr error) {
	if r.runs == nil {
		return
	}
	var summaryJSON models.JSONB
	if summary != nil {
		summaryJSON = summary.toJSONB()
	}
	var lastError *string
	if runErr != nil {
		msg := runErr.Error()
		lastError = &msg
	}
	// the pass context may already be past its deadline
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.runs.Finish(finishCtx, runID, status, summaryJSON, lastError); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to record sync run result")
	}
}

func (r *Reconciler) notify(ctx context.Context, event SyncCompletedEvent) {
	for _, n := range r.notifiers {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := n.NotifySyncCompleted(nctx, event); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to publish sync event")
		}
		cancel()
	}
}

func transportError(op string, err error) error {
	if errors.Is(err, ErrBoardTransport) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", ErrBoardTransport, op, err)
}
