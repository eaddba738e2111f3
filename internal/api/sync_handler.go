package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/service"
)

// SyncRunner runs one reconciliation pass
type SyncRunner interface {
	Run(ctx context.Context, req service.SyncRequest) (*service.SyncSummary, error)
}

type syncRequest struct {
	AgencyID      string `json:"agencyId" validate:"required"`
	ForceFullSync bool   `json:"forceFullSync"`
}

type SyncHandler struct {
	runner      SyncRunner
	timeout     time.Duration
	exposeStack bool
}

// NewSyncHandler builds the manual sync trigger. exposeStack adds panic stacks
// to 500 responses and must stay off in production.
func NewSyncHandler(runner SyncRunner, timeout time.Duration, exposeStack bool) *SyncHandler {
	return &SyncHandler{runner: runner, timeout: timeout, exposeStack: exposeStack}
}

// ServeHTTP handles POST /api/trello/sync
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !authorizeAgency(w, r, req.AgencyID) {
		return
	}

	ctx := logging.WithAgency(r.Context(), req.AgencyID)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	summary, stack, err := h.run(ctx, service.SyncRequest{
		AgencyID:      req.AgencyID,
		ForceFullSync: req.ForceFullSync,
		Trigger:       service.TriggerManual,
	})
	if err != nil {
		h.respondSyncError(w, r, err, stack)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *SyncHandler) run(ctx context.Context, req service.SyncRequest) (summary *service.SyncSummary, stack []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			stack = debug.Stack()
			err = fmt.Errorf("sync panicked: %v", p)
		}
	}()
	summary, err = h.runner.Run(ctx, req)
	return summary, nil, err
}

func (h *SyncHandler) respondSyncError(w http.ResponseWriter, r *http.Request, err error, stack []byte) {
	log := logging.Ctx(r.Context())

	switch {
	case errors.Is(err, service.ErrTenantNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotConfigured):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrSyncInProgress):
		respondError(w, http.StatusConflict, service.ErrSyncInProgress.Error())
	case errors.Is(err, service.ErrBoardTimeout), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("Trello sync timed out")
		respondJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error(), Timeout: true})
	case errors.Is(err, service.ErrBoardTransport):
		// rejected by Trello or failed upstream
		log.Warn().Err(err).Msg("Trello listing failed")
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("Trello sync failed")
		body := errorBody{Error: err.Error()}
		if h.exposeStack && stack != nil {
			body.Stack = string(stack)
		}
		respondJSON(w, http.StatusInternalServerError, body)
	}
}
