package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/models"
	"github.com/vipul43/leadsync/internal/service"
)

const manychatSecretHeader = "X-Manychat-Secret"

type TenantReader interface {
	GetByID(ctx context.Context, agencyID string) (*models.Agency, error)
}

type LeadCreator interface {
	Create(ctx context.Context, lead *models.Lead) error
}

type manychatLead struct {
	AgencyID string `json:"agencyId" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
	Phone    string `json:"phone" validate:"omitempty,max=50"`
	Email    string `json:"email" validate:"omitempty,email"`
	Region   string `json:"region" validate:"omitempty"`
	Message  string `json:"message" validate:"omitempty,max=4000"`
}

// ManychatHandler captures organic leads from the Manychat chatbot
type ManychatHandler struct {
	secret  string
	tenants TenantReader
	leads   LeadCreator
}

func NewManychatHandler(secret string, tenants TenantReader, leads LeadCreator) *ManychatHandler {
	return &ManychatHandler{secret: secret, tenants: tenants, leads: leads}
}

// ServeHTTP handles POST /api/webhooks/manychat
func (h *ManychatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		respondError(w, http.StatusServiceUnavailable, "manychat webhook is disabled")
		return
	}
	given := r.Header.Get(manychatSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var in manychatLead
	if err := decodeAndValidate(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	region := strings.ToUpper(strings.TrimSpace(in.Region))
	if region != "" && !models.ValidRegion(region) {
		respondError(w, http.StatusBadRequest, "unknown region "+in.Region)
		return
	}

	ctx := logging.WithAgency(r.Context(), in.AgencyID)
	if _, err := h.tenants.GetByID(ctx, in.AgencyID); err != nil {
		if errors.Is(err, service.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to load agency for Manychat lead")
		respondError(w, http.StatusInternalServerError, "failed to create lead")
		return
	}

	lead := &models.Lead{
		ID:          uuid.NewString(),
		AgencyID:    in.AgencyID,
		Source:      models.LeadSourceManychat,
		Status:      models.LeadStatusNew,
		ContactName: in.Name,
		Labels:      models.StringList{},
	}
	if region != "" {
		lead.Region = &region
	}
	if in.Phone != "" {
		lead.ContactPhone = &in.Phone
	}
	if in.Email != "" {
		lead.ContactEmail = &in.Email
	}
	if in.Message != "" {
		lead.Notes = &in.Message
	}

	if err := h.leads.Create(ctx, lead); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to create Manychat lead")
		respondError(w, http.StatusInternalServerError, "failed to create lead")
		return
	}

	logging.Ctx(ctx).Info().Str("lead_id", lead.ID).Msg("Manychat lead captured")
	respondJSON(w, http.StatusCreated, lead)
}
