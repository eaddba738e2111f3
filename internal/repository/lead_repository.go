package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/leadsync/internal/models"
	"github.com/vipul43/leadsync/internal/service"
	"gorm.io/gorm"
)

type LeadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create creates a new lead
func (r *LeadRepository) Create(ctx context.Context, lead *models.Lead) error {
	if err := r.db.WithContext(ctx).Create(lead).Error; err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

// FindByExternalID returns the lead mirrored from an external item, or nil if there is none
func (r *LeadRepository) FindByExternalID(ctx context.Context, agencyID, externalID, source string) (*models.Lead, error) {
	var lead models.Lead
	result := r.db.WithContext(ctx).
		Where("agency_id = ? AND external_id = ? AND source = ?", agencyID, externalID, source).
		First(&lead)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find lead: %w", result.Error)
	}
	return &lead, nil
}

// UpdateSyncedFields writes only sync-owned columns. Region and list name are
// left alone when the board gave no value for them.
func (r *LeadRepository) UpdateSyncedFields(ctx context.Context, agencyID, leadID string, f service.LeadSyncFields) error {
	updates := syncedFieldUpdates(f)
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND agency_id = ?", leadID, agencyID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update lead: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lead %s not found", leadID)
	}
	return nil
}

func syncedFieldUpdates(f service.LeadSyncFields) map[string]interface{} {
	updates := map[string]interface{}{
		"status":               f.Status,
		"contact_name":         f.ContactName,
		"external_list_id":     f.ExternalListID,
		"external_description": f.ExternalDescription,
		"external_url":         f.ExternalURL,
		"labels":               f.Labels,
		"due_at":               f.DueAt,
		"last_activity_at":     f.LastActivityAt,
	}
	if f.Region != nil {
		updates["region"] = *f.Region
	}
	if f.ListName != nil {
		updates["list_name"] = *f.ListName
	}
	return updates
}

// DeleteByExternalID removes the lead mirrored from one external item
func (r *LeadRepository) DeleteByExternalID(ctx context.Context, agencyID, externalID, source string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("agency_id = ? AND external_id = ? AND source = ?", agencyID, externalID, source).
		Delete(&models.Lead{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete lead: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteNotInLists removes leads whose cached list is not among openListIDs.
// Leads with no cached list are kept.
func (r *LeadRepository) DeleteNotInLists(ctx context.Context, agencyID, source string, openListIDs []string) (int64, error) {
	q := r.db.WithContext(ctx).
		Where("agency_id = ? AND source = ? AND external_list_id IS NOT NULL", agencyID, source)
	// NOT IN () would match nothing, so an empty board needs its own branch
	if len(openListIDs) > 0 {
		q = q.Where("external_list_id NOT IN ?", openListIDs)
	}
	result := q.Delete(&models.Lead{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete leads on closed lists: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteNotInCards removes leads whose external id is not among cardIDs
func (r *LeadRepository) DeleteNotInCards(ctx context.Context, agencyID, source string, cardIDs []string) (int64, error) {
	q := r.db.WithContext(ctx).
		Where("agency_id = ? AND source = ? AND external_id IS NOT NULL", agencyID, source)
	if len(cardIDs) > 0 {
		q = q.Where("external_id NOT IN ?", cardIDs)
	}
	result := q.Delete(&models.Lead{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete leads for vanished cards: %w", result.Error)
	}
	return result.RowsAffected, nil
}
