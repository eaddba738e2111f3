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

type AgencyRepository struct {
	db *gorm.DB
}

func NewAgencyRepository(db *gorm.DB) *AgencyRepository {
	return &AgencyRepository{db: db}
}

// GetByID retrieves agency by ID
func (r *AgencyRepository) GetByID(ctx context.Context, agencyID string) (*models.Agency, error) {
	var agency models.Agency
	result := r.db.WithContext(ctx).First(&agency, "id = ?", agencyID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, service.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get agency: %w", result.Error)
	}
	if agency.TrelloListMapping == nil {
		agency.TrelloListMapping = models.ListMapping{}
	}
	return &agency, nil
}

// ListAutoSync returns agencies that opted into scheduled Trello sync
func (r *AgencyRepository) ListAutoSync(ctx context.Context) ([]models.Agency, error) {
	var agencies []models.Agency
	result := r.db.WithContext(ctx).
		Where("trello_auto_sync = ?", true).
		Where("trello_board_id IS NOT NULL AND trello_board_id <> ''").
		Order("id ASC").
		Find(&agencies)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list auto-sync agencies: %w", result.Error)
	}
	return agencies, nil
}

// UpdateListMapping replaces the stored list mapping
func (r *AgencyRepository) UpdateListMapping(ctx context.Context, agencyID string, mapping models.ListMapping) error {
	result := r.db.WithContext(ctx).Model(&models.Agency{}).
		Where("id = ?", agencyID).
		Updates(map[string]interface{}{
			"trello_list_mapping": mapping,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update list mapping: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return service.ErrTenantNotFound
	}
	return nil
}
