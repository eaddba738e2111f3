package models

import "time"

// Pipeline stage constants
const (
	LeadStatusNew        = "NEW"
	LeadStatusInProgress = "IN_PROGRESS"
	LeadStatusQuoted     = "QUOTED"
	LeadStatusWon        = "WON"
	LeadStatusLost       = "LOST"
)

// Destination region constants
const (
	RegionArgentina = "ARGENTINA"
	RegionBrasil    = "BRASIL"
	RegionCaribe    = "CARIBE"
	RegionEuropa    = "EUROPA"
	RegionEEUU      = "EEUU"
	RegionCruceros  = "CRUCEROS"
	RegionOtros     = "OTROS"
)

// Lead source constants
const (
	LeadSourceTrello   = "Trello"
	LeadSourceManychat = "Manychat"
	LeadSourceOther    = "Other"
)

// ValidRegion reports whether r is one of the known destination regions
func ValidRegion(r string) bool {
	switch r {
	case RegionArgentina, RegionBrasil, RegionCaribe, RegionEuropa, RegionEEUU, RegionCruceros, RegionOtros:
		return true
	}
	return false
}

// Lead is a sales prospect. ExternalID/Source identify its board card when it came from Trello.
// AssignedSellerID and Notes are owned by the back-office and never written by sync.
type Lead struct {
	ID                  string     `gorm:"column:id;primaryKey" json:"id"`
	AgencyID            string     `gorm:"column:agency_id;index" json:"agencyId"`
	ExternalID          *string    `gorm:"column:external_id" json:"externalId,omitempty"`
	Source              string     `gorm:"column:source" json:"source"`
	Status              string     `gorm:"column:status;index" json:"status"`
	Region              *string    `gorm:"column:region" json:"region,omitempty"`
	ContactName         string     `gorm:"column:contact_name" json:"contactName"`
	ContactPhone        *string    `gorm:"column:contact_phone" json:"contactPhone,omitempty"`
	ContactEmail        *string    `gorm:"column:contact_email" json:"contactEmail,omitempty"`
	ExternalListID      *string    `gorm:"column:external_list_id" json:"externalListId,omitempty"`
	ListName            *string    `gorm:"column:list_name" json:"listName,omitempty"`
	ExternalDescription *string    `gorm:"column:external_description" json:"externalDescription,omitempty"`
	ExternalURL         *string    `gorm:"column:external_url" json:"externalUrl,omitempty"`
	Labels              StringList `gorm:"column:labels;type:jsonb" json:"labels"`
	DueAt               *time.Time `gorm:"column:due_at" json:"dueAt,omitempty"`
	LastActivityAt      *time.Time `gorm:"column:last_activity_at" json:"lastActivityAt,omitempty"`
	AssignedSellerID    *string    `gorm:"column:assigned_seller_id" json:"assignedSellerId,omitempty"`
	Notes               *string    `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Lead) TableName() string {
	return "leads"
}
