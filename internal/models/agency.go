package models

import (
	"database/sql/driver"
	"time"

	"github.com/goccy/go-json"
)

// ListMappingEntry is the stage and optional region assigned to one board list
type ListMappingEntry struct {
	Stage  string  `json:"stage"`
	Region *string `json:"region,omitempty"`
}

// ListMapping maps a board list id to its entry
type ListMapping map[string]ListMappingEntry

// Clone returns an independent copy
func (m ListMapping) Clone() ListMapping {
	out := make(ListMapping, len(m))
	for k, v := range m {
		if v.Region != nil {
			r := *v.Region
			v.Region = &r
		}
		out[k] = v
	}
	return out
}

func (m ListMapping) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]ListMappingEntry(m))
}

func (m *ListMapping) Scan(value interface{}) error {
	if value == nil {
		*m = ListMapping{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, (*map[string]ListMappingEntry)(m))
}

// Agency is a tenant with its Trello board settings
type Agency struct {
	ID                string      `gorm:"column:id;primaryKey"`
	Name              string      `gorm:"column:name"`
	TrelloAPIKey      *string     `gorm:"column:trello_api_key"`
	TrelloToken       *string     `gorm:"column:trello_token"`
	TrelloBoardID     *string     `gorm:"column:trello_board_id"`
	TrelloListMapping ListMapping `gorm:"column:trello_list_mapping;type:jsonb"`
	TrelloAutoSync    bool        `gorm:"column:trello_auto_sync"`
	CreatedAt         time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Agency) TableName() string {
	return "agencies"
}

// TrelloConfigured reports whether the agency has board credentials and a board id
func (a *Agency) TrelloConfigured() bool {
	return nonEmpty(a.TrelloAPIKey) && nonEmpty(a.TrelloToken) && nonEmpty(a.TrelloBoardID)
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}
