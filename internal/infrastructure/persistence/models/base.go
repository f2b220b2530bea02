package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// encodeJSONMap serializes a map column; nil and empty maps become "{}"
func encodeJSONMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// decodeJSONMap parses a map column, tolerating empty or malformed values
func decodeJSONMap(s string) map[string]any {
	m := make(map[string]any)
	if s == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return make(map[string]any)
	}
	return m
}
