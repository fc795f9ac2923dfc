// Package project owns rule-set persistence: projects, their ordered rule
// sets, and the governance-gated save flow.
package project

import (
	"time"

	"github.com/google/uuid"
)

// Project groups the rules authored for one resource type. ResourceType is
// the default target for coverage analysis; individual rules may target any
// type in the record.
type Project struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	ResourceType string    `json:"resourceType"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
