package domain

import "time"

// Idempotency records the outcome of a redemption keyed by
// (profile_id, access_code, key). A client that retries with the same
// Idempotency-Key receives the originally created submission instead of
// spending quota a second time.
type Idempotency struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	TenantID     string    `gorm:"column:profile_id;type:char(36);not null;uniqueIndex:ux_idem_profile_code_key,priority:1"`
	AccessCode   string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_profile_code_key,priority:2"`
	Key          string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_profile_code_key,priority:3"`
	SubmissionID string    `gorm:"type:char(36);not null"`
	Status       int       `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt    time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
