package models

import "time"

// Usage tracks how many reports a user has generated. The report count only
// ever increases.
type Usage struct {
	UserID      string    `db:"user_id" json:"user_id"`
	ReportCount int       `db:"report_count" json:"report_count"`
	FirstUsedAt time.Time `db:"first_used_at" json:"first_used_at"`
	LastUsedAt  time.Time `db:"last_used_at" json:"last_used_at"`
}
