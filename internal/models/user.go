package models

import "time"

// User represents a teacher account stored in the users table.
type User struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	FullName      string     `db:"full_name" json:"full_name"`
	EmailVerified bool       `db:"email_verified" json:"email_verified"`
	Active        bool       `db:"active" json:"active"`
	LastLogin     *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// AuditAction enumerates audit log event types.
type AuditAction string

const (
	AuditActionSignup AuditAction = "SIGNUP"
	AuditActionVerify AuditAction = "VERIFY_EMAIL"
	AuditActionLogin  AuditAction = "LOGIN"
	AuditActionLogout AuditAction = "LOGOUT"
)

// AuditLog records authentication events.
type AuditLog struct {
	ID        string      `db:"id" json:"id"`
	UserID    *string     `db:"user_id" json:"user_id,omitempty"`
	Action    AuditAction `db:"action" json:"action"`
	IPAddress string      `db:"ip_address" json:"ip_address"`
	UserAgent string      `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
