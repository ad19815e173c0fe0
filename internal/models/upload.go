package models

import "time"

// UploadStatus captures upload lifecycle states.
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusError      UploadStatus = "error"
)

// Upload is a persisted spreadsheet upload and its processing outcome.
type Upload struct {
	ID            string       `db:"id" json:"id"`
	UserID        string       `db:"user_id" json:"user_id"`
	Filename      string       `db:"filename" json:"filename"`
	StoragePath   string       `db:"storage_path" json:"storage_path"`
	Status        UploadStatus `db:"status" json:"status"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	CompletedAt   *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	NumStudents   *int         `db:"num_students" json:"num_students,omitempty"`
	OutputFileURL *string      `db:"output_file_url" json:"output_file_url,omitempty"`
	OutputFileKey *string      `db:"output_file_key" json:"-"`
	ErrorMessage  *string      `db:"error_message" json:"error_message,omitempty"`
}
