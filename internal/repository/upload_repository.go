package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/homegroup-report-api/internal/models"
)

// UploadRepository persists spreadsheet uploads and their processing outcome.
type UploadRepository struct {
	db *sqlx.DB
}

// NewUploadRepository constructs the repository.
func NewUploadRepository(db *sqlx.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create inserts a new upload row with generated defaults.
func (r *UploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	if upload.ID == "" {
		upload.ID = uuid.NewString()
	}
	if upload.Status == "" {
		upload.Status = models.UploadStatusPending
	}
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO uploads (id, user_id, filename, storage_path, status, created_at, completed_at, num_students, output_file_url, output_file_key, error_message)
VALUES (:id, :user_id, :filename, :storage_path, :status, :created_at, :completed_at, :num_students, :output_file_url, :output_file_key, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, upload); err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

// GetByID returns an upload row scoped to its owner.
func (r *UploadRepository) GetByID(ctx context.Context, id, userID string) (*models.Upload, error) {
	const query = `SELECT id, user_id, filename, storage_path, status, created_at, completed_at, num_students, output_file_url, output_file_key, error_message
FROM uploads WHERE id = $1 AND user_id = $2`
	var upload models.Upload
	if err := r.db.GetContext(ctx, &upload, query, id, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return &upload, nil
}

// Latest returns the most recent upload for a user, regardless of status.
func (r *UploadRepository) Latest(ctx context.Context, userID string) (*models.Upload, error) {
	const query = `SELECT id, user_id, filename, storage_path, status, created_at, completed_at, num_students, output_file_url, output_file_key, error_message
FROM uploads WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	var upload models.Upload
	if err := r.db.GetContext(ctx, &upload, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("latest upload: %w", err)
	}
	return &upload, nil
}

// List returns all uploads for a user, newest first.
func (r *UploadRepository) List(ctx context.Context, userID string) ([]models.Upload, error) {
	const query = `SELECT id, user_id, filename, storage_path, status, created_at, completed_at, num_students, output_file_url, output_file_key, error_message
FROM uploads WHERE user_id = $1 ORDER BY created_at DESC`
	var uploads []models.Upload
	if err := r.db.SelectContext(ctx, &uploads, query, userID); err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return uploads, nil
}

// ListCompleted returns uploads that produced a report document, newest first.
func (r *UploadRepository) ListCompleted(ctx context.Context, userID string) ([]models.Upload, error) {
	const query = `SELECT id, user_id, filename, storage_path, status, created_at, completed_at, num_students, output_file_url, output_file_key, error_message
FROM uploads WHERE user_id = $1 AND status = 'completed' ORDER BY created_at DESC`
	var uploads []models.Upload
	if err := r.db.SelectContext(ctx, &uploads, query, userID); err != nil {
		return nil, fmt.Errorf("list completed uploads: %w", err)
	}
	return uploads, nil
}

// UpdateUploadParams defines the mutable fields.
type UpdateUploadParams struct {
	Status        *models.UploadStatus
	CompletedAt   *time.Time
	NumStudents   *int
	OutputFileURL *string
	OutputFileKey *string
	ErrorMessage  *string
}

// Update persists the provided changes for an upload row.
func (r *UploadRepository) Update(ctx context.Context, id string, params UpdateUploadParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.CompletedAt != nil {
		set = append(set, fmt.Sprintf("completed_at = $%d", argPos))
		args = append(args, *params.CompletedAt)
		argPos++
	}
	if params.NumStudents != nil {
		set = append(set, fmt.Sprintf("num_students = $%d", argPos))
		args = append(args, *params.NumStudents)
		argPos++
	}
	if params.OutputFileURL != nil {
		set = append(set, fmt.Sprintf("output_file_url = $%d", argPos))
		args = append(args, *params.OutputFileURL)
		argPos++
	}
	if params.OutputFileKey != nil {
		set = append(set, fmt.Sprintf("output_file_key = $%d", argPos))
		args = append(args, *params.OutputFileKey)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE uploads SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	return nil
}

// Delete removes an upload row scoped to its owner. Deleting an absent row
// is not an error.
func (r *UploadRepository) Delete(ctx context.Context, id, userID string) error {
	const query = `DELETE FROM uploads WHERE id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}
