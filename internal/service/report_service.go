package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
)

type reportUploadRepository interface {
	ListCompleted(ctx context.Context, userID string) ([]models.Upload, error)
	GetByID(ctx context.Context, id, userID string) (*models.Upload, error)
	Delete(ctx context.Context, id, userID string) error
}

type reportUsageRepository interface {
	Get(ctx context.Context, userID string) (*models.Usage, error)
}

type reportBlobStore interface {
	Delete(ctx context.Context, name, ownerID string) error
	DeleteKey(ctx context.Context, key string) error
	PresignedURL(key string) (string, error)
	TemplateURL() (string, error)
}

type downloadTokenSigner interface {
	Generate(uploadID, objectKey string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (uploadID, objectKey string, expiresAt time.Time, err error)
}

// ReportItem describes one generated report in a listing.
type ReportItem struct {
	UploadID      string     `json:"upload_id"`
	Filename      string     `json:"filename"`
	NumStudents   int        `json:"num_students"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DownloadToken string     `json:"download_token"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// UsageStats is the response shape for the usage endpoint.
type UsageStats struct {
	ReportCount int        `json:"report_count"`
	FirstUsedAt *time.Time `json:"first_used_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// ReportService serves generated report documents: listing, deletion,
// signed download resolution, the blank template, and usage stats.
type ReportService struct {
	uploads  reportUploadRepository
	usage    reportUsageRepository
	store    reportBlobStore
	signer   downloadTokenSigner
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewReportService constructs the service. The cache client is optional;
// when nil every listing hits the database.
func NewReportService(
	uploads reportUploadRepository,
	usage reportUsageRepository,
	store reportBlobStore,
	signer downloadTokenSigner,
	cache *redis.Client,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &ReportService{
		uploads:  uploads,
		usage:    usage,
		store:    store,
		signer:   signer,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func listCacheKey(userID string) string {
	return "reports:list:" + userID
}

// List returns the user's generated reports with fresh download tokens.
func (s *ReportService) List(ctx context.Context, userID string) ([]ReportItem, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, listCacheKey(userID)).Result(); err == nil {
			var items []ReportItem
			if err := json.Unmarshal([]byte(raw), &items); err == nil {
				return items, nil
			}
		}
	}

	uploads, err := s.uploads.ListCompleted(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}

	items := make([]ReportItem, 0, len(uploads))
	for _, upload := range uploads {
		if upload.OutputFileKey == nil {
			continue
		}
		token, expiresAt, err := s.signer.Generate(upload.ID, *upload.OutputFileKey)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
		}
		numStudents := 0
		if upload.NumStudents != nil {
			numStudents = *upload.NumStudents
		}
		items = append(items, ReportItem{
			UploadID:      upload.ID,
			Filename:      upload.Filename,
			NumStudents:   numStudents,
			CreatedAt:     upload.CreatedAt,
			CompletedAt:   upload.CompletedAt,
			DownloadToken: token,
			ExpiresAt:     expiresAt,
		})
	}

	if s.cache != nil {
		if raw, err := json.Marshal(items); err == nil {
			if err := s.cache.Set(ctx, listCacheKey(userID), raw, s.cacheTTL).Err(); err != nil {
				s.logger.Sugar().Warnw("failed to cache report listing", "user_id", userID, "error", err)
			}
		}
	}
	return items, nil
}

// Delete removes a report row and its stored document. Deleting a report
// that is already gone succeeds.
func (s *ReportService) Delete(ctx context.Context, id, userID string) error {
	upload, err := s.uploads.GetByID(ctx, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}

	if upload.OutputFileKey != nil {
		if err := s.store.DeleteKey(ctx, *upload.OutputFileKey); err != nil {
			s.logger.Sugar().Warnw("failed to delete report object", "key", *upload.OutputFileKey, "error", err)
		}
	}
	if err := s.store.Delete(ctx, upload.Filename, userID); err != nil {
		s.logger.Sugar().Warnw("failed to delete source spreadsheet", "filename", upload.Filename, "error", err)
	}

	if err := s.uploads.Delete(ctx, id, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete report record")
	}
	s.invalidateListing(ctx, userID)
	return nil
}

// ResolveDownload validates a signed token and returns a short-lived URL for
// the document it names.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (string, error) {
	_, objectKey, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", err
	}
	url, err := s.store.PresignedURL(objectKey)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to presign report document")
	}
	return url, nil
}

// TemplateURL returns a short-lived URL for the blank student spreadsheet.
func (s *ReportService) TemplateURL(ctx context.Context) (string, error) {
	url, err := s.store.TemplateURL()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to presign template")
	}
	return url, nil
}

// Usage returns the user's report generation stats. A user that has never
// generated anything gets zeroes, not an error.
func (s *ReportService) Usage(ctx context.Context, userID string) (*UsageStats, error) {
	usage, err := s.usage.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &UsageStats{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUsageTracking.Code, appErrors.ErrUsageTracking.Status, "failed to load usage")
	}
	return &UsageStats{
		ReportCount: usage.ReportCount,
		FirstUsedAt: &usage.FirstUsedAt,
		LastUsedAt:  &usage.LastUsedAt,
	}, nil
}

// InvalidateListing drops the cached report list for a user. Called after a
// generation run completes so the new document shows up immediately.
func (s *ReportService) InvalidateListing(ctx context.Context, userID string) {
	s.invalidateListing(ctx, userID)
}

func (s *ReportService) invalidateListing(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, listCacheKey(userID)).Err(); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate report listing cache", "user_id", userID, "error", err)
	}
}
