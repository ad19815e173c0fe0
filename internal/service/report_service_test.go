package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	"github.com/noah-isme/homegroup-report-api/pkg/storage"
)

type stubReportUploadRepo struct {
	completed []models.Upload
	byID      map[string]*models.Upload
	deleted   []string
}

func (s *stubReportUploadRepo) ListCompleted(ctx context.Context, userID string) ([]models.Upload, error) {
	return s.completed, nil
}

func (s *stubReportUploadRepo) GetByID(ctx context.Context, id, userID string) (*models.Upload, error) {
	upload, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return upload, nil
}

func (s *stubReportUploadRepo) Delete(ctx context.Context, id, userID string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubReportUsageRepo struct {
	usage *models.Usage
}

func (s *stubReportUsageRepo) Get(ctx context.Context, userID string) (*models.Usage, error) {
	if s.usage == nil {
		return nil, sql.ErrNoRows
	}
	return s.usage, nil
}

type stubReportBlobStore struct {
	deletedNames []string
	deletedKeys  []string
}

func (s *stubReportBlobStore) Delete(ctx context.Context, name, ownerID string) error {
	s.deletedNames = append(s.deletedNames, name)
	return nil
}

func (s *stubReportBlobStore) DeleteKey(ctx context.Context, key string) error {
	s.deletedKeys = append(s.deletedKeys, key)
	return nil
}

func (s *stubReportBlobStore) PresignedURL(key string) (string, error) {
	return "https://bucket.example.com/" + key + "?signed", nil
}

func (s *stubReportBlobStore) TemplateURL() (string, error) {
	return "https://bucket.example.com/templates/student_template.xlsx?signed", nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func completedUpload(id string) models.Upload {
	completedAt := time.Now().UTC()
	return models.Upload{
		ID:            id,
		UserID:        "user-1",
		Filename:      "class.xlsx",
		Status:        models.UploadStatusCompleted,
		CreatedAt:     completedAt.Add(-time.Hour),
		CompletedAt:   &completedAt,
		NumStudents:   intPtr(7),
		OutputFileURL: strPtr("https://bucket.example.com/user-1/reports/out.pdf"),
		OutputFileKey: strPtr("user-1/reports/out.pdf"),
	}
}

func newTestReportService(uploads *stubReportUploadRepo, usage *stubReportUsageRepo, store *stubReportBlobStore) *ReportService {
	signer := storage.NewSignedURLSigner("signing-secret", time.Hour)
	return NewReportService(uploads, usage, store, signer, nil, time.Minute, nil)
}

func TestReportServiceListSignsTokens(t *testing.T) {
	uploads := &stubReportUploadRepo{completed: []models.Upload{completedUpload("upload-1")}}
	svc := newTestReportService(uploads, &stubReportUsageRepo{}, &stubReportBlobStore{})

	items, err := svc.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "upload-1", items[0].UploadID)
	assert.Equal(t, 7, items[0].NumStudents)
	assert.NotEmpty(t, items[0].DownloadToken)

	// the signed token resolves back to the stored object
	url, err := svc.ResolveDownload(context.Background(), items[0].DownloadToken)
	require.NoError(t, err)
	assert.Contains(t, url, "user-1/reports/out.pdf")
}

func TestReportServiceListSkipsRowsWithoutDocument(t *testing.T) {
	broken := completedUpload("upload-2")
	broken.OutputFileKey = nil
	uploads := &stubReportUploadRepo{completed: []models.Upload{completedUpload("upload-1"), broken}}
	svc := newTestReportService(uploads, &stubReportUsageRepo{}, &stubReportBlobStore{})

	items, err := svc.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "upload-1", items[0].UploadID)
}

func TestReportServiceResolveDownloadRejectsTamperedToken(t *testing.T) {
	svc := newTestReportService(&stubReportUploadRepo{}, &stubReportUsageRepo{}, &stubReportBlobStore{})

	_, err := svc.ResolveDownload(context.Background(), "not.a.valid.token")
	require.Error(t, err)
}

func TestReportServiceDeleteRemovesRowAndObjects(t *testing.T) {
	upload := completedUpload("upload-1")
	uploads := &stubReportUploadRepo{byID: map[string]*models.Upload{"upload-1": &upload}}
	store := &stubReportBlobStore{}
	svc := newTestReportService(uploads, &stubReportUsageRepo{}, store)

	require.NoError(t, svc.Delete(context.Background(), "upload-1", "user-1"))
	assert.Equal(t, []string{"upload-1"}, uploads.deleted)
	assert.Equal(t, []string{"user-1/reports/out.pdf"}, store.deletedKeys)
	assert.Equal(t, []string{"class.xlsx"}, store.deletedNames)
}

func TestReportServiceDeleteMissingIsIdempotent(t *testing.T) {
	uploads := &stubReportUploadRepo{byID: map[string]*models.Upload{}}
	svc := newTestReportService(uploads, &stubReportUsageRepo{}, &stubReportBlobStore{})

	require.NoError(t, svc.Delete(context.Background(), "upload-404", "user-1"))
	assert.Empty(t, uploads.deleted)
}

func TestReportServiceUsageDefaultsToZero(t *testing.T) {
	svc := newTestReportService(&stubReportUploadRepo{}, &stubReportUsageRepo{}, &stubReportBlobStore{})

	stats, err := svc.Usage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ReportCount)
	assert.Nil(t, stats.FirstUsedAt)
}

func TestReportServiceUsageReturnsStats(t *testing.T) {
	first := time.Now().UTC().Add(-48 * time.Hour)
	last := time.Now().UTC()
	usage := &stubReportUsageRepo{usage: &models.Usage{UserID: "user-1", ReportCount: 9, FirstUsedAt: first, LastUsedAt: last}}
	svc := newTestReportService(&stubReportUploadRepo{}, usage, &stubReportBlobStore{})

	stats, err := svc.Usage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 9, stats.ReportCount)
	require.NotNil(t, stats.FirstUsedAt)
	assert.Equal(t, first, *stats.FirstUsedAt)
}

func TestReportServiceTemplateURL(t *testing.T) {
	svc := newTestReportService(&stubReportUploadRepo{}, &stubReportUsageRepo{}, &stubReportBlobStore{})

	url, err := svc.TemplateURL(context.Background())
	require.NoError(t, err)
	assert.Contains(t, url, "templates/")
}

func TestReportServiceExpiredTokenRejected(t *testing.T) {
	store := &stubReportBlobStore{}
	signer := storage.NewSignedURLSigner("signing-secret", time.Millisecond)
	svc := NewReportService(&stubReportUploadRepo{}, &stubReportUsageRepo{}, store, signer, nil, time.Minute, nil)

	token, _, err := signer.Generate("upload-1", "user-1/reports/out.pdf")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = svc.ResolveDownload(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}
