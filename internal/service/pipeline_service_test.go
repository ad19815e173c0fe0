package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	"github.com/noah-isme/homegroup-report-api/internal/parser"
	"github.com/noah-isme/homegroup-report-api/internal/repository"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
	"github.com/noah-isme/homegroup-report-api/pkg/jobs"
	"github.com/noah-isme/homegroup-report-api/pkg/storage"
)

type stubUploadRepo struct {
	mu      sync.Mutex
	latest  *models.Upload
	byID    map[string]*models.Upload
	updates []repository.UpdateUploadParams
	failOn  int // 1-based update call index to fail on, 0 disables
}

func (s *stubUploadRepo) Latest(ctx context.Context, userID string) (*models.Upload, error) {
	if s.latest == nil {
		return nil, sql.ErrNoRows
	}
	return s.latest, nil
}

func (s *stubUploadRepo) GetByID(ctx context.Context, id, userID string) (*models.Upload, error) {
	upload, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return upload, nil
}

func (s *stubUploadRepo) Update(ctx context.Context, id string, params repository.UpdateUploadParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, params)
	if s.failOn > 0 && len(s.updates) == s.failOn {
		return errors.New("db unavailable")
	}
	return nil
}

type stubUsageRepo struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *stubUsageRepo) Increment(ctx context.Context, userID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.count++
	return nil
}

type stubParser struct {
	result *parser.Result
	err    error
}

func (s *stubParser) Parse(filePath, sheetName string) (*parser.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubGenerator struct {
	mu      sync.Mutex
	seen    []string
	failFor string
}

func (s *stubGenerator) Generate(ctx context.Context, record models.StudentRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor == record.StudentName {
		return "", appErrors.Clone(appErrors.ErrGeneration, "model unavailable")
	}
	s.seen = append(s.seen, record.StudentName)
	return "Narrative for " + record.StudentName, nil
}

type stubAssembler struct {
	dir        string
	narratives []string
	err        error
}

func (s *stubAssembler) Assemble(narratives []string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.narratives = narratives
	path := filepath.Join(s.dir, "student_reports_20260831_120000.pdf")
	if err := os.WriteFile(path, []byte("pdf"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

type stubBlobStore struct {
	mu          sync.Mutex
	dir         string
	uploadErr   error
	uploadedKey string
	deletedKeys []string
}

func (s *stubBlobStore) Download(ctx context.Context, name, ownerID, destDir string) (string, error) {
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, []byte("xlsx"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (s *stubBlobStore) Upload(ctx context.Context, localPath, ownerID string, subdirs ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploadedKey = storage.ObjectKey(ownerID, append(subdirs, filepath.Base(localPath))...)
	return "https://bucket.example.com/" + s.uploadedKey, nil
}

func (s *stubBlobStore) DeleteKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedKeys = append(s.deletedKeys, key)
	return nil
}

type stubQueue struct {
	mu      sync.Mutex
	jobs    []jobs.Job
	failure error
}

func (s *stubQueue) Enqueue(job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func records(names ...string) []models.StudentRecord {
	out := make([]models.StudentRecord, 0, len(names))
	for _, name := range names {
		out = append(out, models.StudentRecord{
			StudentName:               name,
			Year:                      8,
			Gender:                    models.GenderFemale,
			AcademicPerformance:       "strong",
			ExtracurricularActivities: "chess",
			Other:                     "none",
			SampleReport:              "sample",
		})
	}
	return out
}

type pipelineFixture struct {
	svc       *PipelineService
	uploads   *stubUploadRepo
	usage     *stubUsageRepo
	generator *stubGenerator
	assembler *stubAssembler
	store     *stubBlobStore
	queue     *stubQueue
	tracker   *ProgressTracker
}

func newPipelineFixture(t *testing.T, parsed *parser.Result) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	upload := &models.Upload{ID: "upload-1", UserID: "user-1", Filename: "class.xlsx", StoragePath: "user-1/class.xlsx", Status: models.UploadStatusPending}
	f := &pipelineFixture{
		uploads:   &stubUploadRepo{latest: upload, byID: map[string]*models.Upload{"upload-1": upload}},
		usage:     &stubUsageRepo{},
		generator: &stubGenerator{},
		assembler: &stubAssembler{dir: dir},
		store:     &stubBlobStore{dir: dir},
		queue:     &stubQueue{},
		tracker:   NewProgressTracker(time.Minute),
	}
	f.svc = NewPipelineService(f.uploads, f.usage, &stubParser{result: parsed}, f.generator, f.assembler, f.store, f.tracker, dir, nil)
	f.svc.SetQueue(f.queue)
	return f
}

func TestStartGenerationNoUploads(t *testing.T) {
	f := newPipelineFixture(t, &parser.Result{})
	f.uploads.latest = nil

	_, err := f.svc.StartGeneration(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No files found. Please upload a file first.")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
	assert.Empty(t, f.queue.jobs)
}

func TestStartGenerationEnqueuesJob(t *testing.T) {
	f := newPipelineFixture(t, &parser.Result{Records: records("Alice")})

	run, err := f.svc.StartGeneration(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", run.UploadID)
	assert.NotEmpty(t, run.RunID)

	require.Len(t, f.queue.jobs, 1)
	payload, ok := f.queue.jobs[0].Payload.(GenerationJob)
	require.True(t, ok)
	assert.Equal(t, run.RunID, payload.RunID)

	// the upload row was moved to processing
	require.NotEmpty(t, f.uploads.updates)
	require.NotNil(t, f.uploads.updates[0].Status)
	assert.Equal(t, models.UploadStatusProcessing, *f.uploads.updates[0].Status)
}

func TestProcessHappyPathPreservesOrder(t *testing.T) {
	f := newPipelineFixture(t, &parser.Result{Records: records("Alice", "Bob", "Cara")})
	f.tracker.Start("user-1", "run-1", 0)

	err := f.svc.Process(context.Background(), GenerationJob{UploadID: "upload-1", UserID: "user-1", RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice", "Bob", "Cara"}, f.generator.seen)
	assert.Equal(t, []string{
		"Narrative for Alice",
		"Narrative for Bob",
		"Narrative for Cara",
	}, f.assembler.narratives)

	// completion recorded on the upload row
	last := f.uploads.updates[len(f.uploads.updates)-1]
	require.NotNil(t, last.Status)
	assert.Equal(t, models.UploadStatusCompleted, *last.Status)
	require.NotNil(t, last.NumStudents)
	assert.Equal(t, 3, *last.NumStudents)
	require.NotNil(t, last.OutputFileURL)
	assert.Contains(t, *last.OutputFileURL, "user-1/reports/")

	assert.Equal(t, 1, f.usage.count)

	progress := f.tracker.Get("user-1")
	assert.Equal(t, 100, progress.Progress)
	assert.Equal(t, "Complete", progress.Status)
}

func TestProcessAbortsOnFirstGenerationFailure(t *testing.T) {
	f := newPipelineFixture(t, &parser.Result{Records: records("Alice", "Bob", "Cara")})
	f.tracker.Start("user-1", "run-1", 0)
	f.generator.failFor = "Bob"

	err := f.svc.Process(context.Background(), GenerationJob{UploadID: "upload-1", UserID: "user-1", RunID: "run-1"})
	require.Error(t, err)

	// Cara was never attempted
	assert.Equal(t, []string{"Alice"}, f.generator.seen)

	last := f.uploads.updates[len(f.uploads.updates)-1]
	require.NotNil(t, last.Status)
	assert.Equal(t, models.UploadStatusError, *last.Status)
	require.NotNil(t, last.ErrorMessage)
	assert.Contains(t, *last.ErrorMessage, "Bob")

	progress := f.tracker.Get("user-1")
	assert.Contains(t, progress.Status, "Error:")
	assert.Equal(t, 0, f.usage.count)
}

func TestProcessProgressMath(t *testing.T) {
	f := newPipelineFixture(t, &parser.Result{Records: records("Alice", "Bob", "Cara", "Dan")})
	f.tracker.Start("user-1", "run-1", 0)

	f.generator.failFor = "Cara"
	err := f.svc.Process(context.Background(), GenerationJob{UploadID: "upload-1", UserID: "user-1", RunID: "run-1"})
	require.Error(t, err)

	// the failure happened while the third of four records was in flight,
	// so the last completed write was record 2: floor(2*90/4) = 45
	progress := f.tracker.Get("user-1")
	assert.Equal(t, 2, progress.Current)
	assert.Equal(t, 45, progress.Progress)
}

func TestProcessCompensatesBlobOnRecordFailure(t *testing.T) {
	f := newPipelineFixture(t, &parser.Result{Records: records("Alice")})
	f.tracker.Start("user-1", "run-1", 0)
	// first update is the completion write in Process
	f.uploads.failOn = 1

	err := f.svc.Process(context.Background(), GenerationJob{UploadID: "upload-1", UserID: "user-1", RunID: "run-1"})
	require.Error(t, err)

	require.Len(t, f.store.deletedKeys, 1)
	assert.Equal(t, f.store.uploadedKey, f.store.deletedKeys[0])
	assert.Equal(t, 0, f.usage.count)

	progress := f.tracker.Get("user-1")
	assert.Contains(t, progress.Status, "Error:")
}

func TestProcessParseFailureMarksUploadError(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.svc.parser = &stubParser{err: appErrors.Clone(appErrors.ErrParsing, "no valid student data found in the file")}

	err := f.svc.Process(context.Background(), GenerationJob{UploadID: "upload-1", UserID: "user-1", RunID: "run-1"})
	require.Error(t, err)

	last := f.uploads.updates[len(f.uploads.updates)-1]
	require.NotNil(t, last.Status)
	assert.Equal(t, models.UploadStatusError, *last.Status)
	require.NotNil(t, last.ErrorMessage)
	assert.Contains(t, *last.ErrorMessage, "no valid student data")
}

func TestProcessUsageFailureDoesNotFailRun(t *testing.T) {
	f := newPipelineFixture(t, &parser.Result{Records: records("Alice")})
	f.tracker.Start("user-1", "run-1", 0)
	f.usage.err = fmt.Errorf("usage table locked")

	err := f.svc.Process(context.Background(), GenerationJob{UploadID: "upload-1", UserID: "user-1", RunID: "run-1"})
	require.NoError(t, err)

	progress := f.tracker.Get("user-1")
	assert.Equal(t, "Complete", progress.Status)
}
