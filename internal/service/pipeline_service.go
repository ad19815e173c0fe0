package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	"github.com/noah-isme/homegroup-report-api/internal/parser"
	"github.com/noah-isme/homegroup-report-api/internal/repository"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
	"github.com/noah-isme/homegroup-report-api/pkg/jobs"
	"github.com/noah-isme/homegroup-report-api/pkg/storage"
)

const jobTypeGenerateReports = "generate_reports"

type pipelineUploadRepository interface {
	Latest(ctx context.Context, userID string) (*models.Upload, error)
	GetByID(ctx context.Context, id, userID string) (*models.Upload, error)
	Update(ctx context.Context, id string, params repository.UpdateUploadParams) error
}

type pipelineUsageRepository interface {
	Increment(ctx context.Context, userID string, ts time.Time) error
}

type spreadsheetParser interface {
	Parse(filePath string, sheetName string) (*parser.Result, error)
}

type narrativeGenerator interface {
	Generate(ctx context.Context, record models.StudentRecord) (string, error)
}

type documentAssembler interface {
	Assemble(narratives []string) (string, error)
}

type pipelineBlobStore interface {
	Download(ctx context.Context, name, ownerID, destDir string) (string, error)
	Upload(ctx context.Context, localPath, ownerID string, subdirs ...string) (string, error)
	DeleteKey(ctx context.Context, key string) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// GenerationJob is the queue payload for one report generation run.
type GenerationJob struct {
	UploadID string `json:"upload_id"`
	UserID   string `json:"user_id"`
	RunID    string `json:"run_id"`
}

// GenerationRun is returned when a run has been accepted.
type GenerationRun struct {
	RunID    string `json:"run_id"`
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
}

// PipelineService drives a generation run end to end: fetch the latest
// spreadsheet, parse it, generate one narrative per student, assemble the
// document, upload it, and record the outcome.
type PipelineService struct {
	uploads   pipelineUploadRepository
	usage     pipelineUsageRepository
	parser    spreadsheetParser
	generator narrativeGenerator
	assembler documentAssembler
	store     pipelineBlobStore
	tracker   *ProgressTracker
	queue     jobEnqueuer
	metrics   *MetricsService
	tempDir   string
	logger    *zap.Logger
}

// NewPipelineService wires the pipeline dependencies. The queue is attached
// afterwards via SetQueue since the queue handler is the service itself.
func NewPipelineService(
	uploads pipelineUploadRepository,
	usage pipelineUsageRepository,
	spreadsheets spreadsheetParser,
	generator narrativeGenerator,
	assembler documentAssembler,
	store pipelineBlobStore,
	tracker *ProgressTracker,
	tempDir string,
	logger *zap.Logger,
) *PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &PipelineService{
		uploads:   uploads,
		usage:     usage,
		parser:    spreadsheets,
		generator: generator,
		assembler: assembler,
		store:     store,
		tracker:   tracker,
		tempDir:   tempDir,
		logger:    logger,
	}
}

// SetQueue attaches the job queue used to run generations asynchronously.
func (s *PipelineService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// SetMetrics attaches optional Prometheus instrumentation.
func (s *PipelineService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// StartGeneration accepts a run against the user's most recent upload and
// enqueues the background job.
func (s *PipelineService) StartGeneration(ctx context.Context, userID string) (*GenerationRun, error) {
	upload, err := s.uploads.Latest(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "No files found. Please upload a file first.")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch latest upload")
	}

	runID := uuid.NewString()
	s.tracker.Start(userID, runID, 0)

	status := models.UploadStatusProcessing
	if err := s.uploads.Update(ctx, upload.ID, repository.UpdateUploadParams{Status: &status}); err != nil {
		s.tracker.Fail(userID, runID, "Error: failed to start generation")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark upload processing")
	}

	if err := s.queue.Enqueue(jobs.Job{
		ID:      runID,
		Type:    jobTypeGenerateReports,
		Payload: GenerationJob{UploadID: upload.ID, UserID: userID, RunID: runID},
	}); err != nil {
		s.tracker.Fail(userID, runID, "Error: generation queue unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue generation job")
	}

	return &GenerationRun{RunID: runID, UploadID: upload.ID, Filename: upload.Filename}, nil
}

// HandleJob is the queue handler. It rejects unknown job types.
func (s *PipelineService) HandleJob(ctx context.Context, job jobs.Job) error {
	if job.Type != jobTypeGenerateReports {
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	payload, ok := job.Payload.(GenerationJob)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	return s.Process(ctx, payload)
}

// Process runs one generation end to end. Errors are recorded on the upload
// row and in the progress tracker; the returned error is for the queue log.
func (s *PipelineService) Process(ctx context.Context, job GenerationJob) error {
	start := time.Now()
	err := s.process(ctx, job)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.ObserveGenerationRun(outcome, time.Since(start))
	return err
}

func (s *PipelineService) process(ctx context.Context, job GenerationJob) error {
	upload, err := s.uploads.GetByID(ctx, job.UploadID, job.UserID)
	if err != nil {
		s.tracker.Fail(job.UserID, job.RunID, "Error: upload not found")
		return fmt.Errorf("load upload: %w", err)
	}

	workDir, err := os.MkdirTemp(s.tempDir, "reports-")
	if err != nil {
		s.fail(ctx, job, "failed to allocate a working directory")
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	s.tracker.Update(job.UserID, job.RunID, 0, 0, "Downloading spreadsheet...", 0)
	localPath, err := s.store.Download(ctx, upload.Filename, job.UserID, workDir)
	if err != nil {
		s.fail(ctx, job, "failed to download the uploaded file")
		return fmt.Errorf("download upload: %w", err)
	}

	result, err := s.parser.Parse(localPath, "")
	if err != nil {
		s.fail(ctx, job, appErrors.FromError(err).Message)
		return fmt.Errorf("parse spreadsheet: %w", err)
	}
	for _, skipped := range result.Skipped {
		s.logger.Sugar().Warnw("row skipped",
			"upload_id", upload.ID,
			"row", skipped.RowNumber,
			"reason", skipped.Reason,
		)
	}

	total := len(result.Records)
	s.tracker.Update(job.UserID, job.RunID, 0, total, "Processing students...", 0)

	narratives := make([]string, 0, total)
	for i, record := range result.Records {
		callStart := time.Now()
		narrative, err := s.generator.Generate(ctx, record)
		if err != nil {
			s.fail(ctx, job, fmt.Sprintf("failed to generate report for %s", record.StudentName))
			return fmt.Errorf("generate narrative: %w", err)
		}
		s.metrics.ObserveNarrative(time.Since(callStart))
		narratives = append(narratives, narrative)

		s.tracker.Update(job.UserID, job.RunID, i+1, total,
			fmt.Sprintf("Generating report %d/%d", i+1, total), (i+1)*90/total)
	}

	s.tracker.Update(job.UserID, job.RunID, total, total, "Assembling document...", 90)
	docPath, err := s.assembler.Assemble(narratives)
	if err != nil {
		s.fail(ctx, job, "failed to assemble the report document")
		return fmt.Errorf("assemble document: %w", err)
	}
	defer os.Remove(docPath) //nolint:errcheck

	s.tracker.Update(job.UserID, job.RunID, total, total, "Uploading report...", 95)
	outputURL, err := s.store.Upload(ctx, docPath, job.UserID, "reports")
	if err != nil {
		s.fail(ctx, job, "failed to upload the report document")
		return fmt.Errorf("upload document: %w", err)
	}
	outputKey := storage.ObjectKey(job.UserID, "reports", filepath.Base(docPath))

	now := time.Now().UTC()
	status := models.UploadStatusCompleted
	if err := s.uploads.Update(ctx, upload.ID, repository.UpdateUploadParams{
		Status:        &status,
		CompletedAt:   &now,
		NumStudents:   &total,
		OutputFileURL: &outputURL,
		OutputFileKey: &outputKey,
	}); err != nil {
		// the blob must not outlive a failed record update
		if delErr := s.store.DeleteKey(ctx, outputKey); delErr != nil {
			s.logger.Sugar().Errorw("failed to remove orphaned report object",
				"key", outputKey, "error", delErr)
		}
		s.fail(ctx, job, "failed to record the generated report")
		return fmt.Errorf("update upload row: %w", err)
	}

	if err := s.usage.Increment(ctx, job.UserID, now); err != nil {
		s.logger.Sugar().Warnw("failed to increment usage", "user_id", job.UserID, "error", err)
	}

	s.tracker.Complete(job.UserID, job.RunID, total)
	s.logger.Sugar().Infow("generation run complete",
		"upload_id", upload.ID,
		"run_id", job.RunID,
		"students", total,
		"skipped_rows", len(result.Skipped),
	)
	return nil
}

func (s *PipelineService) fail(ctx context.Context, job GenerationJob, reason string) {
	status := models.UploadStatusError
	message := reason
	if err := s.uploads.Update(ctx, job.UploadID, repository.UpdateUploadParams{
		Status:       &status,
		ErrorMessage: &message,
	}); err != nil {
		s.logger.Sugar().Errorw("failed to record run failure", "upload_id", job.UploadID, "error", err)
	}
	s.tracker.Fail(job.UserID, job.RunID, "Error: "+reason)
}
