package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
	"github.com/noah-isme/homegroup-report-api/pkg/response"
	"github.com/noah-isme/homegroup-report-api/pkg/storage"
)

type uploadCreator interface {
	Create(ctx context.Context, upload *models.Upload) error
}

type uploadBlobStore interface {
	ExtensionAllowed(name string) bool
	Upload(ctx context.Context, localPath, ownerID string, subdirs ...string) (string, error)
}

// UploadHandler accepts student spreadsheets and records them for the
// generation pipeline.
type UploadHandler struct {
	uploads  uploadCreator
	store    uploadBlobStore
	maxBytes int64
	tempDir  string
	logger   *zap.Logger
}

// NewUploadHandler creates a new handler.
func NewUploadHandler(uploads uploadCreator, store uploadBlobStore, maxBytes int64, tempDir string, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &UploadHandler{uploads: uploads, store: store, maxBytes: maxBytes, tempDir: tempDir, logger: logger}
}

// Upload godoc
// @Summary Upload a student spreadsheet
// @Description Store a spreadsheet as the source for the next generation run
// @Tags Uploads
// @Accept mpfd
// @Produce json
// @Param file formData file true "Spreadsheet file"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "a file is required"))
		return
	}
	if fileHeader.Size > h.maxBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum upload size"))
		return
	}

	filename := filepath.Base(fileHeader.Filename)
	if !h.store.ExtensionAllowed(filename) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file type is not allowed"))
		return
	}

	workDir, err := os.MkdirTemp(h.tempDir, "upload-")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to stage upload"))
		return
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	localPath := filepath.Join(workDir, filename)
	if err := c.SaveUploadedFile(fileHeader, localPath); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to save uploaded file"))
		return
	}

	if _, err := h.store.Upload(c.Request.Context(), localPath, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	upload := &models.Upload{
		UserID:      claims.UserID,
		Filename:    filename,
		StoragePath: storage.ObjectKey(claims.UserID, filename),
		Status:      models.UploadStatusPending,
	}
	if err := h.uploads.Create(c.Request.Context(), upload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to record upload"))
		return
	}

	h.logger.Sugar().Infow("spreadsheet uploaded",
		"upload_id", upload.ID,
		"user_id", claims.UserID,
		"filename", filename,
		"size", fileHeader.Size,
	)
	response.Created(c, upload)
}
