package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/homegroup-report-api/internal/models"
	"github.com/noah-isme/homegroup-report-api/internal/service"
	appErrors "github.com/noah-isme/homegroup-report-api/pkg/errors"
	"github.com/noah-isme/homegroup-report-api/pkg/response"
)

type generationStarter interface {
	StartGeneration(ctx context.Context, userID string) (*service.GenerationRun, error)
}

type reportDirectory interface {
	List(ctx context.Context, userID string) ([]service.ReportItem, error)
	Delete(ctx context.Context, id, userID string) error
	ResolveDownload(ctx context.Context, token string) (string, error)
	TemplateURL(ctx context.Context) (string, error)
	Usage(ctx context.Context, userID string) (*service.UsageStats, error)
}

type progressReader interface {
	Get(userID string) models.Progress
}

// ReportHandler exposes generation runs, progress polling, and the report
// document surface.
type ReportHandler struct {
	pipeline generationStarter
	reports  reportDirectory
	tracker  progressReader
}

// NewReportHandler creates a new handler.
func NewReportHandler(pipeline generationStarter, reports reportDirectory, tracker progressReader) *ReportHandler {
	return &ReportHandler{pipeline: pipeline, reports: reports, tracker: tracker}
}

// Generate godoc
// @Summary Start a generation run
// @Description Generate narrative reports for the most recently uploaded spreadsheet
// @Tags Reports
// @Produce json
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /reports/generate [post]
func (h *ReportHandler) Generate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	run, err := h.pipeline.StartGeneration(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, run, nil)
}

// Progress godoc
// @Summary Poll generation progress
// @Description Returns the state of the caller's generation run
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /reports/progress [get]
func (h *ReportHandler) Progress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, h.tracker.Get(claims.UserID), nil)
}

// List godoc
// @Summary List generated reports
// @Description Returns the caller's generated report documents with download tokens
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	items, err := h.reports.List(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Delete godoc
// @Summary Delete a report
// @Description Remove a generated report and its stored document
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /reports/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.reports.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Download godoc
// @Summary Download a report document
// @Description Resolve a signed download token and redirect to the document
// @Tags Reports
// @Produce json
// @Param token path string true "Signed download token"
// @Success 302
// @Failure 401 {object} response.Envelope
// @Router /reports/download/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	url, err := h.reports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link"))
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Template godoc
// @Summary Download the blank spreadsheet template
// @Description Redirects to the shared student spreadsheet template
// @Tags Reports
// @Produce json
// @Success 302
// @Failure 500 {object} response.Envelope
// @Router /template [get]
func (h *ReportHandler) Template(c *gin.Context) {
	url, err := h.reports.TemplateURL(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Usage godoc
// @Summary Report generation stats
// @Description Returns how many report documents the caller has generated
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /usage [get]
func (h *ReportHandler) Usage(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	stats, err := h.reports.Usage(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
