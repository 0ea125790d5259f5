package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"intake/internal/multipart"
	"intake/internal/server/config"
	"intake/internal/server/database"
	"intake/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the intake API.
type Handler struct {
	svc *service.UploadService
	db  *database.DB
	cfg *config.Config
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc *service.UploadService, db *database.DB, cfg *config.Config) *Handler {
	return &Handler{svc: svc, db: db, cfg: cfg}
}

// uploadError is the wire shape of one parse error record.
type uploadError struct {
	Key  string `json:"key"`
	Args []any  `json:"args,omitempty"`
}

// HandleUpload handles POST /api/upload.
//
// The request body is parsed by the streaming multipart engine: file
// parts are spooled to disk under the configured limits, and every
// violation is collected rather than aborting the request. Files that
// survive parsing are moved into permanent storage; the response
// carries both the accepted uploads and the collected errors.
//
// Recognized form fields: "password" protects the files, and
// "expiry_hours" overrides the default retention.
func (h *Handler) HandleUpload(c echo.Context) error {
	sess := multipart.NewSession(h.cfg.Multipart())
	defer sess.CleanUp()

	sess.Parse(c.Request(), h.cfg.SpoolPath)

	password := sess.FieldValue("password")

	var expiry time.Duration
	if v := sess.FieldValue("expiry_hours"); v != "" {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			expiry = time.Duration(hours * float64(time.Hour))
		}
	}

	results, err := h.svc.IngestSession(c.Request().Context(), sess, password, expiry)
	if err != nil && !errors.Is(err, service.ErrNoFiles) {
		return mapServiceError(c, err)
	}

	parseErrors := make([]uploadError, 0, len(sess.Errors()))
	for _, rec := range sess.Errors() {
		parseErrors = append(parseErrors, uploadError{Key: rec.Key, Args: rec.Args})
	}

	body := echo.Map{
		"uploads": results,
		"errors":  parseErrors,
	}

	if len(results) == 0 {
		return c.JSON(http.StatusBadRequest, body)
	}
	return c.JSON(http.StatusCreated, body)
}

// HandleDownload handles GET /d/:id.
// Serves the file as an attachment. Accepts an optional "password" query param.
func (h *Handler) HandleDownload(c echo.Context) error {
	id := c.Param("id")
	password := c.QueryParam("password")

	filePath, filename, err := h.svc.Download(c.Request().Context(), id, password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.Attachment(filePath, filename)
}

// HandleInfo handles GET /api/info/:id.
// Returns upload metadata without serving the file.
func (h *Handler) HandleInfo(c echo.Context) error {
	id := c.Param("id")

	info, err := h.svc.GetInfo(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDelete handles DELETE /api/delete/:id/:token.
// Deletes an upload using the deletion token provided at upload time.
func (h *Handler) HandleDelete(c echo.Context) error {
	id := c.Param("id")
	token := c.Param("token")

	if err := h.svc.DeleteUpload(c.Request().Context(), id, token); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "upload deleted successfully",
	})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_uploads":      stats.TotalUploads,
		"active_uploads":     stats.ActiveUploads,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "upload not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "upload has expired"})
	case errors.Is(err, service.ErrPasswordRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password_required"})
	case errors.Is(err, service.ErrInvalidPassword):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid password"})
	case errors.Is(err, service.ErrInvalidToken):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid deletion token"})
	case errors.Is(err, service.ErrBlockedExtension):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNoFiles):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no files in request"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
