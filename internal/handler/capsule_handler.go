package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"capsule-vault/internal/services"
	"capsule-vault/internal/transport/httpdto"
	capsule_errors "capsule-vault/pkg/errors"

	"github.com/gin-gonic/gin"
)

type CapsuleHandler struct {
	service *services.CapsuleService
}

func NewCapsuleHandler(service *services.CapsuleService) *CapsuleHandler {
	return &CapsuleHandler{service: service}
}

// Upload handles POST /api/upload (multipart form).
func (h *CapsuleHandler) Upload(c *gin.Context) {
	userID := c.PostForm("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("user id is required", "INVALID_REQUEST"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("capsule file is required", "INVALID_REQUEST"))
		return
	}

	recipients, err := parseRecipients(c.PostForm("allowed_users"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "VALIDATION_ERROR"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("capsule file could not be read", "INVALID_REQUEST"))
		return
	}
	defer file.Close()

	created, err := h.service.Create(c.Request.Context(), services.CreateInput{
		Content:    file,
		Filename:   filepath.Base(fileHeader.Filename),
		MimeType:   fileHeader.Header.Get("Content-Type"),
		FileSize:   fileHeader.Size,
		UploaderID: userID,
		Recipients: recipients,
		UnlockDate: c.PostForm("unlock_date"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CreateCapsuleResponse{
		Status: "success",
		FileID: created.ID,
	}))
}

// List handles GET /api/files?user_id=
func (h *CapsuleHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	summaries, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"files": summaries}))
}

// Download handles GET /api/download/:id?user_id= and streams the capsule
// content on an authorized request.
func (h *CapsuleHandler) Download(c *gin.Context) {
	capsuleID := c.Param("id")
	userID := c.Query("user_id")

	result, err := h.service.Download(c.Request.Context(), capsuleID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	switch result.Decision.Outcome {
	case services.OutcomeNotFound:
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("capsule not found", "NOT_FOUND"))
	case services.OutcomeLocked:
		unlock := result.Decision.UnlockTime
		c.JSON(http.StatusForbidden, httpdto.LockedResponse{
			Error:      "this capsule is still locked",
			Message:    fmt.Sprintf("this capsule will be unlocked at %s", unlock.Format("2006-01-02 15:04")),
			UnlockDate: unlock.Format("2006-01-02 15:04:05"),
		})
	case services.OutcomeForbidden:
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("you do not have permission to access this capsule", "FORBIDDEN"))
	case services.OutcomeAuthorized:
		defer result.Content.Close()
		capsule := result.Decision.Capsule
		mimeType := capsule.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		extraHeaders := map[string]string{
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", capsule.Filename),
		}
		c.DataFromReader(http.StatusOK, result.Size, mimeType, result.Content, extraHeaders)
	}
}

// Delete handles DELETE /api/delete/:id?user_id=
func (h *CapsuleHandler) Delete(c *gin.Context) {
	capsuleID := c.Param("id")
	userID := c.Query("user_id")

	if err := h.service.Remove(c.Request.Context(), capsuleID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.DeleteCapsuleResponse{Success: true}))
}

// parseRecipients accepts either a JSON array or a comma-separated list,
// matching what the upload form may send.
func parseRecipients(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("you must specify which users will be granted capsule access")
	}

	if strings.HasPrefix(raw, "[") {
		var recipients []string
		if err := json.Unmarshal([]byte(raw), &recipients); err != nil {
			return nil, errors.New("the allowed recipient list is not valid JSON")
		}
		return recipients, nil
	}

	var recipients []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			recipients = append(recipients, part)
		}
	}
	return recipients, nil
}

// respondError maps the error taxonomy onto HTTP statuses. Upstream failures
// surface the provider's status when it reported one.
func respondError(c *gin.Context, err error) {
	var upstream *capsule_errors.UpstreamError
	switch {
	case errors.Is(err, capsule_errors.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "VALIDATION_ERROR"))
	case errors.Is(err, capsule_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("capsule not found", "NOT_FOUND"))
	case errors.Is(err, capsule_errors.ErrForbidden):
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("you do not have permission to perform this action", "FORBIDDEN"))
	case errors.Is(err, capsule_errors.ErrMissingCallerID):
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("user id is required", "MISSING_USER_ID"))
	case errors.Is(err, capsule_errors.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", "RATE_LIMITED"))
	case errors.As(err, &upstream):
		status := http.StatusBadGateway
		if upstream.Status >= 400 {
			status = upstream.Status
		}
		c.JSON(status, httpdto.NewErrorResponse(upstream.Error(), "UPSTREAM_ERROR"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "INTERNAL_ERROR"))
	}
}
