package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docuchat-backend/models"
)

// ErrorResponse is the uniform error body for every endpoint.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondWithError writes a JSON error including the request ID when the
// middleware has set one.
func RespondWithError(c *gin.Context, status int, message string, details ...string) {
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			resp.RequestID = id
		}
	}
	c.JSON(status, resp)
}

// FromDomainError maps service-layer sentinel errors to HTTP responses.
func FromDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyQuestion):
		RespondWithError(c, http.StatusBadRequest, "question cannot be empty")
	case errors.Is(err, models.ErrInvalidChunkConfig):
		RespondWithError(c, http.StatusBadRequest, "invalid chunking configuration", err.Error())
	case errors.Is(err, models.ErrUnreadablePDF):
		RespondWithError(c, http.StatusUnprocessableEntity, "document could not be read", err.Error())
	case errors.Is(err, models.ErrSessionNotFound):
		RespondWithError(c, http.StatusNotFound, "session not found")
	case errors.Is(err, models.ErrDocumentNotFound):
		RespondWithError(c, http.StatusNotFound, "document not found")
	case errors.Is(err, models.ErrRetrievalFailed):
		RespondWithError(c, http.StatusBadGateway, "retrieval backend unavailable", err.Error())
	case errors.Is(err, models.ErrGenerationFailed):
		RespondWithError(c, http.StatusBadGateway, "generation backend unavailable", err.Error())
	case errors.Is(err, models.ErrTranscriptCorrupted):
		RespondWithError(c, http.StatusInternalServerError, "session transcript corrupted", err.Error())
	default:
		RespondWithError(c, http.StatusInternalServerError, "internal server error", err.Error())
	}
}
