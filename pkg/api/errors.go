package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/services"
)

// errorBody is the JSON error envelope: the run error kind plus a
// human-readable message.
type errorBody struct {
	Kind     string         `json:"kind"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// writeError maps an error to an HTTP status and the JSON envelope.
func writeError(c *gin.Context, err error) {
	var runErr *models.RunError
	if errors.As(err, &runErr) {
		c.JSON(statusForKind(runErr.Kind), gin.H{"error": errorBody{
			Kind:     string(runErr.Kind),
			Message:  runErr.Message,
			Metadata: runErr.Metadata,
		}})
		return
	}

	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Kind:    string(models.KindInvalidInput),
			Message: validErr.Error(),
		}})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": errorBody{
			Kind:    "NotFound",
			Message: "resource not found",
		}})
		return
	}

	slog.Error("Unexpected API error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
		Kind:    string(models.KindStorageError),
		Message: "internal server error",
	}})
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidInput, models.KindValidationError, models.KindToolNotFound:
		return http.StatusBadRequest
	case models.KindCancelled:
		return http.StatusConflict
	case models.KindExpired, models.KindOverwritten:
		return http.StatusGone
	case models.KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
