package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkflowhq/inkflow-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps domain sentinels onto HTTP statuses: missing
// records are 404, refused preconditions are 409, the rest 500.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		RespondError(c, http.StatusNotFound, "session_not_found", err)
	case errors.Is(err, services.ErrVariantNotFound):
		RespondError(c, http.StatusNotFound, "variant_not_found", err)
	case errors.Is(err, services.ErrSketchNotFound):
		RespondError(c, http.StatusNotFound, "sketch_not_found", err)
	case errors.Is(err, services.ErrJobNotFound):
		RespondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, services.ErrOfferRefused):
		RespondError(c, http.StatusConflict, "offer_refused", err)
	case errors.Is(err, services.ErrPlacementPhotoRequired):
		RespondError(c, http.StatusConflict, "placement_photo_required", err)
	case errors.Is(err, services.ErrRetryBudgetExhausted):
		RespondError(c, http.StatusConflict, "retry_budget_exhausted", err)
	case errors.Is(err, services.ErrIllegalTransition):
		RespondError(c, http.StatusConflict, "illegal_transition", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
