package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskpulse/internal/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondAppError maps an apperr kind onto a status code. Internal and dependency failures
// hide their cause from the client.
func respondAppError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch kind := apperr.KindOf(err); kind {
	case apperr.KindValidation:
		respondError(c, http.StatusBadRequest, string(kind), err)
	case apperr.KindNotFound:
		respondError(c, http.StatusNotFound, string(kind), err)
	case apperr.KindDependency:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorEnvelope{Error: APIError{Message: "dependency unavailable", Code: string(kind)}})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorEnvelope{Error: APIError{Message: "internal error", Code: string(apperr.KindInternal)}})
	}
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
