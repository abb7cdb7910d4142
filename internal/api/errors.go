package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pod-booking-backend/internal/apperror"
)

var statusByKind = map[apperror.Kind]int{
	apperror.KindValidation:    http.StatusBadRequest,
	apperror.KindConflict:      http.StatusConflict,
	apperror.KindNotFound:      http.StatusNotFound,
	apperror.KindAuthorization: http.StatusForbidden,
	apperror.KindPayment:       http.StatusPaymentRequired,
	apperror.KindLock:          http.StatusServiceUnavailable,
	apperror.KindInternal:      http.StatusInternalServerError,
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StatusFor maps an error onto its HTTP status code.
func StatusFor(err error) int {
	if code, ok := statusByKind[apperror.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// abortWithError writes err as JSON. Internal details are logged, never
// returned to the client.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	resp := errorResponse{Kind: string(kind), Retryable: apperror.IsRetryable(err)}

	var appErr *apperror.Error
	switch {
	case kind == apperror.KindInternal:
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		resp.Error = "internal error"
	case errors.As(err, &appErr) && appErr.Msg != "":
		resp.Error = appErr.Msg
	default:
		resp.Error = err.Error()
	}
	c.AbortWithStatusJSON(StatusFor(err), resp)
}
