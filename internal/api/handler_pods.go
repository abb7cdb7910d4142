package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/parse"
)

// GetAvailability handles GET /api/pods/:id/availability?start=&end= (or
// &duration=).
func (h *Handler) GetAvailability(c *gin.Context) {
	const op = "api.GetAvailability"
	start, end, err := parse.Window(c.Query("start"), c.Query("end"), c.Query("duration"), h.location)
	if err != nil {
		h.abortWithError(c, apperror.Validation(op, "%v", err))
		return
	}
	ok, err := h.svc.CheckAvailability(c.Request.Context(), c.Param("id"), start, end)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"podId": c.Param("id"), "start": start, "end": end, "available": ok})
}

// GetNextSlot handles GET /api/pods/:id/next-slot. next is null when the pod
// is out of service or fully booked within the search horizon.
func (h *Handler) GetNextSlot(c *gin.Context) {
	next, err := h.svc.NextAvailableSlot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"podId": c.Param("id"), "next": next})
}

type validateCodeRequest struct {
	Code string `json:"code" validate:"required,numeric,max=32"`
}

// ValidateAccessCode handles POST /api/pods/:id/access-codes/validate.
func (h *Handler) ValidateAccessCode(c *gin.Context) {
	const op = "api.ValidateAccessCode"
	var req validateCodeRequest
	if err := bindJSON(c, op, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	ok, err := h.svc.ValidateAccessCode(c.Request.Context(), c.Param("id"), req.Code)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": ok})
}

func (h *Handler) SetMaintenance(c *gin.Context) {
	pod, err := h.svc.SetMaintenance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pod)
}

func (h *Handler) RestorePod(c *gin.Context) {
	pod, err := h.svc.RestorePod(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pod)
}

// EmergencyShutdown handles POST /api/pods/:id/shutdown. The pod is taken
// offline even when the lock does not respond; that case answers 503 with
// the updated pod so operators can see the state.
func (h *Handler) EmergencyShutdown(c *gin.Context) {
	pod, err := h.svc.EmergencyShutdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		if pod != nil {
			c.AbortWithStatusJSON(StatusFor(err), gin.H{
				"error":     "pod is offline but the lock did not engage",
				"kind":      string(apperror.KindOf(err)),
				"retryable": apperror.IsRetryable(err),
				"pod":       pod,
			})
			return
		}
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pod)
}
