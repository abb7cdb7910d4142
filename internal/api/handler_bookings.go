package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/mw"
	"pod-booking-backend/internal/parse"
)

type createBookingRequest struct {
	PodID    string `json:"podId" validate:"required,max=36"`
	Start    string `json:"start" validate:"required"`
	End      string `json:"end" validate:"required_without=Duration"`
	Duration string `json:"duration"`
}

// paymentPendingResponse is returned when the booking was reserved but the
// payment authorization failed and may be retried.
type paymentPendingResponse struct {
	errorResponse
	Booking *model.Booking `json:"booking"`
}

// CreateBooking handles POST /api/bookings.
func (h *Handler) CreateBooking(c *gin.Context) {
	const op = "api.CreateBooking"
	var req createBookingRequest
	if err := bindJSON(c, op, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	start, end, err := parse.Window(req.Start, req.End, req.Duration, h.location)
	if err != nil {
		h.abortWithError(c, apperror.Validation(op, "%v", err))
		return
	}

	b, err := h.svc.CreateBooking(c.Request.Context(), mw.Actor(c), req.PodID, start, end)
	if err != nil {
		if b != nil && apperror.Is(err, apperror.KindPayment) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, paymentPendingResponse{
				errorResponse: errorResponse{Error: "payment authorization failed", Kind: string(apperror.KindPayment), Retryable: true},
				Booking:       b,
			})
			return
		}
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GetBooking handles GET /api/bookings/:id.
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.svc.GetBooking(c.Request.Context(), mw.Actor(c), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type authorizationResponse struct {
	PaymentRef   string `json:"paymentRef"`
	Status       string `json:"status"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// AuthorizePayment handles POST /api/bookings/:id/authorize.
func (h *Handler) AuthorizePayment(c *gin.Context) {
	auth, err := h.svc.AuthorizePayment(c.Request.Context(), mw.Actor(c), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, authorizationResponse{
		PaymentRef:   auth.ID,
		Status:       auth.Status,
		ClientSecret: auth.ClientSecret,
	})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	b, err := h.svc.CancelBooking(c.Request.Context(), mw.Actor(c), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) EndBooking(c *gin.Context) {
	b, err := h.svc.EndBooking(c.Request.Context(), mw.Actor(c), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// UnlockPod handles POST /api/bookings/:id/unlock and returns the pod.
func (h *Handler) UnlockPod(c *gin.Context) {
	pod, err := h.svc.UnlockPod(c.Request.Context(), mw.Actor(c), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pod)
}

// IssueAccessCode handles POST /api/bookings/:id/access-code.
func (h *Handler) IssueAccessCode(c *gin.Context) {
	code, err := h.svc.IssueAccessCode(c.Request.Context(), mw.Actor(c), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}
