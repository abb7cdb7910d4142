package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"pod-booking-backend/internal/service"
	"pod-booking-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc      *service.Service
	store    store.Store
	webpush  *webpush.Options
	location *time.Location
	log      *zap.Logger
}

// NewHandler creates a new API handler. Wall-clock times without an offset
// are read in loc.
func NewHandler(svc *service.Service, s store.Store, webpushOptions *webpush.Options, loc *time.Location, log *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		svc:      svc,
		store:    s,
		webpush:  webpushOptions,
		location: loc,
		log:      log,
	}
}
