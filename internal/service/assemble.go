package service

import (
	"time"

	"go.uber.org/zap"

	"pod-booking-backend/internal/access"
	"pod-booking-backend/internal/availability"
	"pod-booking-backend/internal/booking"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/lockgw"
	"pod-booking-backend/internal/occupancy"
	"pod-booking-backend/internal/payment"
	"pod-booking-backend/internal/store"
)

// Options configures Assemble.
type Options struct {
	Store       store.Store
	Gateway     lockgw.Gateway
	Provider    payment.Provider
	Dedupe      payment.Deduper
	Bus         *events.Bus
	MaxDuration time.Duration
	SlotHorizon time.Duration
	Now         func() time.Time
	Log         *zap.Logger
}

// Assemble builds every lifecycle component over one store and subscribes
// the access and occupancy reactions to the bus.
func Assemble(o Options) *Service {
	if o.Now == nil {
		o.Now = time.Now
	}
	log := o.Log

	checker := availability.NewChecker(o.Store, o.SlotHorizon, o.Now)
	accessManager := access.NewManager(o.Store, o.Gateway, o.Now, log.Named("access"))
	controller := occupancy.NewController(o.Store, o.Gateway, o.Now, log.Named("occupancy"))
	machine := booking.NewMachine(o.Store, checker, o.Bus,
		booking.Config{MaxDuration: o.MaxDuration}, o.Now, log.Named("booking"))
	orchestrator := payment.NewOrchestrator(o.Store, o.Provider, machine, o.Dedupe, log.Named("payment"))

	o.Bus.Subscribe("access", accessManager.HandleEvent)
	o.Bus.Subscribe("occupancy", controller.HandleEvent)

	return New(Deps{
		Store:     o.Store,
		Bookings:  machine,
		Checker:   checker,
		Access:    accessManager,
		Occupancy: controller,
		Payments:  orchestrator,
		Log:       log.Named("service"),
	})
}
