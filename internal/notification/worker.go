package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// ErrQueueFull is returned by HandleEvent when every worker is busy and the
// queue is at capacity.
var ErrQueueFull = errors.New("notification queue full")

// Message is the JSON payload pushed to the browser.
type Message struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
}

// WorkerPool delivers booking notifications to the booking owner's browsers.
type WorkerPool struct {
	size    int
	jobs    chan events.Event
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan events.Event, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case e := <-wp.jobs:
			wp.notify(ctx, e)
		case <-ctx.Done():
			wp.log.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// HandleEvent queues a notification for the events users care about. It
// never blocks the publisher.
func (wp *WorkerPool) HandleEvent(ctx context.Context, e events.Event) error {
	if _, ok := compose(e); !ok {
		return nil
	}
	select {
	case wp.jobs <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func compose(e events.Event) (Message, bool) {
	m := Message{BookingID: e.BookingID, Status: e.Status}
	window := e.Start.Format("Jan 2 15:04") + " - " + e.End.Format("15:04 MST")
	switch e.Type {
	case events.BookingConfirmed:
		m.Title = "Booking confirmed"
		m.Body = fmt.Sprintf("Your pod is reserved for %s.", window)
	case events.BookingFailed:
		m.Title = "Payment failed"
		m.Body = fmt.Sprintf("We could not take payment for %s. The slot has been released.", window)
	case events.BookingCancelled:
		m.Title = "Booking cancelled"
		m.Body = fmt.Sprintf("Your booking for %s was cancelled.", window)
	case events.BookingCompleted:
		m.Title = "Session ended"
		m.Body = "Thanks for using the pod. Your access code is no longer valid."
	default:
		return Message{}, false
	}
	return m, true
}

func (wp *WorkerPool) notify(ctx context.Context, e events.Event) {
	msg, ok := compose(e)
	if !ok {
		return
	}
	subscriptions, err := wp.store.SubscriptionsForUser(ctx, e.UserID)
	if err != nil {
		wp.log.Error("fetching subscriptions failed", zap.String("user_id", e.UserID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		wp.log.Error("encoding notification failed", zap.Error(err))
		return
	}
	wp.log.Debug("sending notifications",
		zap.Int("count", len(subscriptions)),
		zap.String("booking_id", e.BookingID),
		zap.String("event", string(e.Type)))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("sending notification failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.UserID, sub.Endpoint); err != nil {
			wp.log.Warn("deleting expired subscription failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
