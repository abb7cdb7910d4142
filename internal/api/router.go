package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pod-booking-backend/config"
	"pod-booking-backend/internal/mw"
	"pod-booking-backend/internal/service"
	"pod-booking-backend/internal/store"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Server   config.ServerConfig
	Service  *service.Service
	Store    store.Store
	Webpush  *webpush.Options
	Location *time.Location
	Log      *zap.Logger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(o RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(o.Server.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = o.Server.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AddAllowHeaders("Authorization")
	r.Use(cors.New(corsCfg))

	handler := NewHandler(o.Service, o.Store, o.Webpush, o.Location, o.Log)

	rateLimiter := mw.RateLimiter(rate.Limit(o.Server.RateLimitPerSec), o.Server.RateLimitBurst)

	ttl := time.Duration(o.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)
	invalidate := mw.Invalidate(cacheStore)
	auth := mw.Auth([]byte(o.Server.JWTSecret))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/pods/:id/availability", caching, handler.GetAvailability)
		api.GET("/pods/:id/next-slot", caching, handler.GetNextSlot)
		api.POST("/pods/:id/access-codes/validate", handler.ValidateAccessCode)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

		// provider-signed, no bearer token
		api.POST("/webhooks/payments", invalidate, handler.PaymentWebhook)

		user := api.Group("", auth, invalidate)
		user.POST("/bookings", handler.CreateBooking)
		user.GET("/bookings/:id", handler.GetBooking)
		user.POST("/bookings/:id/authorize", handler.AuthorizePayment)
		user.POST("/bookings/:id/cancel", handler.CancelBooking)
		user.POST("/bookings/:id/unlock", handler.UnlockPod)
		user.POST("/bookings/:id/end", handler.EndBooking)
		user.POST("/bookings/:id/access-code", handler.IssueAccessCode)

		user.GET("/subscriptions", handler.GetSubscriptions)
		user.PUT("/subscriptions", handler.PutSubscription)
		user.DELETE("/subscriptions", handler.DeleteSubscription)

		ops := api.Group("/pods/:id", auth, mw.RequireOperator(), invalidate)
		ops.POST("/maintenance", handler.SetMaintenance)
		ops.POST("/restore", handler.RestorePod)
		ops.POST("/shutdown", handler.EmergencyShutdown)
	}

	return r
}
