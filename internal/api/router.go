package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/app"
	iauth "github.com/campusguard/backend/internal/auth"
	"github.com/campusguard/backend/internal/feed"
	"github.com/campusguard/backend/internal/handlers"
	"github.com/campusguard/backend/internal/middleware"
	"github.com/campusguard/backend/internal/services"
)

// Deps bundles everything the router needs.
type Deps struct {
	DB           *gorm.DB
	Config       *app.Config
	JWT          *iauth.JWTService
	Local        *iauth.LocalAuthenticator
	Verification *services.VerificationService
	Profiles     *services.ProfileService
	Beacons      *services.BeaconService
	Emergencies  *services.EmergencyService
	Hub          *feed.Hub
	RateStore    middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
//
// Safety endpoints sit behind the full access gate: a valid token, an active
// account, a verified account, a stored health profile, and (for alert
// creation) a per-user rate limit.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Local == nil || deps.Verification == nil || deps.Profiles == nil ||
		deps.Beacons == nil || deps.Emergencies == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/health", healthHandler.Check)

	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Local, deps.JWT, deps.Verification)
	profileHandler := handlers.NewProfileHandler(deps.Profiles)
	beaconHandler := handlers.NewBeaconHandler(deps.Beacons)
	emergencyHandler := handlers.NewEmergencyHandler(deps.Emergencies)

	limits := deps.Config.RateLimits

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/verify", authHandler.Verify)
		auth.POST("/verify/resend",
			middleware.RateLimitAction(deps.RateStore, "verify_resend", limits.VerifyResend.Limit, limits.VerifyResend.Window),
			authHandler.ResendVerification)
	}

	requireAuth := middleware.Auth(deps.JWT)
	requireActive := middleware.RequireActiveUser(deps.DB)
	requireVerified := middleware.RequireVerified()
	requireProfile := middleware.RequireProfile(deps.DB)

	api := r.Group("/api")
	api.Use(requireAuth, requireActive)

	api.GET("/auth/me", authHandler.Me)

	// Profile management only needs an active account; the profile is what
	// unlocks the rest.
	profile := api.Group("/profile")
	{
		profile.GET("", profileHandler.Get)
		profile.PUT("", profileHandler.Upsert)
		profile.GET("/qrcode", profileHandler.QRCode)
	}

	// Beacon lifecycle
	beacon := api.Group("/beacon", requireVerified, requireProfile)
	{
		beacon.POST("/activate",
			middleware.RateLimitAction(deps.RateStore, "beacon_activate", limits.BeaconActivate.Limit, limits.BeaconActivate.Window),
			beaconHandler.Activate)
		beacon.PUT("/deactivate", beaconHandler.Deactivate)
		beacon.PUT("/extend", beaconHandler.Extend)
		beacon.PUT("/location", beaconHandler.UpdateLocation)
		beacon.GET("/status", beaconHandler.Status)
		beacon.GET("/nearby", beaconHandler.Nearby)
		beacon.GET("/history", beaconHandler.History)
		beacon.GET("/stats", beaconHandler.Stats)
	}

	// Emergency alerts
	emergency := api.Group("/emergency", requireVerified, requireProfile)
	{
		emergency.POST("/sos",
			middleware.RateLimitAction(deps.RateStore, "sos_create", limits.SOSCreate.Limit, limits.SOSCreate.Window),
			emergencyHandler.CreateSOS)
		emergency.GET("/alerts", emergencyHandler.List)
		emergency.GET("/alerts/:id", emergencyHandler.Get)
		emergency.PUT("/alerts/:id/status", emergencyHandler.UpdateStatus)
		emergency.PUT("/alerts/:id/cancel", emergencyHandler.Cancel)
		emergency.GET("/nearby", emergencyHandler.Nearby)
		emergency.GET("/stats", emergencyHandler.Stats)
	}

	// Live campus alert feed
	if deps.Hub != nil {
		feedHandler := handlers.NewFeedHandler(deps.Hub)
		api.GET("/feed", requireVerified, feedHandler.Subscribe)
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
