package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/app"
	iauth "github.com/campusguard/backend/internal/auth"
	"github.com/campusguard/backend/internal/database/testutil"
	"github.com/campusguard/backend/internal/feed"
	"github.com/campusguard/backend/internal/middleware"
	"github.com/campusguard/backend/internal/services"
	"github.com/campusguard/backend/pkg/mail"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router       *gin.Engine
	db           *gorm.DB
	verification *services.VerificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t)

	cfg := &app.Config{}
	cfg.Auth.JWT.Secret = "test-secret"
	cfg.Auth.JWT.Issuer = "campusguard"
	cfg.RateLimits.BeaconActivate = app.RateLimitRule{Limit: 100, Window: time.Hour}
	cfg.RateLimits.SOSCreate = app.RateLimitRule{Limit: 2, Window: time.Hour}
	cfg.RateLimits.VerifyResend = app.RateLimitRule{Limit: 100, Window: time.Hour}

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: cfg.Auth.JWT.Secret, Issuer: cfg.Auth.JWT.Issuer})
	require.NoError(t, err)
	local, err := iauth.NewLocalAuthenticator(db, iauth.LocalConfig{})
	require.NoError(t, err)

	mailer := mail.NewSMTPMailer(mail.SMTPSettings{Enabled: false})
	verification, err := services.NewVerificationService(db, mailer)
	require.NoError(t, err)
	profiles, err := services.NewProfileService(db)
	require.NoError(t, err)
	hub := feed.NewHub()
	beacons, err := services.NewBeaconService(db, hub)
	require.NoError(t, err)
	emergencies, err := services.NewEmergencyService(db, hub, services.WithDispatchDelay(0))
	require.NoError(t, err)

	router, err := NewRouter(Deps{
		DB:           db,
		Config:       cfg,
		JWT:          jwt,
		Local:        local,
		Verification: verification,
		Profiles:     profiles,
		Beacons:      beacons,
		Emergencies:  emergencies,
		Hub:          hub,
		RateStore:    middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &fixture{router: router, db: db, verification: verification}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

// registerVerifiedUser walks the full onboarding flow and returns an access token.
func (f *fixture) registerVerifiedUser(t *testing.T, email string) string {
	t.Helper()

	w := f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":      email,
		"password":   "correct horse battery",
		"first_name": "Alex",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	userID := decodeData(t, w)["id"].(string)

	// Reissue to obtain a raw token; the handler only emails it.
	token, err := f.verification.IssueToken(context.Background(), userID)
	require.NoError(t, err)

	w = f.do(t, http.MethodPost, "/api/auth/verify", "", gin.H{"token": token})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    email,
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, w.Code)

	tokens := decodeData(t, w)["tokens"].(map[string]any)
	return tokens["access_token"].(string)
}

func (f *fixture) createProfile(t *testing.T, token string) {
	t.Helper()
	w := f.do(t, http.MethodPut, "/api/profile", token, gin.H{
		"blood_type":            "O+",
		"primary_contact_name":  "Jordan Lee",
		"primary_contact_phone": "+1 555 0100",
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestOnboardingAndBeaconFlow(t *testing.T) {
	f := newFixture(t)
	token := f.registerVerifiedUser(t, "alice@example.edu")
	f.createProfile(t, token)

	w := f.do(t, http.MethodPost, "/api/beacon/activate", token, gin.H{
		"coordinates":       []float64{-71.0935, 42.3591},
		"campus_location":   "Science Quad",
		"share_with_campus": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	require.Equal(t, true, data["beacon_active"])

	w = f.do(t, http.MethodGet, "/api/beacon/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/beacon/activate", token, gin.H{
		"coordinates": []float64{-71.0935, 42.3591},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "BEACON_ALREADY_ACTIVE")

	w = f.do(t, http.MethodPut, "/api/beacon/deactivate", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/api/beacon/deactivate", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NO_ACTIVE_BEACON")
}

func TestAccessGateOrdering(t *testing.T) {
	f := newFixture(t)

	// No token at all.
	w := f.do(t, http.MethodGet, "/api/beacon/status", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Registered but unverified.
	w = f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":      "bob@example.edu",
		"password":   "correct horse battery",
		"first_name": "Bob",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "bob@example.edu",
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeData(t, w)["tokens"].(map[string]any)["access_token"].(string)

	w = f.do(t, http.MethodGet, "/api/beacon/status", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "ACCOUNT_NOT_VERIFIED")

	// Verified but no profile yet.
	verified := f.registerVerifiedUser(t, "carol@example.edu")
	w = f.do(t, http.MethodGet, "/api/beacon/status", verified, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "PROFILE_REQUIRED")

	// Profile management itself stays reachable so the gate can be satisfied.
	w = f.do(t, http.MethodGet, "/api/profile", verified, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	f.createProfile(t, verified)
	w = f.do(t, http.MethodGet, "/api/profile", verified, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSOSRateLimit(t *testing.T) {
	f := newFixture(t)
	token := f.registerVerifiedUser(t, "dana@example.edu")
	f.createProfile(t, token)

	sos := gin.H{"coordinates": []float64{-71.1, 42.35}, "description": "help"}

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/emergency/sos", token, sos)
		require.Equal(t, http.StatusCreated, w.Code, "request %d", i)

		// Free the single-alert-per-call path for the next iteration.
		alertID := decodeData(t, w)["id"].(string)
		w = f.do(t, http.MethodPut, fmt.Sprintf("/api/emergency/alerts/%s/cancel", alertID), token, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/emergency/sos", token, sos)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestEmergencyAlertLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	token := f.registerVerifiedUser(t, "erin@example.edu")
	f.createProfile(t, token)

	w := f.do(t, http.MethodPost, "/api/emergency/sos", token, gin.H{
		"coordinates": []float64{-71.1, 42.35},
		"alert_type":  "Medical Emergency",
		"severity":    "Critical",
		"symptoms":    []string{"dizziness"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	alertID := decodeData(t, w)["id"].(string)

	w = f.do(t, http.MethodPut, "/api/emergency/alerts/"+alertID+"/status", token, gin.H{
		"status":           "Resolved",
		"resolution_notes": "assisted on scene",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Resolved", decodeData(t, w)["status"])

	// Terminal states reject further transitions.
	w = f.do(t, http.MethodPut, "/api/emergency/alerts/"+alertID+"/status", token, gin.H{
		"status": "Cancelled",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/emergency/alerts?status=Resolved", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Another user cannot see the alert.
	other := f.registerVerifiedUser(t, "frank@example.edu")
	f.createProfile(t, other)
	w = f.do(t, http.MethodGet, "/api/emergency/alerts/"+alertID, other, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}
