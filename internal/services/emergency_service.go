package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/feed"
	"github.com/campusguard/backend/internal/geo"
	"github.com/campusguard/backend/internal/models"
	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/logger"
	"github.com/campusguard/backend/pkg/metrics"
)

// DefaultDispatchDelay is the grace period between raising an SOS and
// notifying contacts, giving the user a short window to cancel a slip.
const DefaultDispatchDelay = 10 * time.Second

// CreateSOSInput carries the parameters for raising an emergency alert.
type CreateSOSInput struct {
	UserID          string
	ProfileID       *string
	AlertType       models.AlertType
	Severity        models.AlertSeverity
	Coordinates     []float64
	Address         string
	CampusLocation  string
	Building        string
	Room            string
	Accuracy        *float64
	Description     string
	Symptoms        []string
	ShareWithCampus bool
}

// UpdateAlertStatusInput carries a lifecycle transition for an alert.
type UpdateAlertStatusInput struct {
	UserID          string
	AlertID         string
	Status          models.AlertStatus
	ResolutionNotes string
}

// AlertDTO is the API-facing emergency alert payload.
type AlertDTO struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	AlertType       models.AlertType     `json:"alert_type"`
	Severity        models.AlertSeverity `json:"severity"`
	Status          models.AlertStatus   `json:"status"`
	Coordinates     []float64            `json:"coordinates"`
	Address         string               `json:"address,omitempty"`
	CampusLocation  string               `json:"campus_location,omitempty"`
	Building        string               `json:"building,omitempty"`
	Room            string               `json:"room,omitempty"`
	Description     string               `json:"description,omitempty"`
	Symptoms        []string             `json:"symptoms,omitempty"`
	ResolutionNotes string               `json:"resolution_notes,omitempty"`
	NotifiedAt      *time.Time           `json:"notified_at,omitempty"`
	ResolvedAt      *time.Time           `json:"resolved_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`

	Notifications AlertNotificationsDTO `json:"notifications"`
}

// AlertNotificationsDTO reports per-channel dispatch state.
type AlertNotificationsDTO struct {
	EmergencyServices bool `json:"emergency_services"`
	CampusPolice      bool `json:"campus_police"`
	PrimaryContact    bool `json:"primary_contact"`
	SecondaryContact  bool `json:"secondary_contact"`
}

// NearbyAlertDTO is an active emergency returned from a radius search.
type NearbyAlertDTO struct {
	AlertID        string               `json:"alert_id"`
	AlertType      models.AlertType     `json:"alert_type"`
	Severity       models.AlertSeverity `json:"severity"`
	Coordinates    []float64            `json:"coordinates"`
	CampusLocation string               `json:"campus_location,omitempty"`
	DistanceMeters float64              `json:"distance_meters"`
	CreatedAt      time.Time            `json:"created_at"`
}

// AlertStatsDTO aggregates the caller's alert history.
type AlertStatsDTO struct {
	Total              int                          `json:"total"`
	Active             int                          `json:"active"`
	ByType             map[models.AlertType]int     `json:"by_type"`
	BySeverity         map[models.AlertSeverity]int `json:"by_severity"`
	AverageResponseSec float64                      `json:"average_response_seconds"`
}

// EmergencyService manages SOS-style alerts and their notification dispatch.
type EmergencyService struct {
	db            *gorm.DB
	hub           *feed.Hub
	clock         func() time.Time
	dispatchDelay time.Duration
	scheduler     func(delay time.Duration, fn func())
}

// EmergencyOption customises the EmergencyService.
type EmergencyOption func(*EmergencyService)

// WithEmergencyClock injects a time source for tests.
func WithEmergencyClock(clock func() time.Time) EmergencyOption {
	return func(s *EmergencyService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDispatchDelay overrides the cancellation grace period. A zero delay
// dispatches synchronously, which tests rely on.
func WithDispatchDelay(delay time.Duration) EmergencyOption {
	return func(s *EmergencyService) {
		if delay >= 0 {
			s.dispatchDelay = delay
		}
	}
}

// NewEmergencyService constructs an EmergencyService.
func NewEmergencyService(db *gorm.DB, hub *feed.Hub, opts ...EmergencyOption) (*EmergencyService, error) {
	if db == nil {
		return nil, errors.New("emergency service: db is required")
	}

	s := &EmergencyService{
		db:            db,
		hub:           hub,
		clock:         time.Now,
		dispatchDelay: DefaultDispatchDelay,
		scheduler: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateSOS records an emergency alert and schedules notification dispatch
// after the cancellation grace period. Dispatch itself re-checks the record
// state, so an alert cancelled during the window notifies nobody; the
// maintenance sweeper re-drives any dispatch lost to a crash.
func (s *EmergencyService) CreateSOS(ctx context.Context, input CreateSOSInput) (*AlertDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("emergency service: user id is required")
	}

	point, err := geo.ParseCoordinates(input.Coordinates)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	alertType := input.AlertType
	if alertType == "" {
		alertType = models.AlertTypeSOS
	}
	severity := input.Severity
	if severity == "" {
		severity = models.SeverityHigh
	}

	alert := models.Alert{
		UserID:          userID,
		HealthProfileID: input.ProfileID,
		AlertType:       alertType,
		Severity:        severity,
		Status:          models.StatusActive,
		Longitude:       point.Longitude,
		Latitude:        point.Latitude,
		Address:         strings.TrimSpace(input.Address),
		CampusLocation:  strings.TrimSpace(input.CampusLocation),
		Building:        strings.TrimSpace(input.Building),
		Room:            strings.TrimSpace(input.Room),
		Accuracy:        input.Accuracy,
		ShareWithCampus: input.ShareWithCampus,
		Description:     strings.TrimSpace(input.Description),
		Symptoms:        encodeStrings(input.Symptoms),
	}

	if err := s.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return nil, fmt.Errorf("emergency service: create alert: %w", err)
	}

	metrics.AlertsCreated.WithLabelValues(string(alertType)).Inc()

	if s.hub != nil && alert.ShareWithCampus {
		s.hub.Broadcast(feed.Event{
			Event:   feed.EventSOSCreated,
			AlertID: alert.ID,
			Data: map[string]any{
				"alert_type":      alert.AlertType,
				"severity":        alert.Severity,
				"coordinates":     alert.Coordinates(),
				"campus_location": alert.CampusLocation,
			},
		})
	}

	alertID := alert.ID
	if s.dispatchDelay == 0 {
		if _, err := s.DispatchNotifications(ctx, alertID); err != nil {
			logger.WithModule("emergency").Error("notification dispatch failed",
				zap.String("alert_id", alertID), zap.Error(err))
		}
	} else {
		s.scheduler(s.dispatchDelay, func() {
			if _, err := s.DispatchNotifications(context.Background(), alertID); err != nil {
				logger.WithModule("emergency").Error("notification dispatch failed",
					zap.String("alert_id", alertID), zap.Error(err))
			}
		})
	}

	dto := mapAlert(alert)
	return &dto, nil
}

// DispatchNotifications simulates notifying the four emergency channels for
// an alert. The write is a single conditional update guarded on the alert
// still being Active with notifications pending, so it is safe to call from
// the grace-period timer, the sweeper, or both.
func (s *EmergencyService) DispatchNotifications(ctx context.Context, alertID string) (bool, error) {
	ctx = ensureContext(ctx)

	var alert models.Alert
	err := s.db.WithContext(ctx).Take(&alert, "id = ?", alertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, apperrors.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("emergency service: load alert: %w", err)
	}

	if alert.Status != models.StatusActive || !alert.NotificationsPending() {
		return false, nil
	}

	now := s.clock()
	result := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ? AND secondary_contact_sent = ?", alertID, models.StatusActive, false).
		Updates(map[string]any{
			"emergency_services_sent":     true,
			"emergency_services_attempts": gorm.Expr("emergency_services_attempts + 1"),
			"campus_police_sent":          true,
			"campus_police_attempts":      gorm.Expr("campus_police_attempts + 1"),
			"primary_contact_sent":        true,
			"primary_contact_attempts":    gorm.Expr("primary_contact_attempts + 1"),
			"secondary_contact_sent":      true,
			"secondary_contact_attempts":  gorm.Expr("secondary_contact_attempts + 1"),
			"response_time":               now,
		})
	if result.Error != nil {
		metrics.NotificationDispatches.WithLabelValues("error").Inc()
		return false, fmt.Errorf("emergency service: mark notifications sent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race to a cancel, resolve, or another dispatcher.
		metrics.NotificationDispatches.WithLabelValues("skipped").Inc()
		return false, nil
	}

	for _, channel := range []string{"emergency_services", "campus_police", "primary_contact", "secondary_contact"} {
		logger.WithModule("emergency").Info("notification dispatched",
			zap.String("alert_id", alertID),
			zap.String("channel", channel),
			zap.String("alert_type", string(alert.AlertType)),
			zap.String("severity", string(alert.Severity)),
		)
	}
	metrics.NotificationDispatches.WithLabelValues("sent").Inc()
	return true, nil
}

// DispatchPending re-drives notification dispatch for active alerts whose
// grace period has elapsed but whose notifications never went out, typically
// after a process restart. Called from the maintenance sweeper.
func (s *EmergencyService) DispatchPending(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	cutoff := s.clock().Add(-s.dispatchDelay)

	var pending []models.Alert
	err := s.db.WithContext(ctx).
		Where("status = ? AND secondary_contact_sent = ?", models.StatusActive, false).
		Where("alert_type <> ?", models.AlertTypeBeacon).
		Where("created_at <= ?", cutoff).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("emergency service: find pending dispatches: %w", err)
	}

	dispatched := 0
	for _, alert := range pending {
		ok, err := s.DispatchNotifications(ctx, alert.ID)
		if err != nil {
			return dispatched, err
		}
		if ok {
			dispatched++
		}
	}
	return dispatched, nil
}

// UpdateStatus transitions an alert owned by the caller. Only Active alerts
// move; terminal states are final.
func (s *EmergencyService) UpdateStatus(ctx context.Context, input UpdateAlertStatusInput) (*AlertDTO, error) {
	ctx = ensureContext(ctx)

	alert, err := s.getOwned(ctx, input.UserID, input.AlertID)
	if err != nil {
		return nil, err
	}

	if !models.ValidStatusTransition(alert.Status, input.Status) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("Cannot transition alert from %s to %s", alert.Status, input.Status))
	}

	now := s.clock()
	updates := map[string]any{"status": input.Status}
	if input.Status == models.StatusResolved || input.Status == models.StatusCancelled {
		updates["resolution_time"] = now
		if notes := strings.TrimSpace(input.ResolutionNotes); notes != "" {
			updates["resolution_notes"] = notes
		}
	}

	result := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ?", alert.ID, models.StatusActive).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("emergency service: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewBadRequest("Alert is no longer active")
	}

	if s.hub != nil && alert.ShareWithCampus {
		s.hub.Broadcast(feed.Event{
			Event:   feed.EventAlertUpdated,
			AlertID: alert.ID,
			Data:    map[string]any{"status": input.Status},
		})
	}

	return s.Get(ctx, input.UserID, input.AlertID)
}

// Cancel marks an Active alert Cancelled. Run inside the grace period it
// prevents notification dispatch entirely.
func (s *EmergencyService) Cancel(ctx context.Context, userID, alertID, reason string) (*AlertDTO, error) {
	if reason == "" {
		reason = "Cancelled by user"
	}
	return s.UpdateStatus(ctx, UpdateAlertStatusInput{
		UserID:          userID,
		AlertID:         alertID,
		Status:          models.StatusCancelled,
		ResolutionNotes: reason,
	})
}

// Get returns a single alert owned by the caller.
func (s *EmergencyService) Get(ctx context.Context, userID, alertID string) (*AlertDTO, error) {
	ctx = ensureContext(ctx)

	alert, err := s.getOwned(ctx, userID, alertID)
	if err != nil {
		return nil, err
	}
	dto := mapAlert(*alert)
	return &dto, nil
}

// List returns the caller's alerts, newest first, optionally filtered by status.
func (s *EmergencyService) List(ctx context.Context, userID string, status models.AlertStatus, page, perPage int) ([]AlertDTO, int, error) {
	ctx = ensureContext(ctx)
	page, perPage = clampPage(page, perPage)

	query := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("user_id = ? AND alert_type <> ?", userID, models.AlertTypeBeacon)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("emergency service: count alerts: %w", err)
	}

	var rows []models.Alert
	if err := query.
		Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("emergency service: list alerts: %w", err)
	}

	out := make([]AlertDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapAlert(row))
	}
	return out, int(total), nil
}

// Nearby returns active campus-shared emergencies within the radius, nearest
// first. Beacon sessions have their own search.
func (s *EmergencyService) Nearby(ctx context.Context, coordinates []float64, radiusMeters float64) ([]NearbyAlertDTO, error) {
	ctx = ensureContext(ctx)

	centre, err := geo.ParseCoordinates(coordinates)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	if radiusMeters <= 0 {
		radiusMeters = DefaultNearbyRadiusMeters
	}
	if radiusMeters > MaxNearbyRadiusMeters {
		radiusMeters = MaxNearbyRadiusMeters
	}

	box := geo.BoundsForRadius(centre, radiusMeters)

	var rows []models.Alert
	err = s.db.WithContext(ctx).
		Where("status = ? AND share_with_campus = ?", models.StatusActive, true).
		Where("alert_type <> ?", models.AlertTypeBeacon).
		Where("longitude BETWEEN ? AND ?", box.MinLongitude, box.MaxLongitude).
		Where("latitude BETWEEN ? AND ?", box.MinLatitude, box.MaxLatitude).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("emergency service: nearby query: %w", err)
	}

	out := make([]NearbyAlertDTO, 0, len(rows))
	for _, row := range rows {
		distance := geo.DistanceMeters(centre, geo.Point{Longitude: row.Longitude, Latitude: row.Latitude})
		if distance > radiusMeters {
			continue
		}
		out = append(out, NearbyAlertDTO{
			AlertID:        row.ID,
			AlertType:      row.AlertType,
			Severity:       row.Severity,
			Coordinates:    row.Coordinates(),
			CampusLocation: row.CampusLocation,
			DistanceMeters: math.Round(distance),
			CreatedAt:      row.CreatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

// Stats aggregates the caller's non-beacon alerts.
func (s *EmergencyService) Stats(ctx context.Context, userID string) (*AlertStatsDTO, error) {
	ctx = ensureContext(ctx)

	var rows []models.Alert
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND alert_type <> ?", userID, models.AlertTypeBeacon).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("emergency service: load alerts: %w", err)
	}

	stats := AlertStatsDTO{
		Total:      len(rows),
		ByType:     make(map[models.AlertType]int),
		BySeverity: make(map[models.AlertSeverity]int),
	}

	var responded int
	var totalResponse float64
	for _, row := range rows {
		stats.ByType[row.AlertType]++
		stats.BySeverity[row.Severity]++
		if row.Status == models.StatusActive {
			stats.Active++
		}
		if row.ResponseTime != nil {
			responded++
			totalResponse += row.ResponseTime.Sub(row.CreatedAt).Seconds()
		}
	}
	if responded > 0 {
		stats.AverageResponseSec = totalResponse / float64(responded)
	}
	return &stats, nil
}

func (s *EmergencyService) getOwned(ctx context.Context, userID, alertID string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).Take(&alert, "id = ?", alertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("emergency service: load alert: %w", err)
	}
	// Alerts are private to their owner; hide existence from other accounts.
	if alert.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return &alert, nil
}

func mapAlert(alert models.Alert) AlertDTO {
	return AlertDTO{
		ID:              alert.ID,
		UserID:          alert.UserID,
		AlertType:       alert.AlertType,
		Severity:        alert.Severity,
		Status:          alert.Status,
		Coordinates:     alert.Coordinates(),
		Address:         alert.Address,
		CampusLocation:  alert.CampusLocation,
		Building:        alert.Building,
		Room:            alert.Room,
		Description:     alert.Description,
		Symptoms:        decodeStrings(alert.Symptoms),
		ResolutionNotes: alert.ResolutionNotes,
		NotifiedAt:      alert.ResponseTime,
		ResolvedAt:      alert.ResolutionTime,
		CreatedAt:       alert.CreatedAt,
		Notifications: AlertNotificationsDTO{
			EmergencyServices: alert.EmergencyServicesSent,
			CampusPolice:      alert.CampusPoliceSent,
			PrimaryContact:    alert.PrimaryContactSent,
			SecondaryContact:  alert.SecondaryContactSent,
		},
	}
}
