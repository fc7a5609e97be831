package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/feed"
	"github.com/campusguard/backend/internal/geo"
	"github.com/campusguard/backend/internal/models"
	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/metrics"
)

const (
	// DefaultBeaconDuration is applied when activation omits a duration.
	DefaultBeaconDuration = 300 * time.Second
	// DefaultExtendDuration is applied when extension omits a duration.
	DefaultExtendDuration = 300 * time.Second
	// DefaultNearbyRadiusMeters bounds nearby searches when no radius is given.
	DefaultNearbyRadiusMeters = 2000.0
	// MaxNearbyRadiusMeters caps how wide a nearby search may reach.
	MaxNearbyRadiusMeters = 25000.0

	expiredResolutionNote = "Beacon expired automatically"
	manualResolutionNote  = "Beacon deactivated by user"
)

// activeBeaconGuard is the condition every beacon mutation must satisfy.
// Using it in a single conditional UPDATE removes the read-then-write race
// between manual deactivation, extension, and expiry.
const activeBeaconGuard = "status = ? AND beacon_active = ?"

// ActivateBeaconInput carries the parameters for starting a beacon session.
type ActivateBeaconInput struct {
	UserID          string
	ProfileID       *string
	Coordinates     []float64
	Address         string
	CampusLocation  string
	Building        string
	Room            string
	Accuracy        *float64
	DurationSeconds int
	Description     string
	ShareWithCampus bool
}

// UpdateBeaconLocationInput carries a location refresh for an active beacon.
type UpdateBeaconLocationInput struct {
	UserID         string
	Coordinates    []float64
	Address        string
	CampusLocation string
	Building       string
	Room           string
	Accuracy       *float64
}

// BeaconStatusDTO describes the caller's current beacon state.
type BeaconStatusDTO struct {
	BeaconActive     bool       `json:"beacon_active"`
	AlertID          string     `json:"alert_id,omitempty"`
	Coordinates      []float64  `json:"coordinates,omitempty"`
	Address          string     `json:"address,omitempty"`
	CampusLocation   string     `json:"campus_location,omitempty"`
	Building         string     `json:"building,omitempty"`
	Room             string     `json:"room,omitempty"`
	Description      string     `json:"description,omitempty"`
	ShareWithCampus  bool       `json:"share_with_campus,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	TimeRemainingSec int        `json:"time_remaining_seconds,omitempty"`
}

// NearbyBeaconDTO is a beacon returned from a radius search.
type NearbyBeaconDTO struct {
	AlertID        string    `json:"alert_id"`
	UserID         string    `json:"user_id"`
	Coordinates    []float64 `json:"coordinates"`
	CampusLocation string    `json:"campus_location,omitempty"`
	Building       string    `json:"building,omitempty"`
	Description    string    `json:"description,omitempty"`
	DistanceMeters float64   `json:"distance_meters"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// NearbySearchDTO wraps a radius search with its parameters.
type NearbySearchDTO struct {
	Beacons            []NearbyBeaconDTO `json:"nearby_beacons"`
	SearchRadiusMeters float64           `json:"search_radius_meters"`
	TotalActive        int               `json:"total_active"`
}

// BeaconHistoryItem summarises a past beacon session.
type BeaconHistoryItem struct {
	AlertID         string             `json:"alert_id"`
	Status          models.AlertStatus `json:"status"`
	Coordinates     []float64          `json:"coordinates"`
	CampusLocation  string             `json:"campus_location,omitempty"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
	DurationSeconds int                `json:"duration_seconds"`
	CreatedAt       time.Time          `json:"created_at"`
}

// BeaconStatsDTO aggregates the caller's beacon usage.
type BeaconStatsDTO struct {
	TotalSessions          int     `json:"total_sessions"`
	ActiveSessions         int     `json:"active_sessions"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
}

// BeaconService drives the beacon lifecycle: activation, expiry, manual
// deactivation, extension, and geospatial lookup.
type BeaconService struct {
	db              *gorm.DB
	hub             *feed.Hub
	clock           func() time.Time
	defaultDuration time.Duration
	extendDuration  time.Duration
}

// BeaconOption customises the BeaconService.
type BeaconOption func(*BeaconService)

// WithBeaconClock injects a time source, primarily for expiry tests.
func WithBeaconClock(clock func() time.Time) BeaconOption {
	return func(s *BeaconService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBeaconDurations overrides the session and extension durations applied
// when a request omits them.
func WithBeaconDurations(defaultDuration, extendDuration time.Duration) BeaconOption {
	return func(s *BeaconService) {
		if defaultDuration > 0 {
			s.defaultDuration = defaultDuration
		}
		if extendDuration > 0 {
			s.extendDuration = extendDuration
		}
	}
}

// NewBeaconService constructs a BeaconService.
func NewBeaconService(db *gorm.DB, hub *feed.Hub, opts ...BeaconOption) (*BeaconService, error) {
	if db == nil {
		return nil, errors.New("beacon service: db is required")
	}

	s := &BeaconService{
		db:              db,
		hub:             hub,
		clock:           time.Now,
		defaultDuration: DefaultBeaconDuration,
		extendDuration:  DefaultExtendDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Activate starts a beacon session for the caller. At most one beacon may be
// active per user; the check and insert run in one transaction.
func (s *BeaconService) Activate(ctx context.Context, input ActivateBeaconInput) (*BeaconStatusDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("beacon service: user id is required")
	}

	point, err := geo.ParseCoordinates(input.Coordinates)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	duration := time.Duration(input.DurationSeconds) * time.Second
	if duration <= 0 {
		duration = s.defaultDuration
	}

	now := s.clock()
	end := now.Add(duration)

	alert := models.Alert{
		UserID:          userID,
		HealthProfileID: input.ProfileID,
		AlertType:       models.AlertTypeBeacon,
		Severity:        models.SeverityMedium,
		Status:          models.StatusActive,
		Longitude:       point.Longitude,
		Latitude:        point.Latitude,
		Address:         strings.TrimSpace(input.Address),
		CampusLocation:  strings.TrimSpace(input.CampusLocation),
		Building:        strings.TrimSpace(input.Building),
		Room:            strings.TrimSpace(input.Room),
		Accuracy:        input.Accuracy,
		BeaconActive:    true,
		BeaconStartTime: &now,
		BeaconEndTime:   &end,
		ShareWithCampus: input.ShareWithCampus,
		Description:     strings.TrimSpace(input.Description),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Alert{}).
			Where("user_id = ?", userID).
			Where(activeBeaconGuard, models.StatusActive, true).
			Count(&active).Error; err != nil {
			return fmt.Errorf("beacon service: count active beacons: %w", err)
		}
		if active > 0 {
			return apperrors.ErrBeaconAlreadyActive
		}

		return tx.Create(&alert).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("beacon service: activate: %w", err)
	}

	metrics.AlertsCreated.WithLabelValues(string(models.AlertTypeBeacon)).Inc()
	metrics.ActiveBeacons.Inc()

	if s.hub != nil && alert.ShareWithCampus {
		s.hub.Broadcast(feed.Event{
			Event:   feed.EventBeaconActivated,
			AlertID: alert.ID,
			Data: map[string]any{
				"coordinates":     alert.Coordinates(),
				"campus_location": alert.CampusLocation,
				"expires_at":      end,
			},
		})
	}

	return s.statusFromAlert(&alert, now), nil
}

// Deactivate stops the caller's active beacon. The transition is a single
// conditional update so a concurrent expiry sweep cannot be overwritten.
func (s *BeaconService) Deactivate(ctx context.Context, userID string) (*BeaconStatusDTO, error) {
	ctx = ensureContext(ctx)

	alert, err := s.findActiveBeacon(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	result := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", alert.ID).
		Where(activeBeaconGuard, models.StatusActive, true).
		Updates(map[string]any{
			"status":           models.StatusResolved,
			"beacon_active":    false,
			"beacon_end_time":  now,
			"resolution_time":  now,
			"resolution_notes": manualResolutionNote,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("beacon service: deactivate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrNoActiveBeacon
	}

	metrics.ActiveBeacons.Dec()

	if s.hub != nil && alert.ShareWithCampus {
		s.hub.Broadcast(feed.Event{Event: feed.EventBeaconDeactivated, AlertID: alert.ID})
	}

	return &BeaconStatusDTO{BeaconActive: false, AlertID: alert.ID, ExpiresAt: &now}, nil
}

// Extend pushes the caller's beacon end time further out. Because expiry is
// evaluated against beacon_end_time rather than a scheduled timer, the
// extension takes effect without rescheduling anything.
func (s *BeaconService) Extend(ctx context.Context, userID string, additionalSeconds int) (*BeaconStatusDTO, error) {
	ctx = ensureContext(ctx)

	extension := time.Duration(additionalSeconds) * time.Second
	if extension <= 0 {
		extension = s.extendDuration
	}

	alert, err := s.findActiveBeacon(ctx, userID)
	if err != nil {
		return nil, err
	}

	if alert.BeaconEndTime == nil {
		return nil, fmt.Errorf("beacon service: record %s has no end time", alert.ID)
	}
	newEnd := alert.BeaconEndTime.Add(extension)

	// Guard on the previous end time as well so a concurrent extend or the
	// expiry sweep loses cleanly instead of silently stacking.
	result := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND beacon_end_time = ?", alert.ID, alert.BeaconEndTime).
		Where(activeBeaconGuard, models.StatusActive, true).
		Update("beacon_end_time", newEnd)
	if result.Error != nil {
		return nil, fmt.Errorf("beacon service: extend: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrNoActiveBeacon
	}

	alert.BeaconEndTime = &newEnd
	return s.statusFromAlert(alert, s.clock()), nil
}

// UpdateLocation overwrites the location fields on the caller's active beacon.
func (s *BeaconService) UpdateLocation(ctx context.Context, input UpdateBeaconLocationInput) (*BeaconStatusDTO, error) {
	ctx = ensureContext(ctx)

	point, err := geo.ParseCoordinates(input.Coordinates)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	alert, err := s.findActiveBeacon(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"longitude":       point.Longitude,
		"latitude":        point.Latitude,
		"address":         strings.TrimSpace(input.Address),
		"campus_location": strings.TrimSpace(input.CampusLocation),
		"building":        strings.TrimSpace(input.Building),
		"room":            strings.TrimSpace(input.Room),
	}
	if input.Accuracy != nil {
		updates["accuracy"] = *input.Accuracy
	}

	result := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", alert.ID).
		Where(activeBeaconGuard, models.StatusActive, true).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("beacon service: update location: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrNoActiveBeacon
	}

	alert.Longitude = point.Longitude
	alert.Latitude = point.Latitude
	return s.statusFromAlert(alert, s.clock()), nil
}

// Status reports the caller's beacon state. An overdue record found here is
// resolved lazily so clients never observe an expired beacon as active.
func (s *BeaconService) Status(ctx context.Context, userID string) (*BeaconStatusDTO, error) {
	ctx = ensureContext(ctx)

	alert, err := s.findActiveBeacon(ctx, userID)
	if errors.Is(err, apperrors.ErrNoActiveBeacon) {
		return &BeaconStatusDTO{BeaconActive: false}, nil
	}
	if err != nil {
		return nil, err
	}

	return s.statusFromAlert(alert, s.clock()), nil
}

// Nearby returns campus-shared active beacons within the radius, nearest
// first. Results are limited to beacons whose owners opted into campus
// sharing; exposing every user's live location to any verified caller was
// judged a privacy defect.
func (s *BeaconService) Nearby(ctx context.Context, coordinates []float64, radiusMeters float64) (*NearbySearchDTO, error) {
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

	now := s.clock()
	box := geo.BoundsForRadius(centre, radiusMeters)

	var rows []models.Alert
	err = s.db.WithContext(ctx).
		Where(activeBeaconGuard, models.StatusActive, true).
		Where("share_with_campus = ?", true).
		Where("beacon_end_time > ?", now).
		Where("longitude BETWEEN ? AND ?", box.MinLongitude, box.MaxLongitude).
		Where("latitude BETWEEN ? AND ?", box.MinLatitude, box.MaxLatitude).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("beacon service: nearby query: %w", err)
	}

	out := make([]NearbyBeaconDTO, 0, len(rows))
	for _, row := range rows {
		distance := geo.DistanceMeters(centre, geo.Point{Longitude: row.Longitude, Latitude: row.Latitude})
		if distance > radiusMeters {
			continue
		}
		out = append(out, NearbyBeaconDTO{
			AlertID:        row.ID,
			UserID:         row.UserID,
			Coordinates:    row.Coordinates(),
			CampusLocation: row.CampusLocation,
			Building:       row.Building,
			Description:    row.Description,
			DistanceMeters: math.Round(distance),
			ExpiresAt:      *row.BeaconEndTime,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return &NearbySearchDTO{
		Beacons:            out,
		SearchRadiusMeters: radiusMeters,
		TotalActive:        len(out),
	}, nil
}

// History returns the caller's past beacon sessions, newest first.
func (s *BeaconService) History(ctx context.Context, userID string, page, perPage int) ([]BeaconHistoryItem, int, error) {
	ctx = ensureContext(ctx)
	page, perPage = clampPage(page, perPage)

	query := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("user_id = ? AND alert_type = ?", userID, models.AlertTypeBeacon)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("beacon service: count history: %w", err)
	}

	var rows []models.Alert
	if err := query.
		Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("beacon service: list history: %w", err)
	}

	items := make([]BeaconHistoryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, BeaconHistoryItem{
			AlertID:         row.ID,
			Status:          row.Status,
			Coordinates:     row.Coordinates(),
			CampusLocation:  row.CampusLocation,
			StartedAt:       row.BeaconStartTime,
			EndedAt:         row.BeaconEndTime,
			DurationSeconds: beaconDurationSeconds(row),
			CreatedAt:       row.CreatedAt,
		})
	}
	return items, int(total), nil
}

// Stats aggregates the caller's beacon usage.
func (s *BeaconService) Stats(ctx context.Context, userID string) (*BeaconStatsDTO, error) {
	ctx = ensureContext(ctx)

	var rows []models.Alert
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND alert_type = ?", userID, models.AlertTypeBeacon).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("beacon service: load sessions: %w", err)
	}

	stats := BeaconStatsDTO{TotalSessions: len(rows)}
	var completed int
	var totalSeconds float64
	for _, row := range rows {
		if row.Status == models.StatusActive && row.BeaconActive {
			stats.ActiveSessions++
			continue
		}
		if secs := beaconDurationSeconds(row); secs > 0 {
			completed++
			totalSeconds += float64(secs)
		}
	}
	if completed > 0 {
		stats.AverageDurationSeconds = totalSeconds / float64(completed)
	}
	return &stats, nil
}

// ExpireOverdue resolves every beacon whose end time has passed. Each
// transition is a conditional update, so a beacon deactivated or extended
// between the query and the write is left untouched. Called from the
// maintenance sweeper; safe to run repeatedly.
func (s *BeaconService) ExpireOverdue(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	now := s.clock()

	var overdue []models.Alert
	err := s.db.WithContext(ctx).
		Where(activeBeaconGuard, models.StatusActive, true).
		Where("beacon_end_time <= ?", now).
		Find(&overdue).Error
	if err != nil {
		return 0, fmt.Errorf("beacon service: find overdue beacons: %w", err)
	}

	expired := 0
	for i := range overdue {
		ok, err := s.resolveExpired(ctx, &overdue[i])
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// SyncActiveGauge resets the active-beacon gauge from a database count. The
// gauge is otherwise only adjusted in-process, so a restart would report zero
// while active beacons still exist.
func (s *BeaconService) SyncActiveGauge(ctx context.Context) error {
	ctx = ensureContext(ctx)

	var active int64
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where(activeBeaconGuard, models.StatusActive, true).
		Count(&active).Error
	if err != nil {
		return fmt.Errorf("beacon service: count active beacons: %w", err)
	}

	metrics.ActiveBeacons.Set(float64(active))
	return nil
}

func (s *BeaconService) resolveExpired(ctx context.Context, alert *models.Alert) (bool, error) {
	now := s.clock()

	result := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND beacon_end_time <= ?", alert.ID, now).
		Where(activeBeaconGuard, models.StatusActive, true).
		Updates(map[string]any{
			"status":           models.StatusResolved,
			"beacon_active":    false,
			"resolution_time":  now,
			"resolution_notes": expiredResolutionNote,
		})
	if result.Error != nil {
		return false, fmt.Errorf("beacon service: expire beacon %s: %w", alert.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	metrics.ActiveBeacons.Dec()

	if s.hub != nil && alert.ShareWithCampus {
		s.hub.Broadcast(feed.Event{Event: feed.EventBeaconExpired, AlertID: alert.ID})
	}
	return true, nil
}

// findActiveBeacon loads the caller's active beacon record, lazily resolving
// it when the end time has already passed.
func (s *BeaconService) findActiveBeacon(ctx context.Context, userID string) (*models.Alert, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("beacon service: user id is required")
	}

	var alert models.Alert
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where(activeBeaconGuard, models.StatusActive, true).
		Take(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNoActiveBeacon
	}
	if err != nil {
		return nil, fmt.Errorf("beacon service: load active beacon: %w", err)
	}

	if alert.BeaconExpired(s.clock()) {
		if _, err := s.resolveExpired(ctx, &alert); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrNoActiveBeacon
	}

	return &alert, nil
}

func (s *BeaconService) statusFromAlert(alert *models.Alert, now time.Time) *BeaconStatusDTO {
	dto := &BeaconStatusDTO{
		BeaconActive:    true,
		AlertID:         alert.ID,
		Coordinates:     alert.Coordinates(),
		Address:         alert.Address,
		CampusLocation:  alert.CampusLocation,
		Building:        alert.Building,
		Room:            alert.Room,
		Description:     alert.Description,
		ShareWithCampus: alert.ShareWithCampus,
		StartedAt:       alert.BeaconStartTime,
		ExpiresAt:       alert.BeaconEndTime,
	}
	if alert.BeaconEndTime != nil {
		remaining := alert.BeaconEndTime.Sub(now)
		if remaining > 0 {
			dto.TimeRemainingSec = int(math.Ceil(remaining.Seconds()))
		}
	}
	return dto
}

func beaconDurationSeconds(alert models.Alert) int {
	if alert.BeaconStartTime == nil {
		return 0
	}
	end := alert.BeaconEndTime
	if alert.ResolutionTime != nil {
		end = alert.ResolutionTime
	}
	if end == nil || end.Before(*alert.BeaconStartTime) {
		return 0
	}
	return int(end.Sub(*alert.BeaconStartTime).Seconds())
}
