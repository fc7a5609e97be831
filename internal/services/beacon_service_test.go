package services

import (
	"context"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/database/testutil"
	"github.com/campusguard/backend/internal/models"
	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/metrics"
)

func newBeaconFixture(t *testing.T, now *time.Time, opts ...BeaconOption) (*BeaconService, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t)
	opts = append([]BeaconOption{WithBeaconClock(func() time.Time { return *now })}, opts...)
	svc, err := NewBeaconService(db, nil, opts...)
	require.NoError(t, err)
	return svc, db
}

func TestBeaconActivateDefaultsAndStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	status, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "user-1",
		Coordinates:     []float64{-71.0935, 42.3591},
		CampusLocation:  "Science Quad",
		ShareWithCampus: true,
	})
	require.NoError(t, err)
	require.True(t, status.BeaconActive)
	require.NotEmpty(t, status.AlertID)
	require.Equal(t, []float64{-71.0935, 42.3591}, status.Coordinates)
	require.Equal(t, 300, status.TimeRemainingSec)
	require.Equal(t, now.Add(DefaultBeaconDuration), *status.ExpiresAt)

	got, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, got.BeaconActive)
	require.Equal(t, status.AlertID, got.AlertID)
}

func TestBeaconConfiguredDurations(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now, WithBeaconDurations(60*time.Second, 30*time.Second))

	status, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)
	require.Equal(t, 60, status.TimeRemainingSec)
	require.Equal(t, now.Add(60*time.Second), *status.ExpiresAt)

	extended, err := svc.Extend(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Equal(t, now.Add(90*time.Second), *extended.ExpiresAt)

	// An explicit duration still wins over the configured default.
	extended, err = svc.Extend(context.Background(), "user-1", 120)
	require.NoError(t, err)
	require.Equal(t, now.Add(210*time.Second), *extended.ExpiresAt)
}

func TestBeaconActivateRejectsSecondActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	input := ActivateBeaconInput{UserID: "user-1", Coordinates: []float64{-71.1, 42.35}}
	_, err := svc.Activate(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.Activate(context.Background(), input)
	require.ErrorIs(t, err, apperrors.ErrBeaconAlreadyActive)
}

func TestBeaconActivateRejectsBadCoordinates(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	_, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-200, 42.35},
	})
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
}

func TestBeaconDeactivate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, db := newBeaconFixture(t, &now)

	started, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)

	now = now.Add(90 * time.Second)
	stopped, err := svc.Deactivate(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, stopped.BeaconActive)
	require.Equal(t, started.AlertID, stopped.AlertID)

	var record models.Alert
	require.NoError(t, db.Take(&record, "id = ?", started.AlertID).Error)
	require.Equal(t, models.StatusResolved, record.Status)
	require.False(t, record.BeaconActive)
	require.NotNil(t, record.ResolutionTime)

	_, err = svc.Deactivate(context.Background(), "user-1")
	require.ErrorIs(t, err, apperrors.ErrNoActiveBeacon)
}

func TestBeaconExtendPushesEndTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	started, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)

	extended, err := svc.Extend(context.Background(), "user-1", 120)
	require.NoError(t, err)
	require.Equal(t, started.ExpiresAt.Add(120*time.Second), *extended.ExpiresAt)
	require.Equal(t, 420, extended.TimeRemainingSec)
}

func TestBeaconExtendDefaultsDuration(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	started, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)

	extended, err := svc.Extend(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Equal(t, started.ExpiresAt.Add(DefaultExtendDuration), *extended.ExpiresAt)
}

func TestBeaconStatusResolvesExpiredLazily(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, db := newBeaconFixture(t, &now)

	started, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "user-1",
		Coordinates:     []float64{-71.1, 42.35},
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	now = now.Add(61 * time.Second)

	status, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, status.BeaconActive)

	var record models.Alert
	require.NoError(t, db.Take(&record, "id = ?", started.AlertID).Error)
	require.Equal(t, models.StatusResolved, record.Status)
	require.False(t, record.BeaconActive)
	require.Equal(t, "Beacon expired automatically", record.ResolutionNotes)
}

func TestBeaconExtendOnExpiredReturnsNoActiveBeacon(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	_, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "user-1",
		Coordinates:     []float64{-71.1, 42.35},
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.Extend(context.Background(), "user-1", 120)
	require.ErrorIs(t, err, apperrors.ErrNoActiveBeacon)
}

func TestBeaconExpireOverdueIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	_, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "user-1",
		Coordinates:     []float64{-71.1, 42.35},
		DurationSeconds: 60,
	})
	require.NoError(t, err)
	_, err = svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "user-2",
		Coordinates:     []float64{-71.2, 42.36},
		DurationSeconds: 600,
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	expired, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	// Second sweep finds nothing left to do.
	expired, err = svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Zero(t, expired)

	status, err := svc.Status(context.Background(), "user-2")
	require.NoError(t, err)
	require.True(t, status.BeaconActive)
}

func TestBeaconUpdateLocation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, db := newBeaconFixture(t, &now)

	started, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)

	status, err := svc.UpdateLocation(context.Background(), UpdateBeaconLocationInput{
		UserID:         "user-1",
		Coordinates:    []float64{-71.105, 42.352},
		CampusLocation: "Library",
	})
	require.NoError(t, err)
	require.Equal(t, []float64{-71.105, 42.352}, status.Coordinates)

	var record models.Alert
	require.NoError(t, db.Take(&record, "id = ?", started.AlertID).Error)
	require.Equal(t, "Library", record.CampusLocation)
}

func TestBeaconNearbyFiltersAndSorts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	centre := []float64{-71.0935, 42.3591}

	// ~300m north of centre, shared.
	_, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "near",
		Coordinates:     []float64{-71.0935, 42.3618},
		ShareWithCampus: true,
	})
	require.NoError(t, err)

	// ~1.1km east of centre, shared.
	_, err = svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "far",
		Coordinates:     []float64{-71.0800, 42.3591},
		ShareWithCampus: true,
	})
	require.NoError(t, err)

	// Nearby but private: must never appear.
	_, err = svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "private",
		Coordinates: []float64{-71.0936, 42.3592},
	})
	require.NoError(t, err)

	search, err := svc.Nearby(context.Background(), centre, 2000)
	require.NoError(t, err)
	require.Equal(t, float64(2000), search.SearchRadiusMeters)
	require.Equal(t, 2, search.TotalActive)
	require.Len(t, search.Beacons, 2)
	require.Equal(t, "near", search.Beacons[0].UserID)
	require.Equal(t, "far", search.Beacons[1].UserID)
	require.Less(t, search.Beacons[0].DistanceMeters, search.Beacons[1].DistanceMeters)

	// Tight radius excludes the farther beacon.
	search, err = svc.Nearby(context.Background(), centre, 500)
	require.NoError(t, err)
	require.Len(t, search.Beacons, 1)
	require.Equal(t, "near", search.Beacons[0].UserID)
}

func TestBeaconNearbyExcludesExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	_, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:          "user-1",
		Coordinates:     []float64{-71.0935, 42.3591},
		DurationSeconds: 60,
		ShareWithCampus: true,
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	search, err := svc.Nearby(context.Background(), []float64{-71.0935, 42.3591}, 2000)
	require.NoError(t, err)
	require.Zero(t, search.TotalActive)
	require.Empty(t, search.Beacons)
}

func TestBeaconHistoryAndStats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newBeaconFixture(t, &now)

	_, err := svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = svc.Deactivate(context.Background(), "user-1")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = svc.Activate(context.Background(), ActivateBeaconInput{
		UserID:      "user-1",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)

	items, total, err := svc.History(context.Background(), "user-1", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)

	stats, err := svc.Stats(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalSessions)
	require.Equal(t, 1, stats.ActiveSessions)
	require.InDelta(t, 120, stats.AverageDurationSeconds, 1)
}

func TestBeaconSyncActiveGaugeRestoresCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, db := newBeaconFixture(t, &now)

	for _, user := range []string{"user-1", "user-2"} {
		_, err := svc.Activate(context.Background(), ActivateBeaconInput{
			UserID:      user,
			Coordinates: []float64{-71.1, 42.35},
		})
		require.NoError(t, err)
	}

	// A fresh process knows nothing about beacons activated before it
	// started; the gauge must be rebuilt from the database.
	metrics.ActiveBeacons.Set(0)
	restarted, err := NewBeaconService(db, nil, WithBeaconClock(func() time.Time { return now }))
	require.NoError(t, err)
	require.NoError(t, restarted.SyncActiveGauge(context.Background()))
	require.Equal(t, 2.0, promtestutil.ToFloat64(metrics.ActiveBeacons))
}
