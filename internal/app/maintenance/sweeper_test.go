package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusguard/backend/internal/cache"
	"github.com/campusguard/backend/internal/database/testutil"
	"github.com/campusguard/backend/internal/models"
	"github.com/campusguard/backend/internal/services"
)

func TestRunOnceSweepsEverything(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	beacons, err := services.NewBeaconService(db, nil, services.WithBeaconClock(clock))
	require.NoError(t, err)
	emergencies, err := services.NewEmergencyService(db, nil,
		services.WithEmergencyClock(clock),
		services.WithDispatchDelay(10*time.Second))
	require.NoError(t, err)

	// An overdue beacon.
	_, err = beacons.Activate(context.Background(), services.ActivateBeaconInput{
		UserID:          "user-1",
		Coordinates:     []float64{-71.1, 42.35},
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	// An SOS whose dispatch timer was lost.
	sos, err := emergencies.CreateSOS(context.Background(), services.CreateSOSInput{
		UserID:      "user-2",
		Coordinates: []float64{-71.1, 42.35},
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Alert{}).
		Where("id = ?", sos.ID).
		Update("created_at", now.Add(-time.Minute)).Error)

	// An expired verification token and a consumed one.
	expired := models.VerificationToken{UserID: "user-1", TokenHash: "hash-a", ExpiresAt: now.Add(-time.Hour)}
	used := models.VerificationToken{UserID: "user-2", TokenHash: "hash-b", ExpiresAt: now.Add(time.Hour), UsedAt: &now}
	live := models.VerificationToken{UserID: "user-3", TokenHash: "hash-c", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, db.Create(&expired).Error)
	require.NoError(t, db.Create(&used).Error)
	require.NoError(t, db.Create(&live).Error)

	store := cache.NewDatabaseStore(db)

	now = now.Add(2 * time.Minute)

	sweeper := NewSweeper(db, beacons, emergencies, store, WithNow(clock))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var beacon models.Alert
	require.NoError(t, db.Where("user_id = ?", "user-1").Take(&beacon).Error)
	require.Equal(t, models.StatusResolved, beacon.Status)
	require.False(t, beacon.BeaconActive)

	var alert models.Alert
	require.NoError(t, db.Take(&alert, "id = ?", sos.ID).Error)
	require.True(t, alert.SecondaryContactSent)

	var tokens int64
	require.NoError(t, db.Model(&models.VerificationToken{}).Count(&tokens).Error)
	require.EqualValues(t, 1, tokens)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	beacons, err := services.NewBeaconService(db, nil, services.WithBeaconClock(clock))
	require.NoError(t, err)

	_, err = beacons.Activate(context.Background(), services.ActivateBeaconInput{
		UserID:          "user-1",
		Coordinates:     []float64{-71.1, 42.35},
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)

	sweeper := NewSweeper(db, beacons, nil, nil, WithNow(clock))
	require.NoError(t, sweeper.RunOnce(context.Background()))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var resolved int64
	require.NoError(t, db.Model(&models.Alert{}).
		Where("status = ?", models.StatusResolved).
		Count(&resolved).Error)
	require.EqualValues(t, 1, resolved)
}

func TestStartRegistersJobs(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	beacons, err := services.NewBeaconService(db, nil)
	require.NoError(t, err)

	sweeper := NewSweeper(db, beacons, nil, nil,
		WithBeaconSchedule("@every 1h"),
		WithTokenSchedule("@daily"))
	require.NoError(t, sweeper.Start())
	<-sweeper.Stop().Done()
}
