package services

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusguard/backend/internal/database/testutil"
	apperrors "github.com/campusguard/backend/pkg/errors"
)

func TestProfileGetMissingReturnsProfileRequired(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewProfileService(db)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "user-1")
	require.ErrorIs(t, err, apperrors.ErrProfileRequired)
}

func TestProfileUpsertCreatesThenUpdates(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewProfileService(db)
	require.NoError(t, err)

	user := seedUser(t, db, "jordan@example.edu")
	created, err := svc.Upsert(context.Background(), UpsertProfileInput{
		UserID:              user.ID,
		BloodType:           "O-",
		Allergies:           []string{"penicillin"},
		PrimaryContactName:  "Jordan Lee",
		PrimaryContactPhone: "+1 555 0100",
	})
	require.NoError(t, err)
	require.Equal(t, "O-", created.BloodType)
	require.Equal(t, []string{"penicillin"}, created.Allergies)

	updated, err := svc.Upsert(context.Background(), UpsertProfileInput{
		UserID:    user.ID,
		BloodType: "A+",
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "A+", updated.BloodType)
	require.Empty(t, updated.Allergies)

	got, err := svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "A+", got.BloodType)
}

func TestProfileQRCodeRendersPNG(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewProfileService(db)
	require.NoError(t, err)

	user := seedUser(t, db, "alice@example.edu")
	_, err = svc.Upsert(context.Background(), UpsertProfileInput{
		UserID:              user.ID,
		BloodType:           "B+",
		Allergies:           []string{"latex"},
		PrimaryContactName:  "Sam Rivera",
		PrimaryContactPhone: "+1 555 0111",
	})
	require.NoError(t, err)

	data, err := svc.QRCode(context.Background(), user.ID)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 256, img.Bounds().Dx())
}

func TestProfileQRCodeRequiresProfile(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewProfileService(db)
	require.NoError(t, err)

	user := seedUser(t, db, "bob@example.edu")
	_, err = svc.QRCode(context.Background(), user.ID)
	require.ErrorIs(t, err, apperrors.ErrProfileRequired)
}
