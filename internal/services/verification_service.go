package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/models"
	"github.com/campusguard/backend/pkg/crypto"
	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/logger"
	"github.com/campusguard/backend/pkg/mail"
)

const (
	// DefaultVerificationTTL is how long an email verification token stays valid.
	DefaultVerificationTTL = 24 * time.Hour

	verificationTokenBytes = 32
)

// ErrInvalidToken is returned when a verification token is unknown, expired,
// or already consumed.
var ErrInvalidToken = apperrors.New("INVALID_TOKEN", "Verification token is invalid or expired", 400)

// VerificationService issues and consumes email verification tokens.
type VerificationService struct {
	db     *gorm.DB
	mailer mail.Mailer
	ttl    time.Duration
	clock  func() time.Time
}

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationTTL overrides the token lifetime.
func WithVerificationTTL(ttl time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithVerificationClock injects a time source for tests.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewVerificationService constructs a VerificationService.
func NewVerificationService(db *gorm.DB, mailer mail.Mailer, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}
	if mailer == nil {
		return nil, errors.New("verification service: mailer is required")
	}

	s := &VerificationService{db: db, mailer: mailer, ttl: DefaultVerificationTTL, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueToken creates a fresh verification token for the user and emails it.
// Any unused tokens for the same user are invalidated first so only the most
// recent email works.
func (s *VerificationService) IssueToken(ctx context.Context, userID string) (string, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("verification service: load user: %w", err)
	}
	if user.IsVerified {
		return "", apperrors.NewBadRequest("Account is already verified")
	}

	token, err := crypto.RandomToken(verificationTokenBytes)
	if err != nil {
		return "", fmt.Errorf("verification service: %w", err)
	}

	now := s.clock()
	record := models.VerificationToken{
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.ttl),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.VerificationToken{}).
			Where("user_id = ? AND used_at IS NULL", user.ID).
			Update("used_at", now).Error; err != nil {
			return fmt.Errorf("invalidate previous tokens: %w", err)
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return "", fmt.Errorf("verification service: issue token: %w", err)
	}

	msg := mail.Message{
		To:      []string{user.Email},
		Subject: "Verify your CampusGuard account",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour verification code is:\n\n    %s\n\nIt expires in %s. If you did not create this account, ignore this message.\n",
			defaultIfEmpty(user.FirstName, "there"), token, s.ttl,
		),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		// The token stays valid; the user can request a resend.
		logger.WithModule("verification").Error("failed to send verification email",
			zap.String("user_id", user.ID), zap.Error(err))
	}

	return token, nil
}

// Consume validates the token and marks the owning account verified. A token
// works exactly once.
func (s *VerificationService) Consume(ctx context.Context, token string) error {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}

	now := s.clock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.VerificationToken
		err := tx.Where("token_hash = ?", hashToken(token)).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return fmt.Errorf("verification service: load token: %w", err)
		}

		if record.UsedAt != nil || now.After(record.ExpiresAt) {
			return ErrInvalidToken
		}

		if err := tx.Model(&record).Update("used_at", now).Error; err != nil {
			return fmt.Errorf("verification service: mark token used: %w", err)
		}

		result := tx.Model(&models.User{}).
			Where("id = ?", record.UserID).
			Update("is_verified", true)
		if result.Error != nil {
			return fmt.Errorf("verification service: mark user verified: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvalidToken
		}
		return nil
	})
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
