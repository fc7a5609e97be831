package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/models"
	apperrors "github.com/campusguard/backend/pkg/errors"
)

const defaultQRCodeSize = 256

// ProfileDTO is the API-facing health profile payload.
type ProfileDTO struct {
	ID                string   `json:"id"`
	UserID            string   `json:"user_id"`
	BloodType         string   `json:"blood_type,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	Medications       []string `json:"medications,omitempty"`
	MedicalConditions []string `json:"medical_conditions,omitempty"`
	AdditionalNotes   string   `json:"additional_notes,omitempty"`

	PrimaryContactName     string `json:"primary_contact_name,omitempty"`
	PrimaryContactPhone    string `json:"primary_contact_phone,omitempty"`
	PrimaryContactRelation string `json:"primary_contact_relation,omitempty"`

	SecondaryContactName     string `json:"secondary_contact_name,omitempty"`
	SecondaryContactPhone    string `json:"secondary_contact_phone,omitempty"`
	SecondaryContactRelation string `json:"secondary_contact_relation,omitempty"`

	PhysicianName  string `json:"physician_name,omitempty"`
	PhysicianPhone string `json:"physician_phone,omitempty"`
}

// UpsertProfileInput carries the writable health profile fields.
type UpsertProfileInput struct {
	UserID            string
	BloodType         string
	Allergies         []string
	Medications       []string
	MedicalConditions []string
	AdditionalNotes   string

	PrimaryContactName     string
	PrimaryContactPhone    string
	PrimaryContactRelation string

	SecondaryContactName     string
	SecondaryContactPhone    string
	SecondaryContactRelation string

	PhysicianName  string
	PhysicianPhone string
}

// ProfileService manages health profiles and the emergency QR code derived
// from them.
type ProfileService struct {
	db         *gorm.DB
	qrCodeSize int
}

// NewProfileService constructs a ProfileService.
func NewProfileService(db *gorm.DB) (*ProfileService, error) {
	if db == nil {
		return nil, errors.New("profile service: db is required")
	}
	return &ProfileService{db: db, qrCodeSize: defaultQRCodeSize}, nil
}

// Get returns the profile for the supplied user.
func (s *ProfileService) Get(ctx context.Context, userID string) (*ProfileDTO, error) {
	ctx = ensureContext(ctx)

	var profile models.HealthProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrProfileRequired
	}
	if err != nil {
		return nil, fmt.Errorf("profile service: load profile: %w", err)
	}

	dto := mapProfile(profile)
	return &dto, nil
}

// Upsert creates or replaces the caller's health profile.
func (s *ProfileService) Upsert(ctx context.Context, input UpsertProfileInput) (*ProfileDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("profile service: user id is required")
	}

	var profile models.HealthProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("profile service: load profile: %w", err)
	}

	profile.UserID = userID
	profile.BloodType = strings.TrimSpace(input.BloodType)
	profile.Allergies = encodeStrings(input.Allergies)
	profile.Medications = encodeStrings(input.Medications)
	profile.MedicalConditions = encodeStrings(input.MedicalConditions)
	profile.AdditionalNotes = strings.TrimSpace(input.AdditionalNotes)
	profile.PrimaryContactName = strings.TrimSpace(input.PrimaryContactName)
	profile.PrimaryContactPhone = strings.TrimSpace(input.PrimaryContactPhone)
	profile.PrimaryContactRelation = strings.TrimSpace(input.PrimaryContactRelation)
	profile.SecondaryContactName = strings.TrimSpace(input.SecondaryContactName)
	profile.SecondaryContactPhone = strings.TrimSpace(input.SecondaryContactPhone)
	profile.SecondaryContactRelation = strings.TrimSpace(input.SecondaryContactRelation)
	profile.PhysicianName = strings.TrimSpace(input.PhysicianName)
	profile.PhysicianPhone = strings.TrimSpace(input.PhysicianPhone)

	if err := s.db.WithContext(ctx).Save(&profile).Error; err != nil {
		return nil, fmt.Errorf("profile service: save profile: %w", err)
	}

	dto := mapProfile(profile)
	return &dto, nil
}

// emergencyCard is the payload encoded into the QR code. First responders
// scan it offline, so it carries the summary itself rather than a URL.
type emergencyCard struct {
	Name              string   `json:"name"`
	BloodType         string   `json:"blood_type,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	Medications       []string `json:"medications,omitempty"`
	MedicalConditions []string `json:"conditions,omitempty"`
	PrimaryContact    string   `json:"primary_contact,omitempty"`
	SecondaryContact  string   `json:"secondary_contact,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// QRCode renders the user's emergency card as a PNG QR code.
func (s *ProfileService) QRCode(ctx context.Context, userID string) ([]byte, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.db.WithContext(ctx).Preload("HealthProfile").Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("profile service: load user: %w", err)
	}
	if user.HealthProfile == nil {
		return nil, apperrors.ErrProfileRequired
	}

	profile := user.HealthProfile
	card := emergencyCard{
		Name:              strings.TrimSpace(user.FirstName + " " + user.LastName),
		BloodType:         profile.BloodType,
		Allergies:         decodeStrings(profile.Allergies),
		Medications:       decodeStrings(profile.Medications),
		MedicalConditions: decodeStrings(profile.MedicalConditions),
		PrimaryContact:    formatContact(profile.PrimaryContactName, profile.PrimaryContactPhone),
		SecondaryContact:  formatContact(profile.SecondaryContactName, profile.SecondaryContactPhone),
		Notes:             profile.AdditionalNotes,
	}

	payload, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("profile service: encode card: %w", err)
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, s.qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("profile service: render qr code: %w", err)
	}
	return png, nil
}

func formatContact(name, phone string) string {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	switch {
	case name == "":
		return phone
	case phone == "":
		return name
	default:
		return name + " " + phone
	}
}

func mapProfile(profile models.HealthProfile) ProfileDTO {
	return ProfileDTO{
		ID:                       profile.ID,
		UserID:                   profile.UserID,
		BloodType:                profile.BloodType,
		Allergies:                decodeStrings(profile.Allergies),
		Medications:              decodeStrings(profile.Medications),
		MedicalConditions:        decodeStrings(profile.MedicalConditions),
		AdditionalNotes:          profile.AdditionalNotes,
		PrimaryContactName:       profile.PrimaryContactName,
		PrimaryContactPhone:      profile.PrimaryContactPhone,
		PrimaryContactRelation:   profile.PrimaryContactRelation,
		SecondaryContactName:     profile.SecondaryContactName,
		SecondaryContactPhone:    profile.SecondaryContactPhone,
		SecondaryContactRelation: profile.SecondaryContactRelation,
		PhysicianName:            profile.PhysicianName,
		PhysicianPhone:           profile.PhysicianPhone,
	}
}
