package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusguard/backend/internal/middleware"
	"github.com/campusguard/backend/internal/services"
	"github.com/campusguard/backend/pkg/response"
)

// ProfileHandler serves health profile reads, writes, and the emergency QR code.
type ProfileHandler struct {
	profiles *services.ProfileService
}

func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// GET /api/profile
func (h *ProfileHandler) Get(c *gin.Context) {
	profile, err := h.profiles.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

type upsertProfileRequest struct {
	BloodType         string   `json:"blood_type" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Allergies         []string `json:"allergies" validate:"max=50,dive,max=128"`
	Medications       []string `json:"medications" validate:"max=50,dive,max=128"`
	MedicalConditions []string `json:"medical_conditions" validate:"max=50,dive,max=128"`
	AdditionalNotes   string   `json:"additional_notes" validate:"max=2000"`

	PrimaryContactName     string `json:"primary_contact_name" validate:"required,max=128"`
	PrimaryContactPhone    string `json:"primary_contact_phone" validate:"required,max=32"`
	PrimaryContactRelation string `json:"primary_contact_relation" validate:"max=64"`

	SecondaryContactName     string `json:"secondary_contact_name" validate:"max=128"`
	SecondaryContactPhone    string `json:"secondary_contact_phone" validate:"max=32"`
	SecondaryContactRelation string `json:"secondary_contact_relation" validate:"max=64"`

	PhysicianName  string `json:"physician_name" validate:"max=128"`
	PhysicianPhone string `json:"physician_phone" validate:"max=32"`
}

// PUT /api/profile
func (h *ProfileHandler) Upsert(c *gin.Context) {
	var req upsertProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	profile, err := h.profiles.Upsert(c.Request.Context(), services.UpsertProfileInput{
		UserID:                   middleware.UserID(c),
		BloodType:                req.BloodType,
		Allergies:                req.Allergies,
		Medications:              req.Medications,
		MedicalConditions:        req.MedicalConditions,
		AdditionalNotes:          req.AdditionalNotes,
		PrimaryContactName:       req.PrimaryContactName,
		PrimaryContactPhone:      req.PrimaryContactPhone,
		PrimaryContactRelation:   req.PrimaryContactRelation,
		SecondaryContactName:     req.SecondaryContactName,
		SecondaryContactPhone:    req.SecondaryContactPhone,
		SecondaryContactRelation: req.SecondaryContactRelation,
		PhysicianName:            req.PhysicianName,
		PhysicianPhone:           req.PhysicianPhone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// GET /api/profile/qrcode
func (h *ProfileHandler) QRCode(c *gin.Context) {
	png, err := h.profiles.QRCode(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
