package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusguard/backend/internal/middleware"
	"github.com/campusguard/backend/internal/models"
	"github.com/campusguard/backend/internal/services"
	apperrors "github.com/campusguard/backend/pkg/errors"
	"github.com/campusguard/backend/pkg/response"
)

// EmergencyHandler exposes SOS alerts and their lifecycle over HTTP.
type EmergencyHandler struct {
	emergencies *services.EmergencyService
}

func NewEmergencyHandler(emergencies *services.EmergencyService) *EmergencyHandler {
	return &EmergencyHandler{emergencies: emergencies}
}

type createSOSRequest struct {
	AlertType       string    `json:"alert_type" validate:"omitempty,oneof='SOS' 'Medical Emergency' 'Safety Concern' 'Location Share'"`
	Severity        string    `json:"severity" validate:"omitempty,oneof=Low Medium High Critical"`
	Coordinates     []float64 `json:"coordinates" validate:"required,len=2"`
	Address         string    `json:"address" validate:"max=256"`
	CampusLocation  string    `json:"campus_location" validate:"max=128"`
	Building        string    `json:"building" validate:"max=128"`
	Room            string    `json:"room" validate:"max=64"`
	Accuracy        *float64  `json:"accuracy" validate:"omitempty,gte=0"`
	Description     string    `json:"description" validate:"max=2000"`
	Symptoms        []string  `json:"symptoms" validate:"max=25,dive,max=128"`
	ShareWithCampus bool      `json:"share_with_campus"`
}

// POST /api/emergency/sos
func (h *EmergencyHandler) CreateSOS(c *gin.Context) {
	var req createSOSRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var profileID *string
	if profile := middleware.CurrentProfile(c); profile != nil {
		profileID = &profile.ID
	}

	alert, err := h.emergencies.CreateSOS(c.Request.Context(), services.CreateSOSInput{
		UserID:          middleware.UserID(c),
		ProfileID:       profileID,
		AlertType:       models.AlertType(req.AlertType),
		Severity:        models.AlertSeverity(req.Severity),
		Coordinates:     req.Coordinates,
		Address:         req.Address,
		CampusLocation:  req.CampusLocation,
		Building:        req.Building,
		Room:            req.Room,
		Accuracy:        req.Accuracy,
		Description:     req.Description,
		Symptoms:        req.Symptoms,
		ShareWithCampus: req.ShareWithCampus,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, alert)
}

type updateAlertStatusRequest struct {
	Status          string `json:"status" validate:"required,oneof=Acknowledged Resolved Cancelled"`
	ResolutionNotes string `json:"resolution_notes" validate:"max=2000"`
}

// PUT /api/emergency/alerts/:id/status
func (h *EmergencyHandler) UpdateStatus(c *gin.Context) {
	var req updateAlertStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	alert, err := h.emergencies.UpdateStatus(c.Request.Context(), services.UpdateAlertStatusInput{
		UserID:          middleware.UserID(c),
		AlertID:         c.Param("id"),
		Status:          models.AlertStatus(req.Status),
		ResolutionNotes: req.ResolutionNotes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, alert)
}

type cancelAlertRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// PUT /api/emergency/alerts/:id/cancel
func (h *EmergencyHandler) Cancel(c *gin.Context) {
	var req cancelAlertRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	alert, err := h.emergencies.Cancel(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, alert)
}

// GET /api/emergency/alerts/:id
func (h *EmergencyHandler) Get(c *gin.Context) {
	alert, err := h.emergencies.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, alert)
}

// GET /api/emergency/alerts?status=&page=&per_page=
func (h *EmergencyHandler) List(c *gin.Context) {
	status := models.AlertStatus(c.Query("status"))
	switch status {
	case "", models.StatusActive, models.StatusAcknowledged, models.StatusResolved, models.StatusCancelled:
	default:
		response.Error(c, apperrors.NewBadRequest("Unknown status filter"))
		return
	}

	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)

	alerts, total, err := h.emergencies.List(c.Request.Context(), middleware.UserID(c), status, page, perPage)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, alerts, response.NewMeta(page, perPage, total))
}

// GET /api/emergency/nearby?longitude=&latitude=&radius=
func (h *EmergencyHandler) Nearby(c *gin.Context) {
	coordinates := []float64{
		parseFloatQuery(c, "longitude", 181),
		parseFloatQuery(c, "latitude", 91),
	}
	radius := parseFloatQuery(c, "radius", 0)

	results, err := h.emergencies.Nearby(c.Request.Context(), coordinates, radius)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// GET /api/emergency/stats
func (h *EmergencyHandler) Stats(c *gin.Context) {
	stats, err := h.emergencies.Stats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
