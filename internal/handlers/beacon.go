package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusguard/backend/internal/middleware"
	"github.com/campusguard/backend/internal/services"
	"github.com/campusguard/backend/pkg/response"
)

// BeaconHandler exposes the campus beacon lifecycle over HTTP.
type BeaconHandler struct {
	beacons *services.BeaconService
}

func NewBeaconHandler(beacons *services.BeaconService) *BeaconHandler {
	return &BeaconHandler{beacons: beacons}
}

type activateBeaconRequest struct {
	Coordinates     []float64 `json:"coordinates" validate:"required,len=2"`
	Address         string    `json:"address" validate:"max=256"`
	CampusLocation  string    `json:"campus_location" validate:"max=128"`
	Building        string    `json:"building" validate:"max=128"`
	Room            string    `json:"room" validate:"max=64"`
	Accuracy        *float64  `json:"accuracy" validate:"omitempty,gte=0"`
	DurationSeconds int       `json:"duration_seconds" validate:"omitempty,gte=60,lte=86400"`
	Description     string    `json:"description" validate:"max=1000"`
	ShareWithCampus bool      `json:"share_with_campus"`
}

// POST /api/beacon/activate
func (h *BeaconHandler) Activate(c *gin.Context) {
	var req activateBeaconRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var profileID *string
	if profile := middleware.CurrentProfile(c); profile != nil {
		profileID = &profile.ID
	}

	status, err := h.beacons.Activate(c.Request.Context(), services.ActivateBeaconInput{
		UserID:          middleware.UserID(c),
		ProfileID:       profileID,
		Coordinates:     req.Coordinates,
		Address:         req.Address,
		CampusLocation:  req.CampusLocation,
		Building:        req.Building,
		Room:            req.Room,
		Accuracy:        req.Accuracy,
		DurationSeconds: req.DurationSeconds,
		Description:     req.Description,
		ShareWithCampus: req.ShareWithCampus,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, status)
}

// PUT /api/beacon/deactivate
func (h *BeaconHandler) Deactivate(c *gin.Context) {
	status, err := h.beacons.Deactivate(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

type extendBeaconRequest struct {
	AdditionalSeconds int `json:"additional_seconds" validate:"omitempty,gte=60,lte=86400"`
}

// PUT /api/beacon/extend
func (h *BeaconHandler) Extend(c *gin.Context) {
	var req extendBeaconRequest
	if !bindAndValidate(c, &req) {
		return
	}

	status, err := h.beacons.Extend(c.Request.Context(), middleware.UserID(c), req.AdditionalSeconds)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

type updateBeaconLocationRequest struct {
	Coordinates    []float64 `json:"coordinates" validate:"required,len=2"`
	Address        string    `json:"address" validate:"max=256"`
	CampusLocation string    `json:"campus_location" validate:"max=128"`
	Building       string    `json:"building" validate:"max=128"`
	Room           string    `json:"room" validate:"max=64"`
	Accuracy       *float64  `json:"accuracy" validate:"omitempty,gte=0"`
}

// PUT /api/beacon/location
func (h *BeaconHandler) UpdateLocation(c *gin.Context) {
	var req updateBeaconLocationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	status, err := h.beacons.UpdateLocation(c.Request.Context(), services.UpdateBeaconLocationInput{
		UserID:         middleware.UserID(c),
		Coordinates:    req.Coordinates,
		Address:        req.Address,
		CampusLocation: req.CampusLocation,
		Building:       req.Building,
		Room:           req.Room,
		Accuracy:       req.Accuracy,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// GET /api/beacon/status
func (h *BeaconHandler) Status(c *gin.Context) {
	status, err := h.beacons.Status(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// GET /api/beacon/nearby?longitude=&latitude=&radius=
func (h *BeaconHandler) Nearby(c *gin.Context) {
	coordinates := []float64{
		parseFloatQuery(c, "longitude", 181),
		parseFloatQuery(c, "latitude", 91),
	}
	radius := parseFloatQuery(c, "radius", 0)

	results, err := h.beacons.Nearby(c.Request.Context(), coordinates, radius)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

// GET /api/beacon/history?page=&per_page=
func (h *BeaconHandler) History(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)

	items, total, err := h.beacons.History(c.Request.Context(), middleware.UserID(c), page, perPage)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, response.NewMeta(page, perPage, total))
}

// GET /api/beacon/stats
func (h *BeaconHandler) Stats(c *gin.Context) {
	stats, err := h.beacons.Stats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
