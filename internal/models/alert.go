package models

import (
	"time"

	"gorm.io/datatypes"
)

// AlertType classifies the event an alert record represents.
type AlertType string

const (
	AlertTypeSOS           AlertType = "SOS"
	AlertTypeMedical       AlertType = "Medical Emergency"
	AlertTypeSafetyConcern AlertType = "Safety Concern"
	AlertTypeLocationShare AlertType = "Location Share"
	AlertTypeBeacon        AlertType = "Beacon Activation"
)

// AlertSeverity grades how urgent an alert is.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "Low"
	SeverityMedium   AlertSeverity = "Medium"
	SeverityHigh     AlertSeverity = "High"
	SeverityCritical AlertSeverity = "Critical"
)

// AlertStatus tracks the lifecycle state of an alert record.
type AlertStatus string

const (
	StatusActive       AlertStatus = "Active"
	StatusAcknowledged AlertStatus = "Acknowledged"
	StatusResolved     AlertStatus = "Resolved"
	StatusCancelled    AlertStatus = "Cancelled"
)

// ValidStatusTransition reports whether an alert may move between the two states.
// Only Active records transition; terminal states are final.
func ValidStatusTransition(from, to AlertStatus) bool {
	if from != StatusActive {
		return false
	}
	switch to {
	case StatusAcknowledged, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Alert is a persisted emergency event: either an SOS-style alert or a
// beacon session. Records are never hard-deleted so history is retained.
type Alert struct {
	BaseModel

	UserID          string  `gorm:"type:uuid;index;not null" json:"user_id"`
	HealthProfileID *string `gorm:"type:uuid" json:"health_profile_id,omitempty"`

	AlertType AlertType     `gorm:"type:varchar(32);index;not null" json:"alert_type"`
	Severity  AlertSeverity `gorm:"type:varchar(16);default:'High'" json:"severity"`
	Status    AlertStatus   `gorm:"type:varchar(16);index;default:'Active'" json:"status"`

	// Coordinates follow the GeoJSON ordering convention: longitude first.
	Longitude float64 `gorm:"not null" json:"longitude"`
	Latitude  float64 `gorm:"not null" json:"latitude"`

	Address        string   `json:"address,omitempty"`
	CampusLocation string   `json:"campus_location,omitempty"`
	Building       string   `json:"building,omitempty"`
	Room           string   `json:"room,omitempty"`
	Accuracy       *float64 `json:"accuracy,omitempty"`

	BeaconActive    bool       `gorm:"index;default:false" json:"beacon_active"`
	BeaconStartTime *time.Time `json:"beacon_start_time,omitempty"`
	BeaconEndTime   *time.Time `gorm:"index" json:"beacon_end_time,omitempty"`
	ShareWithCampus bool       `gorm:"default:false" json:"share_with_campus"`

	EmergencyServicesSent     bool `gorm:"default:false" json:"emergency_services_sent"`
	EmergencyServicesAttempts int  `gorm:"default:0" json:"emergency_services_attempts"`
	CampusPoliceSent          bool `gorm:"default:false" json:"campus_police_sent"`
	CampusPoliceAttempts      int  `gorm:"default:0" json:"campus_police_attempts"`
	PrimaryContactSent        bool `gorm:"default:false" json:"primary_contact_sent"`
	PrimaryContactAttempts    int  `gorm:"default:0" json:"primary_contact_attempts"`
	SecondaryContactSent      bool `gorm:"default:false" json:"secondary_contact_sent"`
	SecondaryContactAttempts  int  `gorm:"default:0" json:"secondary_contact_attempts"`

	Description     string         `gorm:"type:text" json:"description,omitempty"`
	Symptoms        datatypes.JSON `json:"symptoms,omitempty"`
	ResolutionNotes string         `gorm:"type:text" json:"resolution_notes,omitempty"`

	ResponseTime   *time.Time `json:"response_time,omitempty"`
	ResolutionTime *time.Time `json:"resolution_time,omitempty"`
}

// Coordinates returns the [longitude, latitude] pair stored on the record.
func (a *Alert) Coordinates() []float64 {
	return []float64{a.Longitude, a.Latitude}
}

// NotificationsPending reports whether the simulated dispatch still has work to do.
func (a *Alert) NotificationsPending() bool {
	return !(a.EmergencyServicesSent && a.CampusPoliceSent && a.PrimaryContactSent && a.SecondaryContactSent)
}

// BeaconExpired reports whether the beacon end time has passed.
func (a *Alert) BeaconExpired(now time.Time) bool {
	return a.BeaconEndTime != nil && !a.BeaconEndTime.After(now)
}
