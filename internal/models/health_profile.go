package models

import (
	"gorm.io/datatypes"
)

// HealthProfile stores the medical and emergency-contact details encoded into
// a student's emergency QR code.
type HealthProfile struct {
	BaseModel

	UserID string `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`

	BloodType         string         `gorm:"type:varchar(8)" json:"blood_type"`
	Allergies         datatypes.JSON `json:"allergies"`
	Medications       datatypes.JSON `json:"medications"`
	MedicalConditions datatypes.JSON `json:"medical_conditions"`
	AdditionalNotes   string         `gorm:"type:text" json:"additional_notes"`

	PrimaryContactName     string `json:"primary_contact_name"`
	PrimaryContactPhone    string `json:"primary_contact_phone"`
	PrimaryContactRelation string `json:"primary_contact_relation"`

	SecondaryContactName     string `json:"secondary_contact_name"`
	SecondaryContactPhone    string `json:"secondary_contact_phone"`
	SecondaryContactRelation string `json:"secondary_contact_relation"`

	PhysicianName  string `json:"physician_name"`
	PhysicianPhone string `json:"physician_phone"`
}
