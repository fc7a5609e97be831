package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type activateRequest struct {
	Duration    int       `json:"duration" validate:"omitempty,min=60,max=86400"`
	Description string    `json:"description" validate:"max=500"`
	Severity    string    `json:"severity" validate:"omitempty,oneof=Low Medium High Critical"`
	Coordinates []float64 `json:"coordinates" validate:"required,len=2"`
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(&activateRequest{Duration: 10, Coordinates: []float64{1, 2}})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 1)
	require.Equal(t, "duration", failures[0].Field)
	require.Equal(t, "min", failures[0].Tag)
}

func TestValidateStructCoordinateArity(t *testing.T) {
	err := ValidateStruct(&activateRequest{Coordinates: []float64{12.3}})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Equal(t, "coordinates", failures[0].Field)
	require.Equal(t, "len", failures[0].Tag)
}

func TestValidateStructAcceptsValidInput(t *testing.T) {
	err := ValidateStruct(&activateRequest{
		Severity:    "High",
		Coordinates: []float64{-71.09, 42.35},
	})
	require.NoError(t, err)
}

func TestValidationErrorsMessage(t *testing.T) {
	failures := ValidationErrors{{Field: "severity", Tag: "oneof", Param: "Low Medium High Critical"}}
	require.Contains(t, failures.Error(), "severity failed on oneof")
}
