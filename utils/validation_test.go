package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	EventType string `validate:"required,event_type"`
	Severity  string `validate:"omitempty,severity"`
	IPAddress string `validate:"omitempty,ip"`
	RiskScore int    `validate:"gte=0,lte=100"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		s := testEvent{EventType: "login_failure", Severity: "WARNING", IPAddress: "10.0.0.1", RiskScore: 40}

		err := ValidateStruct(&s)
		assert.NoError(t, err)
	})

	tests := []struct {
		name  string
		event testEvent
		field string
		msg   string
	}{
		{"missing type", testEvent{}, "EventType", "EventType is required"},
		{"unknown type", testEvent{EventType: "teleport"}, "EventType", "EventType must be a known event type"},
		{"bad severity", testEvent{EventType: "logout", Severity: "loud"}, "Severity", "Severity must be one of: info, warning, critical"},
		{"bad ip", testEvent{EventType: "logout", IPAddress: "999.1.1.1"}, "IPAddress", "IPAddress must be a valid IP address"},
		{"risk out of range", testEvent{EventType: "logout", RiskScore: 101}, "RiskScore", "RiskScore must be less than or equal to 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.event)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			fields := GetValidationFields(err)
			assert.Equal(t, tt.msg, fields[tt.field])
		})
	}
}

func TestGetValidationFields_NonValidationError(t *testing.T) {
	assert.Nil(t, GetValidationFields(assert.AnError))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestParseUUID(t *testing.T) {
	id := uuid.New()

	parsed, err := ParseUUID(id.String(), "id")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "not-a-uuid", "550e8400-e29b-41d4"} {
		_, err := ParseUUID(bad, "alert_id")
		assert.EqualError(t, err, "alert_id must be a valid UUID")
	}
}
