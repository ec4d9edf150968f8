package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/domain/ocpp16"
)

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestValidator_UnmarshalStrict(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		data     string
		target   interface{}
		wantCode ocpp16.ErrorCode
	}{
		{
			name:     "valid payload",
			data:     `{"chargePointVendor": "V", "chargePointModel": "M"}`,
			target:   &ocpp16.BootNotificationRequest{},
			wantCode: "",
		},
		{
			name:     "heartbeat with extra field",
			data:     `{"foo": "bar"}`,
			target:   &ocpp16.HeartbeatRequest{},
			wantCode: ocpp16.ErrorCodePropertyConstraintViolation,
		},
		{
			name:     "unknown field on boot notification",
			data:     `{"chargePointVendor": "V", "chargePointModel": "M", "bogus": 1}`,
			target:   &ocpp16.BootNotificationRequest{},
			wantCode: ocpp16.ErrorCodePropertyConstraintViolation,
		},
		{
			name:     "field with wrong JSON type",
			data:     `{"chargePointVendor": 42, "chargePointModel": "M"}`,
			target:   &ocpp16.BootNotificationRequest{},
			wantCode: ocpp16.ErrorCodeTypeConstraintViolation,
		},
		{
			name:     "payload is a JSON array",
			data:     `[1, 2, 3]`,
			target:   &ocpp16.BootNotificationRequest{},
			wantCode: ocpp16.ErrorCodeFormationViolation,
		},
		{
			name:     "payload is a JSON string",
			data:     `"hello"`,
			target:   &ocpp16.BootNotificationRequest{},
			wantCode: ocpp16.ErrorCodeFormationViolation,
		},
		{
			name:     "payload is truncated JSON",
			data:     `{"chargePointVendor": "V"`,
			target:   &ocpp16.BootNotificationRequest{},
			wantCode: ocpp16.ErrorCodeFormationViolation,
		},
		{
			name:     "timestamp with invalid format",
			data:     `{"connectorId": 1, "idTag": "TAG", "meterStart": 0, "timestamp": "not-a-time"}`,
			target:   &ocpp16.StartTransactionRequest{},
			wantCode: ocpp16.ErrorCodeTypeConstraintViolation,
		},
		{
			name:     "timestamp with non-string value",
			data:     `{"connectorId": 1, "idTag": "TAG", "meterStart": 0, "timestamp": 1700000000}`,
			target:   &ocpp16.StartTransactionRequest{},
			wantCode: ocpp16.ErrorCodeTypeConstraintViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ocppErr := v.UnmarshalStrict([]byte(tt.data), tt.target)
			if tt.wantCode == "" {
				assert.Nil(t, ocppErr)
			} else {
				require.NotNil(t, ocppErr)
				assert.Equal(t, tt.wantCode, ocppErr.Code)
			}
		})
	}
}

func TestValidator_ValidateStruct_BootNotification(t *testing.T) {
	v := NewValidator()

	valid := &ocpp16.BootNotificationRequest{
		ChargePointVendor: "TestVendor",
		ChargePointModel:  "TestModel",
	}
	assert.Nil(t, v.ValidateStruct(valid))

	missing := &ocpp16.BootNotificationRequest{ChargePointModel: "TestModel"}
	ocppErr := v.ValidateStruct(missing)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)
	assert.Contains(t, ocppErr.Description, "required")

	overlong := &ocpp16.BootNotificationRequest{
		ChargePointVendor: strings.Repeat("V", 21),
		ChargePointModel:  "TestModel",
	}
	ocppErr = v.ValidateStruct(overlong)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeTypeConstraintViolation, ocppErr.Code)
}

func TestValidator_ValidateStruct_StatusNotification(t *testing.T) {
	v := NewValidator()

	connectorZero := 0
	valid := &ocpp16.StatusNotificationRequest{
		ConnectorId: &connectorZero,
		ErrorCode:   ocpp16.ChargePointErrorCodeNoError,
		Status:      ocpp16.ChargePointStatusAvailable,
	}
	assert.Nil(t, v.ValidateStruct(valid), "connector 0 must be accepted")

	missingConnector := &ocpp16.StatusNotificationRequest{
		ErrorCode: ocpp16.ChargePointErrorCodeNoError,
		Status:    ocpp16.ChargePointStatusAvailable,
	}
	ocppErr := v.ValidateStruct(missingConnector)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)

	negative := -1
	badConnector := &ocpp16.StatusNotificationRequest{
		ConnectorId: &negative,
		ErrorCode:   ocpp16.ChargePointErrorCodeNoError,
		Status:      ocpp16.ChargePointStatusAvailable,
	}
	ocppErr = v.ValidateStruct(badConnector)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeTypeConstraintViolation, ocppErr.Code)

	badStatus := &ocpp16.StatusNotificationRequest{
		ConnectorId: &connectorZero,
		ErrorCode:   ocpp16.ChargePointErrorCodeNoError,
		Status:      ocpp16.ChargePointStatus("Sleeping"),
	}
	ocppErr = v.ValidateStruct(badStatus)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodePropertyConstraintViolation, ocppErr.Code)

	badErrorCode := &ocpp16.StatusNotificationRequest{
		ConnectorId: &connectorZero,
		ErrorCode:   ocpp16.ChargePointErrorCode("Exploded"),
		Status:      ocpp16.ChargePointStatusAvailable,
	}
	ocppErr = v.ValidateStruct(badErrorCode)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodePropertyConstraintViolation, ocppErr.Code)
}

func TestValidator_ValidateStruct_StartTransaction(t *testing.T) {
	v := NewValidator()

	connector := 1
	meterStart := 0
	valid := &ocpp16.StartTransactionRequest{
		ConnectorId: &connector,
		IdTag:       "TAG001",
		MeterStart:  &meterStart,
		Timestamp:   ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T10:00:00Z")),
	}
	assert.Nil(t, v.ValidateStruct(valid), "meterStart 0 must be accepted")

	missingMeter := &ocpp16.StartTransactionRequest{
		ConnectorId: &connector,
		IdTag:       "TAG001",
		Timestamp:   ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T10:00:00Z")),
	}
	ocppErr := v.ValidateStruct(missingMeter)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)

	zeroConnector := 0
	badConnector := &ocpp16.StartTransactionRequest{
		ConnectorId: &zeroConnector,
		IdTag:       "TAG001",
		MeterStart:  &meterStart,
		Timestamp:   ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T10:00:00Z")),
	}
	ocppErr = v.ValidateStruct(badConnector)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeTypeConstraintViolation, ocppErr.Code)

	longTag := &ocpp16.StartTransactionRequest{
		ConnectorId: &connector,
		IdTag:       strings.Repeat("T", 21),
		MeterStart:  &meterStart,
		Timestamp:   ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T10:00:00Z")),
	}
	ocppErr = v.ValidateStruct(longTag)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeTypeConstraintViolation, ocppErr.Code)

	missingTimestamp := &ocpp16.StartTransactionRequest{
		ConnectorId: &connector,
		IdTag:       "TAG001",
		MeterStart:  &meterStart,
	}
	ocppErr = v.ValidateStruct(missingTimestamp)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)
}

func TestValidator_ValidateStruct_MeterValues(t *testing.T) {
	v := NewValidator()

	connector := 1

	empty := &ocpp16.MeterValuesRequest{
		ConnectorId: &connector,
		MeterValue:  []ocpp16.MeterValue{},
	}
	ocppErr := v.ValidateStruct(empty)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeOccurrenceConstraintViolation, ocppErr.Code)

	missing := &ocpp16.MeterValuesRequest{ConnectorId: &connector}
	ocppErr = v.ValidateStruct(missing)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)

	valid := &ocpp16.MeterValuesRequest{
		ConnectorId: &connector,
		MeterValue: []ocpp16.MeterValue{
			{
				Timestamp: ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T10:00:00Z")),
				SampledValue: []ocpp16.SampledValue{
					{Value: "1500"},
				},
			},
		},
	}
	assert.Nil(t, v.ValidateStruct(valid))

	badValue := &ocpp16.MeterValuesRequest{
		ConnectorId: &connector,
		MeterValue: []ocpp16.MeterValue{
			{
				Timestamp: ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T10:00:00Z")),
				SampledValue: []ocpp16.SampledValue{
					{Value: "lots"},
				},
			},
		},
	}
	ocppErr = v.ValidateStruct(badValue)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeTypeConstraintViolation, ocppErr.Code)

	emptySamples := &ocpp16.MeterValuesRequest{
		ConnectorId: &connector,
		MeterValue: []ocpp16.MeterValue{
			{
				Timestamp:    ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T10:00:00Z")),
				SampledValue: []ocpp16.SampledValue{},
			},
		},
	}
	ocppErr = v.ValidateStruct(emptySamples)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeOccurrenceConstraintViolation, ocppErr.Code)

	missingTimestamp := &ocpp16.MeterValuesRequest{
		ConnectorId: &connector,
		MeterValue: []ocpp16.MeterValue{
			{
				SampledValue: []ocpp16.SampledValue{
					{Value: "1500"},
				},
			},
		},
	}
	ocppErr = v.ValidateStruct(missingTimestamp)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)
}

func TestValidator_ValidateStruct_StopTransaction(t *testing.T) {
	v := NewValidator()

	meterStop := 2000
	txnID := 42
	valid := &ocpp16.StopTransactionRequest{
		MeterStop:     &meterStop,
		Timestamp:     ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T11:00:00Z")),
		TransactionId: &txnID,
	}
	assert.Nil(t, v.ValidateStruct(valid))

	badReason := ocpp16.Reason("Grounded")
	invalid := &ocpp16.StopTransactionRequest{
		MeterStop:     &meterStop,
		Timestamp:     ocpp16.NewDateTime(mustParseTime(t, "2024-06-01T11:00:00Z")),
		TransactionId: &txnID,
		Reason:        &badReason,
	}
	ocppErr := v.ValidateStruct(invalid)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodePropertyConstraintViolation, ocppErr.Code)

	missingTimestamp := &ocpp16.StopTransactionRequest{
		MeterStop:     &meterStop,
		TransactionId: &txnID,
	}
	ocppErr = v.ValidateStruct(missingTimestamp)
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)
	assert.Equal(t, "Timestamp", ocppErr.Details["field"])
}

func TestValidator_ValidateStruct_ReportsField(t *testing.T) {
	v := NewValidator()

	ocppErr := v.ValidateStruct(&ocpp16.AuthorizeRequest{})
	require.NotNil(t, ocppErr)
	assert.Equal(t, ocpp16.ErrorCodeFormationViolation, ocppErr.Code)
	assert.Equal(t, "IdTag", ocppErr.Details["field"])
	assert.Equal(t, "required", ocppErr.Details["tag"])
}
