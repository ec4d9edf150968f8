package authorization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/central-system/internal/clock"
	"github.com/charging-platform/central-system/internal/domain/ocpp16"
	"github.com/charging-platform/central-system/internal/logger"
)

func newTestRegistry(t *testing.T, acceptUnknown bool, now time.Time) *Registry {
	t.Helper()
	return NewRegistry(Config{AcceptUnknownTags: acceptUnknown}, clock.NewManualClock(now), logger.NewNop())
}

func TestRegistry_Validate_KnownTags(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newTestRegistry(t, false, now)

	registry.Register("TAG001", ocpp16.AuthorizationStatusAccepted, nil, "")
	registry.Register("BLOCKED01", ocpp16.AuthorizationStatusBlocked, nil, "")

	info := registry.Validate("TAG001")
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, info.Status)
	assert.Nil(t, info.ExpiryDate)
	assert.Nil(t, info.ParentIdTag)

	info = registry.Validate("BLOCKED01")
	assert.Equal(t, ocpp16.AuthorizationStatusBlocked, info.Status)
}

func TestRegistry_Validate_UnknownTag(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	production := newTestRegistry(t, false, now)
	assert.Equal(t, ocpp16.AuthorizationStatusInvalid, production.Validate("NOBODY").Status)

	development := newTestRegistry(t, true, now)
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, development.Validate("NOBODY").Status)
}

func TestRegistry_Validate_ExpiredTag(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newTestRegistry(t, false, now)

	past := now.Add(-time.Hour)
	registry.Register("EXPIRED01", ocpp16.AuthorizationStatusAccepted, &past, "")

	info := registry.Validate("EXPIRED01")
	assert.Equal(t, ocpp16.AuthorizationStatusExpired, info.Status)
	require.NotNil(t, info.ExpiryDate)

	// 存储不被修改
	stored, exists := registry.Get("EXPIRED01")
	require.True(t, exists)
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, stored.Status)

	// 再次查询结果一致
	assert.Equal(t, ocpp16.AuthorizationStatusExpired, registry.Validate("EXPIRED01").Status)
}

func TestRegistry_Validate_ExpiredOverridesStoredStatus(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newTestRegistry(t, false, now)

	past := now.Add(-time.Minute)
	registry.Register("BLOCKED02", ocpp16.AuthorizationStatusBlocked, &past, "")

	assert.Equal(t, ocpp16.AuthorizationStatusExpired, registry.Validate("BLOCKED02").Status)
}

func TestRegistry_Validate_FutureExpiryStaysAccepted(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newTestRegistry(t, false, now)

	future := now.Add(24 * time.Hour)
	registry.Register("TAG002", ocpp16.AuthorizationStatusAccepted, &future, "FLEET01")

	info := registry.Validate("TAG002")
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, info.Status)
	require.NotNil(t, info.ExpiryDate)
	assert.Equal(t, future, info.ExpiryDate.Time)
	require.NotNil(t, info.ParentIdTag)
	assert.Equal(t, "FLEET01", *info.ParentIdTag)
}

func TestRegistry_Register_Overwrites(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newTestRegistry(t, false, now)

	registry.Register("TAG001", ocpp16.AuthorizationStatusAccepted, nil, "")
	registry.Register("TAG001", ocpp16.AuthorizationStatusBlocked, nil, "")

	assert.Equal(t, ocpp16.AuthorizationStatusBlocked, registry.Validate("TAG001").Status)
}

func TestRegistry_Sessions(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newTestRegistry(t, false, now)

	registry.Register("TAG001", ocpp16.AuthorizationStatusAccepted, nil, "")
	registry.Register("BLOCKED01", ocpp16.AuthorizationStatusBlocked, nil, "")

	info := registry.StartSession("CP001", "TAG001")
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, info.Status)
	assert.True(t, registry.IsAuthorized("CP001", "TAG001"))
	assert.False(t, registry.IsAuthorized("CP002", "TAG001"))

	// 非Accepted不产生会话
	info = registry.StartSession("CP001", "BLOCKED01")
	assert.Equal(t, ocpp16.AuthorizationStatusBlocked, info.Status)
	assert.False(t, registry.IsAuthorized("CP001", "BLOCKED01"))

	registry.EndSession("CP001", "TAG001")
	assert.False(t, registry.IsAuthorized("CP001", "TAG001"))

	// 幂等
	registry.EndSession("CP001", "TAG001")
	assert.False(t, registry.IsAuthorized("CP001", "TAG001"))
}

func TestRegistry_List(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := newTestRegistry(t, false, now)

	registry.Register("TAG001", ocpp16.AuthorizationStatusAccepted, nil, "")
	registry.Register("TAG002", ocpp16.AuthorizationStatusBlocked, nil, "")

	tags := registry.List()
	assert.Len(t, tags, 2)
}
