package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	implementation "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

type brokenSnapshots struct {
	*implementation.MemoryDeviceRepository
	err error
}

func (b *brokenSnapshots) UpdateSnapshot(ctx context.Context, deviceID string, snapshot mqtmodels.LatestReading) error {
	return b.err
}

type brokenReadings struct {
	err error
}

func (b *brokenReadings) Insert(ctx context.Context, reading mqtmodels.Reading) error {
	return b.err
}

func (b *brokenReadings) Recent(ctx context.Context, deviceID string, limit int) ([]mqtmodels.Reading, error) {
	return nil, b.err
}

func newTestStore(t *testing.T) (*Store, *mqtmodels.Device) {
	t.Helper()
	devices := implementation.NewMemoryDeviceRepository()
	device, _, err := devices.FindOrCreate(context.Background(), mqtmodels.Device{ID: "id-1", UID: "dev-1", Name: "Device-dev-1"}, "")
	require.NoError(t, err)
	return NewStore(devices, implementation.NewMemoryTelemetryRepository(), logger.NewNop(), 0), device
}

func withClock(s *Store, start time.Time) {
	tick := start
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
}

func ptr(v float64) *float64 { return &v }

func TestAppend_AssignsIdentityAndServerTime(t *testing.T) {
	store, device := newTestStore(t)

	reading, err := store.Append(context.Background(), device.ID, mqtmodels.Measurements{Temperature: ptr(15)}, 1000)

	require.NoError(t, err)
	assert.NotEmpty(t, reading.ID)
	assert.Equal(t, device.ID, reading.DeviceID)
	assert.Equal(t, int64(1000), reading.DeviceTimestamp)
	assert.False(t, reading.ServerTimestamp.IsZero())
	assert.Nil(t, reading.Humidity)
}

func TestRecent_NewestFirstAndLimited(t *testing.T) {
	store, device := newTestStore(t)
	withClock(store, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 15; i++ {
		r, err := store.Append(ctx, device.ID, mqtmodels.Measurements{Temperature: ptr(float64(i))}, int64(i))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	readings, err := store.Recent(ctx, device.ID, 0)
	require.NoError(t, err)
	require.Len(t, readings, DefaultRecentLimit)
	assert.Equal(t, ids[14], readings[0].ID)
	for i := 1; i < len(readings); i++ {
		assert.True(t, readings[i-1].ServerTimestamp.After(readings[i].ServerTimestamp))
	}

	readings, err = store.Recent(ctx, device.ID, 3)
	require.NoError(t, err)
	assert.Len(t, readings, 3)

	readings, err = store.Recent(ctx, device.ID, 500)
	require.NoError(t, err)
	assert.Len(t, readings, 15)
}

func TestRecent_EmptyHistory(t *testing.T) {
	store, _ := newTestStore(t)

	readings, err := store.Recent(context.Background(), "unknown", 10)

	require.NoError(t, err)
	assert.NotNil(t, readings)
	assert.Empty(t, readings)
}

func TestRecent_SizeIsMonotone(t *testing.T) {
	store, device := newTestStore(t)
	ctx := context.Background()

	prev := 0
	for i := 0; i < 12; i++ {
		_, err := store.Append(ctx, device.ID, mqtmodels.Measurements{}, 0)
		require.NoError(t, err)
		readings, err := store.Recent(ctx, device.ID, 10)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(readings), prev)
		assert.LessOrEqual(t, len(readings), 10)
		prev = len(readings)
	}
}

func TestAppend_FailureIsStoreError(t *testing.T) {
	cause := errors.New("disk full")
	store := NewStore(implementation.NewMemoryDeviceRepository(), &brokenReadings{err: cause}, logger.NewNop(), 10)

	_, err := store.Append(context.Background(), "id-1", mqtmodels.Measurements{}, 0)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "append", storeErr.Op)
	assert.ErrorIs(t, err, cause)
}

func TestUpdateDeviceSnapshot(t *testing.T) {
	store, device := newTestStore(t)
	ctx := context.Background()

	reading, err := store.Append(ctx, device.ID, mqtmodels.Measurements{Temperature: ptr(15), ParticulateMatter: ptr(3.5)}, 1000)
	require.NoError(t, err)
	require.NoError(t, store.UpdateDeviceSnapshot(ctx, device.ID, *reading))

	snap, err := store.Snapshot(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, snap.LatestReading)
	assert.Equal(t, 15.0, *snap.LatestReading.Temperature)
	assert.Nil(t, snap.LatestReading.Humidity)
	assert.True(t, snap.LatestReading.Timestamp.Equal(reading.ServerTimestamp))

	_, err = store.Snapshot(ctx, "dev-404")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestUpdateDeviceSnapshot_FailureKeepsReading(t *testing.T) {
	cause := errors.New("write conflict")
	devices := &brokenSnapshots{MemoryDeviceRepository: implementation.NewMemoryDeviceRepository(), err: cause}
	readings := implementation.NewMemoryTelemetryRepository()
	store := NewStore(devices, readings, logger.NewNop(), 10)
	ctx := context.Background()

	reading, err := store.Append(ctx, "id-1", mqtmodels.Measurements{Humidity: ptr(40)}, 0)
	require.NoError(t, err)

	err = store.UpdateDeviceSnapshot(ctx, "id-1", *reading)
	var cacheErr *CacheUpdateError
	require.ErrorAs(t, err, &cacheErr)
	assert.ErrorIs(t, err, cause)

	history, err := store.Recent(ctx, "id-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpdateDeviceSnapshot_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	devices := &brokenSnapshots{MemoryDeviceRepository: implementation.NewMemoryDeviceRepository(), err: errors.New("down")}
	store := NewStore(devices, implementation.NewMemoryTelemetryRepository(), logger.NewNop(), 10)

	var err error
	for i := 0; i < 6; i++ {
		err = store.UpdateDeviceSnapshot(context.Background(), "id-1", mqtmodels.Reading{})
	}
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
