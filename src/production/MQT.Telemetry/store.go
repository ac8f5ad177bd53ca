package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

const (
	// DefaultRecentLimit is used when Recent is called without a positive limit
	DefaultRecentLimit = 10
	// MaxRecentLimit caps a single Recent call
	MaxRecentLimit = 100
)

// StoreError wraps a failed append or history read
type StoreError struct {
	Op       string
	DeviceID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("telemetry: %s for device %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// CacheUpdateError wraps a failed latestReading overwrite. The reading itself is already stored.
type CacheUpdateError struct {
	DeviceID string
	Err      error
}

func (e *CacheUpdateError) Error() string {
	return fmt.Sprintf("telemetry: snapshot update for device %s: %v", e.DeviceID, e.Err)
}

func (e *CacheUpdateError) Unwrap() error {
	return e.Err
}

// Store is the append-only reading log plus the per-device latestReading cache
type Store struct {
	devices      interfaces.DeviceRepository
	readings     interfaces.TelemetryRepository
	logger       *logger.Logger
	snapshotCB   *gobreaker.CircuitBreaker
	defaultLimit int
	now          func() time.Time
}

func NewStore(devices interfaces.DeviceRepository, readings interfaces.TelemetryRepository, log *logger.Logger, defaultLimit int) *Store {
	if defaultLimit <= 0 {
		defaultLimit = DefaultRecentLimit
	}
	l := log.WithComponent("telemetry-store")
	return &Store{
		devices:      devices,
		readings:     readings,
		logger:       l,
		defaultLimit: defaultLimit,
		now:          time.Now,
		snapshotCB: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "device-snapshot",
			Interval: time.Minute,
			Timeout:  10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.Logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Snapshot breaker state changed")
			},
		}),
	}
}

// Append persists one reading for deviceID, assigning its identity and serverTimestamp
func (s *Store) Append(ctx context.Context, deviceID string, measurements mqtmodels.Measurements, deviceTimestamp int64) (*mqtmodels.Reading, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, &StoreError{Op: "append", DeviceID: deviceID, Err: err}
	}

	// millisecond precision survives every backing store
	reading := mqtmodels.Reading{
		ID:              id.String(),
		DeviceID:        deviceID,
		Measurements:    measurements,
		DeviceTimestamp: deviceTimestamp,
		ServerTimestamp: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.readings.Insert(ctx, reading); err != nil {
		return nil, &StoreError{Op: "append", DeviceID: deviceID, Err: err}
	}
	return &reading, nil
}

// Recent returns up to limit readings for deviceID, newest first
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]mqtmodels.Reading, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	readings, err := s.readings.Recent(ctx, deviceID, limit)
	if err != nil {
		return nil, &StoreError{Op: "recent", DeviceID: deviceID, Err: err}
	}
	if readings == nil {
		readings = make([]mqtmodels.Reading, 0)
	}
	return readings, nil
}

// UpdateDeviceSnapshot overwrites the device's latestReading with reading.
// Failures never affect the stored reading.
func (s *Store) UpdateDeviceSnapshot(ctx context.Context, deviceID string, reading mqtmodels.Reading) error {
	_, err := s.snapshotCB.Execute(func() (interface{}, error) {
		return nil, s.devices.UpdateSnapshot(ctx, deviceID, reading.Snapshot())
	})
	if err != nil {
		return &CacheUpdateError{DeviceID: deviceID, Err: err}
	}
	return nil
}

// Snapshot returns the device with its cached latestReading
func (s *Store) Snapshot(ctx context.Context, uid string) (*mqtmodels.Device, error) {
	device, err := s.devices.GetByUID(ctx, uid)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot of %s: %w", uid, err)
	}
	return device, nil
}

// Ping checks the backing store
func (s *Store) Ping(ctx context.Context) error {
	return s.devices.Ping(ctx)
}
