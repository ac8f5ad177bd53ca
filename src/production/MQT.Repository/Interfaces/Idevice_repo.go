package interfaces

import (
	"context"
	"errors"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// ErrNotFound is returned by lookups for records that do not exist
var ErrNotFound = errors.New("record not found")

type DeviceRepository interface {
	// FindOrCreate atomically returns the device with candidate.UID, inserting
	// candidate when none exists. A non-empty firmware overwrites the stored one.
	// created reports whether candidate was inserted.
	FindOrCreate(ctx context.Context, candidate mqtmodels.Device, firmware string) (device *mqtmodels.Device, created bool, err error)

	// Read devices
	GetByUID(ctx context.Context, uid string) (*mqtmodels.Device, error)
	List(ctx context.Context) ([]mqtmodels.Device, error)

	// UpdateSnapshot overwrites the latestReading cache of the device with the given id
	UpdateSnapshot(ctx context.Context, deviceID string, snapshot mqtmodels.LatestReading) error

	Ping(ctx context.Context) error
}
