package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

type TelemetryRepository interface {
	// Insert persists one reading. It never modifies existing readings.
	Insert(ctx context.Context, reading mqtmodels.Reading) error

	// Recent returns up to limit readings of the device, newest serverTimestamp first
	Recent(ctx context.Context, deviceID string, limit int) ([]mqtmodels.Reading, error)
}
