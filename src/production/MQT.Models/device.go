package mqtmodels

import "time"

// Device is one physical sensor unit, keyed by its externally assigned uid
type Device struct {
	ID            string         `json:"_id" bson:"_id" db:"id"`
	UID           string         `json:"uid" bson:"uid" db:"uid"`
	Name          string         `json:"name" bson:"name" db:"name"`
	Firmware      string         `json:"fw,omitempty" bson:"fw,omitempty" db:"fw"`
	LatestReading *LatestReading `json:"latestReading,omitempty" bson:"latestReading,omitempty"`
	LastUpdated   time.Time      `json:"lastUpdated" bson:"lastUpdated" db:"last_updated"`
	CreatedAt     time.Time      `json:"createdAt" bson:"createdAt" db:"created_at"`
}

// LatestReading is the denormalized snapshot of a device's most recent reading.
// It is a cache; the telemetry collection is authoritative.
type LatestReading struct {
	Measurements `bson:",inline"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}

// DeviceHints carries optional values from a message used when resolving a device
type DeviceHints struct {
	Name     string
	Firmware string
}

// DefaultDeviceName is the name given to auto-registered devices
func DefaultDeviceName(uid string) string {
	return "Device-" + uid
}
