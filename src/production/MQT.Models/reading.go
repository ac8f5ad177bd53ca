package mqtmodels

import "time"

// Measurements holds the decoded channels. A nil channel was absent from the message.
type Measurements struct {
	Temperature       *float64 `json:"temp,omitempty" bson:"temp,omitempty"`
	Humidity          *float64 `json:"hum,omitempty" bson:"hum,omitempty"`
	ParticulateMatter *float64 `json:"pm25,omitempty" bson:"pm25,omitempty"`
}

// Empty reports whether no channel is present
func (m Measurements) Empty() bool {
	return m.Temperature == nil && m.Humidity == nil && m.ParticulateMatter == nil
}

// Reading is one immutable telemetry record belonging to a device
type Reading struct {
	ID              string `json:"_id" bson:"_id"`
	DeviceID        string `json:"device" bson:"device"`
	Measurements    `bson:",inline"`
	DeviceTimestamp int64     `json:"deviceTimestamp" bson:"deviceTimestamp"`
	ServerTimestamp time.Time `json:"serverTimestamp" bson:"serverTimestamp"`
}

// Snapshot converts a stored reading into the device cache form
func (r Reading) Snapshot() LatestReading {
	return LatestReading{Measurements: r.Measurements, Timestamp: r.ServerTimestamp}
}

// HydratedReading is a stored reading with its device relation expanded.
// It is the payload of every outbound fan-out event.
type HydratedReading struct {
	ID     string `json:"_id"`
	Device Device `json:"device"`
	Measurements
	DeviceTimestamp int64     `json:"deviceTimestamp"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

// Hydrate expands the device relation of a stored reading
func Hydrate(r Reading, d Device) HydratedReading {
	return HydratedReading{
		ID:              r.ID,
		Device:          d,
		Measurements:    r.Measurements,
		DeviceTimestamp: r.DeviceTimestamp,
		ServerTimestamp: r.ServerTimestamp,
	}
}
