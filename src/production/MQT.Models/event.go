package mqtmodels

// Outbound and inbound realtime event names
const (
	EventNewTelemetry       = "new-telemetry-data"
	EventLatestDeviceUpdate = "latest-device-update"
	EventJoinRoom           = "join-room"
)

// Event is a named message delivered to subscriber groups
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"data"`
}
