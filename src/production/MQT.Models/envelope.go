package mqtmodels

// Envelope is the structural form of a wire message before channel decoding:
//
//	{ "uid": "dev-1", "fw": "1.0.0", "tts": 1000,
//	  "data": { "temp": 1097859072, "hum": ..., "pm2.5": ... } }
type Envelope struct {
	UID             string      `json:"uid"`
	Firmware        string      `json:"fw,omitempty"`
	DeviceTimestamp int64       `json:"tts"`
	Data            RawChannels `json:"data"`
}

// RawChannels holds the little-endian float bit patterns as sent by the device
type RawChannels struct {
	Temperature       *uint32 `json:"temp,omitempty"`
	Humidity          *uint32 `json:"hum,omitempty"`
	ParticulateMatter *uint32 `json:"pm2.5,omitempty"`
}

// Hints returns the registry hints carried by the envelope
func (e Envelope) Hints() DeviceHints {
	return DeviceHints{Firmware: e.Firmware}
}
