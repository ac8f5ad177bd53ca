package mqtingestor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// EnvelopeError marks a message that cannot be turned into a reading
type EnvelopeError struct {
	UID    string
	Reason string
	Err    error
}

func (e *EnvelopeError) Error() string {
	msg := "envelope: " + e.Reason
	if e.UID != "" {
		msg = fmt.Sprintf("envelope from %q: %s", e.UID, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// ParseEnvelope decodes the structural form of a wire message.
// A missing tts reads as 0 and a missing data object leaves every channel absent.
func ParseEnvelope(payload []byte) (*mqtmodels.Envelope, error) {
	var env mqtmodels.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &EnvelopeError{Reason: "invalid payload", Err: err}
	}
	if env.UID == "" {
		return nil, &EnvelopeError{Reason: "missing uid", Err: errors.New("uid is required")}
	}
	return &env, nil
}

// dedupKey identifies byte-identical envelopes regardless of field order
func dedupKey(env *mqtmodels.Envelope) string {
	var b bytes.Buffer
	b.WriteString(env.UID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(env.DeviceTimestamp, 10))
	b.WriteByte('|')
	b.WriteString(env.Firmware)
	for _, ch := range []*uint32{env.Data.Temperature, env.Data.Humidity, env.Data.ParticulateMatter} {
		b.WriteByte('|')
		if ch != nil {
			b.WriteString(strconv.FormatUint(uint64(*ch), 10))
		}
	}
	return b.String()
}
