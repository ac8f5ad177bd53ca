// Package codec converts the sensor wire format to and from float values.
//
// Devices send each channel as the bit pattern of an IEEE-754 single-precision
// float, written little-endian on the device and read back as an unsigned
// integer, so the integer value is the float32 bit pattern itself.
package codec

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// float32FracDigits is the longest exact decimal fraction of any float32
const float32FracDigits = 149

// Decode interprets wire as float32 bits and rounds to 2 decimals, ties away from zero.
// No range validation is done; NaN and infinities pass through.
func Decode(wire uint32) float64 {
	return round2(math.Float32frombits(wire))
}

// Encode returns the wire form of f. It is the exact inverse of the unrounded decode.
func Encode(f float64) uint32 {
	return math.Float32bits(float32(f))
}

// round2 rounds the exact value of f, so a float32 sitting exactly on x.xx5
// goes away from zero.
func round2(f float32) float64 {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	exact, err := decimal.NewFromString(strconv.FormatFloat(v, 'f', float32FracDigits, 64))
	if err != nil {
		return v
	}
	r, _ := exact.Round(2).Float64()
	return r
}

// DecodeChannels decodes every present channel independently. Absent channels stay nil.
func DecodeChannels(raw mqtmodels.RawChannels) mqtmodels.Measurements {
	return mqtmodels.Measurements{
		Temperature:       decodePtr(raw.Temperature),
		Humidity:          decodePtr(raw.Humidity),
		ParticulateMatter: decodePtr(raw.ParticulateMatter),
	}
}

// EncodeChannels is the inverse of DecodeChannels, used by producers
func EncodeChannels(m mqtmodels.Measurements) mqtmodels.RawChannels {
	return mqtmodels.RawChannels{
		Temperature:       encodePtr(m.Temperature),
		Humidity:          encodePtr(m.Humidity),
		ParticulateMatter: encodePtr(m.ParticulateMatter),
	}
}

func decodePtr(v *uint32) *float64 {
	if v == nil {
		return nil
	}
	f := Decode(*v)
	return &f
}

func encodePtr(v *float64) *uint32 {
	if v == nil {
		return nil
	}
	w := Encode(*v)
	return &w
}
