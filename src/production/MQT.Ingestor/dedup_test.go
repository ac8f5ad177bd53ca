package mqtingestor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduper_Window(t *testing.T) {
	d := NewDeduper(time.Minute, 0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("a"))
	assert.True(t, d.ShouldProcess("b"))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.ShouldProcess("a"))
}

func TestDedupKey_IgnoresFieldOrder(t *testing.T) {
	a, err := ParseEnvelope([]byte(`{"uid":"dev-1","tts":1,"data":{"temp":1,"hum":2}}`))
	require.NoError(t, err)
	b, err := ParseEnvelope([]byte(`{"data":{"hum":2,"temp":1},"tts":1,"uid":"dev-1"}`))
	require.NoError(t, err)
	c, err := ParseEnvelope([]byte(`{"uid":"dev-1","tts":1,"data":{"temp":1}}`))
	require.NoError(t, err)

	assert.Equal(t, dedupKey(a), dedupKey(b))
	assert.NotEqual(t, dedupKey(a), dedupKey(c))
}

func TestParseEnvelope_Defaults(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"uid":"dev-1"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), env.DeviceTimestamp)
	assert.Nil(t, env.Data.Temperature)
	assert.Empty(t, env.Firmware)
}
