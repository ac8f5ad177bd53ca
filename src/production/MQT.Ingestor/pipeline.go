package mqtingestor

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	codec "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Codec"
	fanout "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Fanout"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// ErrDuplicate is returned for envelopes suppressed by the dedup window
var ErrDuplicate = errors.New("duplicate message")

// DeviceResolver resolves the device a message belongs to
type DeviceResolver interface {
	ResolveOrCreate(ctx context.Context, uid string, hints mqtmodels.DeviceHints) (*mqtmodels.Device, error)
	Lookup(ctx context.Context, uid string) (*mqtmodels.Device, error)
}

// ReadingStore persists readings and the per-device snapshot
type ReadingStore interface {
	Append(ctx context.Context, deviceID string, measurements mqtmodels.Measurements, deviceTimestamp int64) (*mqtmodels.Reading, error)
	UpdateDeviceSnapshot(ctx context.Context, deviceID string, reading mqtmodels.Reading) error
}

// PipelineOptions tunes a Pipeline. The zero value accepts every uid, never dedups and uses a 5s store timeout.
type PipelineOptions struct {
	UIDPattern   string
	DedupWindow  time.Duration
	StoreTimeout time.Duration
}

// Pipeline turns one transport message into a stored reading and two fan-out events
type Pipeline struct {
	devices   DeviceResolver
	store     ReadingStore
	publisher fanout.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger

	uidPattern   *regexp.Regexp
	dedup        *Deduper
	storeTimeout time.Duration
}

func NewPipeline(devices DeviceResolver, store ReadingStore, publisher fanout.Publisher, m *metrics.Metrics, log *logger.Logger, opts PipelineOptions) (*Pipeline, error) {
	p := &Pipeline{
		devices:      devices,
		store:        store,
		publisher:    publisher,
		metrics:      m,
		logger:       log.WithComponent("pipeline"),
		storeTimeout: opts.StoreTimeout,
	}
	if p.storeTimeout <= 0 {
		p.storeTimeout = 5 * time.Second
	}
	if opts.UIDPattern != "" {
		re, err := regexp.Compile(opts.UIDPattern)
		if err != nil {
			return nil, err
		}
		p.uidPattern = re
	}
	if opts.DedupWindow > 0 {
		p.dedup = NewDeduper(opts.DedupWindow, 0)
	}
	return p, nil
}

// Handle ingests one message. Every failure is logged and metered here; the
// returned error is informational and never stops the subscription.
func (p *Pipeline) Handle(topic string, payload []byte) error {
	start := time.Now()
	p.metrics.MessagesReceived.Inc()

	env, err := p.parse(topic, payload)
	if err != nil {
		reason := metrics.DropEnvelope
		if errors.Is(err, ErrDuplicate) {
			reason = metrics.DropDuplicate
		}
		p.drop(reason, "", err)
		return err
	}
	log := p.logger.WithDevice(env.UID)

	measurements := p.decode(log, env.Data)

	ctx, cancel := context.WithTimeout(context.Background(), p.storeTimeout)
	defer cancel()

	device, err := p.devices.ResolveOrCreate(ctx, env.UID, env.Hints())
	if err != nil {
		p.drop(metrics.DropRegistry, env.UID, err)
		return err
	}

	reading, err := p.store.Append(ctx, device.ID, measurements, env.DeviceTimestamp)
	if err != nil {
		p.drop(metrics.DropStore, env.UID, err)
		return err
	}
	p.metrics.ReadingsStored.Inc()

	p.distribute(ctx, log, device, reading)
	p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Submit stores a reading for an already registered device and fans it out
// like a transport message. The device timestamp is the current time.
func (p *Pipeline) Submit(ctx context.Context, uid string, measurements mqtmodels.Measurements) (*mqtmodels.HydratedReading, error) {
	device, err := p.devices.Lookup(ctx, uid)
	if err != nil {
		return nil, err
	}

	reading, err := p.store.Append(ctx, device.ID, measurements, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	p.metrics.ReadingsStored.Inc()

	hydrated := p.distribute(ctx, p.logger.WithDevice(uid), device, reading)
	return &hydrated, nil
}

func (p *Pipeline) parse(topic string, payload []byte) (*mqtmodels.Envelope, error) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if env.UID == fanout.GlobalGroup {
		return nil, &EnvelopeError{UID: env.UID, Reason: "reserved uid"}
	}
	if p.uidPattern != nil && !p.uidPattern.MatchString(env.UID) {
		return nil, &EnvelopeError{UID: env.UID, Reason: "uid not allowed"}
	}
	if suffix := topicSuffix(topic); suffix != "" && suffix != env.UID {
		p.logger.Logger.Debug().Str("uid", env.UID).Str("topic", topic).Msg("Topic suffix differs from payload uid")
	}
	if p.dedup != nil && !p.dedup.ShouldProcess(dedupKey(env)) {
		return nil, &EnvelopeError{UID: env.UID, Reason: "suppressed", Err: ErrDuplicate}
	}
	return env, nil
}

// decode converts channels, treating non-finite results as absent
func (p *Pipeline) decode(log *logger.Logger, raw mqtmodels.RawChannels) mqtmodels.Measurements {
	m := codec.DecodeChannels(raw)
	m.Temperature = finite(log, "temp", m.Temperature)
	m.Humidity = finite(log, "hum", m.Humidity)
	m.ParticulateMatter = finite(log, "pm25", m.ParticulateMatter)
	return m
}

func finite(log *logger.Logger, channel string, v *float64) *float64 {
	if v == nil || (!math.IsNaN(*v) && !math.IsInf(*v, 0)) {
		return v
	}
	log.Logger.Warn().Str("channel", channel).Msg("Dropping non-finite channel value")
	return nil
}

// distribute updates the device snapshot and publishes both events. A failed
// snapshot is logged and does not stop fan-out.
func (p *Pipeline) distribute(ctx context.Context, log *logger.Logger, device *mqtmodels.Device, reading *mqtmodels.Reading) mqtmodels.HydratedReading {
	view := *device
	if err := p.store.UpdateDeviceSnapshot(ctx, device.ID, *reading); err != nil {
		p.metrics.SnapshotFailures.Inc()
		log.Logger.Warn().Err(err).Msg("Device snapshot not updated")
	} else {
		snapshot := reading.Snapshot()
		view.LatestReading = &snapshot
		view.LastUpdated = reading.ServerTimestamp
	}

	hydrated := mqtmodels.Hydrate(*reading, view)
	p.publisher.Publish(device.UID, mqtmodels.Event{Name: mqtmodels.EventNewTelemetry, Payload: hydrated})
	p.publisher.Publish(fanout.GlobalGroup, mqtmodels.Event{Name: mqtmodels.EventLatestDeviceUpdate, Payload: hydrated})
	return hydrated
}

func (p *Pipeline) drop(reason, uid string, err error) {
	p.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	evt := p.logger.Logger.Warn().Err(err).Str("reason", reason)
	if uid != "" {
		evt = evt.Str("uid", uid)
	}
	evt.Msg("Message dropped")
}

func topicSuffix(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return ""
}
