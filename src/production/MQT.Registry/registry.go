package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// ErrDeviceNotFound is returned by Lookup for a uid that was never registered
var ErrDeviceNotFound = errors.New("device not found")

// RegistryError wraps a persistence failure while resolving a device
type RegistryError struct {
	UID string
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry: resolve %q: %v", e.UID, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Registry maps device uids to persisted devices, creating them on first sight
type Registry struct {
	repo    interfaces.DeviceRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRegistry(repo interfaces.DeviceRepository, log *logger.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		repo:    repo,
		logger:  log.WithComponent("registry"),
		metrics: m,
		now:     time.Now,
	}
}

// ResolveOrCreate returns the device for uid, creating it when absent.
// A firmware hint overwrites the stored firmware; the name hint only applies on creation.
func (r *Registry) ResolveOrCreate(ctx context.Context, uid string, hints mqtmodels.DeviceHints) (*mqtmodels.Device, error) {
	if uid == "" {
		return nil, &RegistryError{UID: uid, Err: errors.New("empty uid")}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, &RegistryError{UID: uid, Err: err}
	}

	name := hints.Name
	if name == "" {
		name = mqtmodels.DefaultDeviceName(uid)
	}

	now := r.now().UTC()
	candidate := mqtmodels.Device{
		ID:          id.String(),
		UID:         uid,
		Name:        name,
		LastUpdated: now,
		CreatedAt:   now,
	}

	device, created, err := r.repo.FindOrCreate(ctx, candidate, hints.Firmware)
	if err != nil {
		return nil, &RegistryError{UID: uid, Err: err}
	}
	if created {
		r.metrics.DevicesCreated.Inc()
		r.logger.Logger.Info().Str("uid", uid).Str("id", device.ID).Msg("Registered new device")
	}
	return device, nil
}

// Lookup returns an existing device without creating one
func (r *Registry) Lookup(ctx context.Context, uid string) (*mqtmodels.Device, error) {
	device, err := r.repo.GetByUID(ctx, uid)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, &RegistryError{UID: uid, Err: err}
	}
	return device, nil
}

// List returns every registered device, most recently updated first
func (r *Registry) List(ctx context.Context) ([]mqtmodels.Device, error) {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}
