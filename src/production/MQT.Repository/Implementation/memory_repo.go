package implementation

import (
	"context"
	"sort"
	"sync"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// MemoryDeviceRepository keeps devices in process memory. Used by STORE_DRIVER=memory and tests.
type MemoryDeviceRepository struct {
	mu      sync.Mutex
	byUID   map[string]*mqtmodels.Device
	uidByID map[string]string
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{
		byUID:   make(map[string]*mqtmodels.Device),
		uidByID: make(map[string]string),
	}
}

func (r *MemoryDeviceRepository) FindOrCreate(ctx context.Context, candidate mqtmodels.Device, firmware string) (*mqtmodels.Device, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.byUID[candidate.UID]
	if !exists {
		d := candidate
		d.Firmware = ""
		device = &d
		r.byUID[d.UID] = device
		r.uidByID[d.ID] = d.UID
	}
	if firmware != "" {
		device.Firmware = firmware
	}
	device.LastUpdated = candidate.LastUpdated

	out := copyDevice(device)
	return &out, !exists, nil
}

func (r *MemoryDeviceRepository) GetByUID(ctx context.Context, uid string) (*mqtmodels.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.byUID[uid]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	out := copyDevice(device)
	return &out, nil
}

func (r *MemoryDeviceRepository) List(ctx context.Context) ([]mqtmodels.Device, error) {
	r.mu.Lock()
	devices := make([]mqtmodels.Device, 0, len(r.byUID))
	for _, d := range r.byUID {
		devices = append(devices, copyDevice(d))
	}
	r.mu.Unlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastUpdated.After(devices[j].LastUpdated)
	})
	return devices, nil
}

func (r *MemoryDeviceRepository) UpdateSnapshot(ctx context.Context, deviceID string, snapshot mqtmodels.LatestReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.uidByID[deviceID]
	if !ok {
		return interfaces.ErrNotFound
	}
	s := snapshot
	r.byUID[uid].LatestReading = &s
	r.byUID[uid].LastUpdated = snapshot.Timestamp
	return nil
}

func (r *MemoryDeviceRepository) Ping(ctx context.Context) error {
	return nil
}

func copyDevice(d *mqtmodels.Device) mqtmodels.Device {
	out := *d
	if d.LatestReading != nil {
		lr := *d.LatestReading
		out.LatestReading = &lr
	}
	return out
}

// MemoryTelemetryRepository keeps readings in process memory, grouped by device id
type MemoryTelemetryRepository struct {
	mu       sync.RWMutex
	byDevice map[string][]mqtmodels.Reading
}

func NewMemoryTelemetryRepository() *MemoryTelemetryRepository {
	return &MemoryTelemetryRepository{byDevice: make(map[string][]mqtmodels.Reading)}
}

func (r *MemoryTelemetryRepository) Insert(ctx context.Context, reading mqtmodels.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDevice[reading.DeviceID] = append(r.byDevice[reading.DeviceID], reading)
	return nil
}

func (r *MemoryTelemetryRepository) Recent(ctx context.Context, deviceID string, limit int) ([]mqtmodels.Reading, error) {
	r.mu.RLock()
	readings := append([]mqtmodels.Reading(nil), r.byDevice[deviceID]...)
	r.mu.RUnlock()

	// newest first; ids are time-ordered so they break timestamp ties
	sort.SliceStable(readings, func(i, j int) bool {
		if !readings[i].ServerTimestamp.Equal(readings[j].ServerTimestamp) {
			return readings[i].ServerTimestamp.After(readings[j].ServerTimestamp)
		}
		return readings[i].ID > readings[j].ID
	})
	if limit >= 0 && len(readings) > limit {
		readings = readings[:limit]
	}
	if readings == nil {
		readings = make([]mqtmodels.Reading, 0)
	}
	return readings, nil
}
