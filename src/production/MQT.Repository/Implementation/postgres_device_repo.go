package implementation

import (
	"context"
	"database/sql"
	"errors"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

type PostgresDeviceRepository struct {
	db *sql.DB
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

// FindOrCreate (atomic upsert on the uid unique constraint)
func (r *PostgresDeviceRepository) FindOrCreate(ctx context.Context, candidate mqtmodels.Device, firmware string) (*mqtmodels.Device, bool, error) {
	query := `
		INSERT INTO devices (id, uid, name, fw, last_updated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid)
		DO UPDATE SET fw = COALESCE(EXCLUDED.fw, devices.fw), last_updated = EXCLUDED.last_updated
		RETURNING ` + deviceColumns

	row := r.db.QueryRowContext(ctx, query,
		candidate.ID, candidate.UID, candidate.Name, nullString(firmware), candidate.LastUpdated, candidate.CreatedAt)
	device, err := scanDevice(row)
	if err != nil {
		return nil, false, err
	}
	return device, device.ID == candidate.ID, nil
}

func (r *PostgresDeviceRepository) GetByUID(ctx context.Context, uid string) (*mqtmodels.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE uid = $1`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return device, err
}

func (r *PostgresDeviceRepository) List(ctx context.Context) ([]mqtmodels.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY last_updated DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]mqtmodels.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

func (r *PostgresDeviceRepository) UpdateSnapshot(ctx context.Context, deviceID string, snapshot mqtmodels.LatestReading) error {
	query := `
		UPDATE devices
		SET latest_temp = $1, latest_hum = $2, latest_pm25 = $3, latest_ts = $4, last_updated = $4
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		nullFloat(snapshot.Temperature), nullFloat(snapshot.Humidity), nullFloat(snapshot.ParticulateMatter),
		snapshot.Timestamp, deviceID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *PostgresDeviceRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
