package implementation

import (
	"context"
	"database/sql"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

type PostgresTelemetryRepository struct {
	db *sql.DB
}

func NewPostgresTelemetryRepository(db *sql.DB) *PostgresTelemetryRepository {
	return &PostgresTelemetryRepository{db: db}
}

func (r *PostgresTelemetryRepository) Insert(ctx context.Context, reading mqtmodels.Reading) error {
	query := `
		INSERT INTO telemetry (id, device_id, temp, hum, pm25, device_ts, server_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.ID, reading.DeviceID,
		nullFloat(reading.Temperature), nullFloat(reading.Humidity), nullFloat(reading.ParticulateMatter),
		reading.DeviceTimestamp, reading.ServerTimestamp)
	return err
}

func (r *PostgresTelemetryRepository) Recent(ctx context.Context, deviceID string, limit int) ([]mqtmodels.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM telemetry WHERE device_id = $1 ORDER BY server_ts DESC, id DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]mqtmodels.Reading, 0, limit)
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	return readings, rows.Err()
}
