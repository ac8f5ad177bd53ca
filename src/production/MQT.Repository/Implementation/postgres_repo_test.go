package implementation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func deviceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "uid", "name", "fw", "latest_temp", "latest_hum", "latest_pm25", "latest_ts", "last_updated", "created_at"})
}

func TestPostgresFindOrCreate_InsertsNewDevice(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresDeviceRepository(db)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	candidate := mqtmodels.Device{ID: "id-1", UID: "dev-1", Name: "Device-dev-1", LastUpdated: now, CreatedAt: now}

	mock.ExpectQuery(`INSERT INTO devices .* ON CONFLICT \(uid\)`).
		WithArgs("id-1", "dev-1", "Device-dev-1", "1.0.0", now, now).
		WillReturnRows(deviceRows().AddRow("id-1", "dev-1", "Device-dev-1", "1.0.0", nil, nil, nil, nil, now, now))

	device, created, err := repo.FindOrCreate(context.Background(), candidate, "1.0.0")

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "dev-1", device.UID)
	assert.Equal(t, "1.0.0", device.Firmware)
	assert.Nil(t, device.LatestReading)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindOrCreate_ReturnsExistingDevice(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresDeviceRepository(db)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	candidate := mqtmodels.Device{ID: "id-new", UID: "dev-1", Name: "Device-dev-1", LastUpdated: now, CreatedAt: now}

	mock.ExpectQuery(`INSERT INTO devices`).
		WithArgs("id-new", "dev-1", "Device-dev-1", nil, now, now).
		WillReturnRows(deviceRows().AddRow("id-old", "dev-1", "Kitchen", "0.9.0", 21.5, nil, 3.25, earlier, now, earlier))

	device, created, err := repo.FindOrCreate(context.Background(), candidate, "")

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "id-old", device.ID)
	assert.Equal(t, "Kitchen", device.Name)
	assert.Equal(t, "0.9.0", device.Firmware)
	require.NotNil(t, device.LatestReading)
	assert.Equal(t, 21.5, *device.LatestReading.Temperature)
	assert.Nil(t, device.LatestReading.Humidity)
	assert.Equal(t, 3.25, *device.LatestReading.ParticulateMatter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByUID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresDeviceRepository(db)

	mock.ExpectQuery(`SELECT .* FROM devices WHERE uid = \$1`).
		WithArgs("missing").
		WillReturnRows(deviceRows())

	_, err := repo.GetByUID(context.Background(), "missing")

	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSnapshot(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresDeviceRepository(db)

	temp := 15.0
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snapshot := mqtmodels.LatestReading{Measurements: mqtmodels.Measurements{Temperature: &temp}, Timestamp: ts}

	mock.ExpectExec(`UPDATE devices`).
		WithArgs(15.0, nil, nil, ts, "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE devices`).
		WithArgs(15.0, nil, nil, ts, "id-gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateSnapshot(context.Background(), "id-1", snapshot))
	assert.ErrorIs(t, repo.UpdateSnapshot(context.Background(), "id-gone", snapshot), interfaces.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTelemetry_InsertAndRecent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresTelemetryRepository(db)

	hum := 40.25
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reading := mqtmodels.Reading{
		ID:              "r-1",
		DeviceID:        "id-1",
		Measurements:    mqtmodels.Measurements{Humidity: &hum},
		DeviceTimestamp: 1000,
		ServerTimestamp: ts,
	}

	mock.ExpectExec(`INSERT INTO telemetry`).
		WithArgs("r-1", "id-1", nil, 40.25, nil, int64(1000), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM telemetry WHERE device_id = \$1 ORDER BY server_ts DESC, id DESC LIMIT \$2`).
		WithArgs("id-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "temp", "hum", "pm25", "device_ts", "server_ts"}).
			AddRow("r-2", "id-1", 15.0, nil, nil, int64(2000), ts.Add(time.Second)).
			AddRow("r-1", "id-1", nil, 40.25, nil, int64(1000), ts))

	require.NoError(t, repo.Insert(context.Background(), reading))
	readings, err := repo.Recent(context.Background(), "id-1", 10)

	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, "r-2", readings[0].ID)
	assert.Equal(t, 15.0, *readings[0].Temperature)
	assert.Nil(t, readings[0].Humidity)
	assert.Equal(t, int64(1000), readings[1].DeviceTimestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}
