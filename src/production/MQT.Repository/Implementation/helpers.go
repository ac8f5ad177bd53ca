package implementation

import (
	"database/sql"

	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const deviceColumns = `id, uid, name, fw, latest_temp, latest_hum, latest_pm25, latest_ts, last_updated, created_at`

func scanDevice(s rowScanner) (*mqtmodels.Device, error) {
	var (
		device          mqtmodels.Device
		fw              sql.NullString
		temp, hum, pm25 sql.NullFloat64
		latestTS        sql.NullTime
	)
	if err := s.Scan(&device.ID, &device.UID, &device.Name, &fw, &temp, &hum, &pm25, &latestTS, &device.LastUpdated, &device.CreatedAt); err != nil {
		return nil, err
	}
	device.Firmware = fw.String
	if latestTS.Valid {
		device.LatestReading = &mqtmodels.LatestReading{
			Measurements: mqtmodels.Measurements{
				Temperature:       floatPtr(temp),
				Humidity:          floatPtr(hum),
				ParticulateMatter: floatPtr(pm25),
			},
			Timestamp: latestTS.Time,
		}
	}
	return &device, nil
}

const readingColumns = `id, device_id, temp, hum, pm25, device_ts, server_ts`

func scanReading(s rowScanner) (*mqtmodels.Reading, error) {
	var (
		reading         mqtmodels.Reading
		temp, hum, pm25 sql.NullFloat64
	)
	if err := s.Scan(&reading.ID, &reading.DeviceID, &temp, &hum, &pm25, &reading.DeviceTimestamp, &reading.ServerTimestamp); err != nil {
		return nil, err
	}
	reading.Temperature = floatPtr(temp)
	reading.Humidity = floatPtr(hum)
	reading.ParticulateMatter = floatPtr(pm25)
	return &reading, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
