package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

// Reading is one logged sensor value.
type Reading struct {
	Timestamp time.Time      `json:"timestamp"`
	Battery   *int           `json:"battery"`
	Reachable bool           `json:"reachable"`
	Values    map[string]any `json:"values"`
}

// SensorSummary describes one sensor that has logged readings.
type SensorSummary struct {
	Category model.Category `json:"category"`
	Name     string         `json:"name"`
	Readings int            `json:"readings"`
	Latest   time.Time      `json:"latest"`
}

// Append writes readings in one transaction and trims each touched sensor
// to the newest keep rows.
func (r *Repository) Append(ctx context.Context, sensors []model.Sensor) error {
	if len(sensors) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sensor_readings (sensor_id, sensor_name, sensor_type, category, recorded_at, battery, reachable, values_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	touched := map[string]struct{}{}
	for _, sensor := range sensors {
		values, err := json.Marshal(readingValues(sensor))
		if err != nil {
			return fmt.Errorf("encode reading for %s: %w", sensor.ID, err)
		}
		recordedAt := sensor.LastUpdated
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}
		if _, err := stmt.ExecContext(
			ctx,
			sensor.ID,
			sensor.Name,
			sensor.Type,
			string(sensor.Category()),
			recordedAt.UTC().Format(time.RFC3339Nano),
			fromIntPtr(sensor.Battery),
			sensor.Reachable,
			string(values),
		); err != nil {
			return err
		}
		touched[sensor.ID] = struct{}{}
	}

	for sensorID := range touched {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM sensor_readings
			WHERE sensor_id = ? AND id NOT IN (
				SELECT id FROM sensor_readings WHERE sensor_id = ? ORDER BY id DESC LIMIT ?
			)`, sensorID, sensorID, r.keep); err != nil {
			return fmt.Errorf("trim readings for %s: %w", sensorID, err)
		}
	}
	return tx.Commit()
}

// History returns up to limit of the newest readings for a sensor, oldest
// first.
func (r *Repository) History(ctx context.Context, category model.Category, name string, limit int) ([]Reading, error) {
	if limit <= 0 || limit > r.keep {
		limit = r.keep
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT recorded_at, battery, reachable, values_json FROM (
			SELECT id, recorded_at, battery, reachable, values_json
			FROM sensor_readings
			WHERE category = ? AND sensor_name = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, string(category), name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Reading, 0)
	for rows.Next() {
		var (
			item       Reading
			recordedAt string
			battery    sql.NullInt64
			valuesJSON string
		)
		if err := rows.Scan(&recordedAt, &battery, &item.Reachable, &valuesJSON); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			item.Timestamp = ts.UTC()
		}
		if battery.Valid {
			v := int(battery.Int64)
			item.Battery = &v
		}
		if err := json.Unmarshal([]byte(valuesJSON), &item.Values); err != nil {
			return nil, fmt.Errorf("decode reading values: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Sensors lists every sensor with logged readings.
func (r *Repository) Sensors(ctx context.Context) ([]SensorSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, sensor_name, COUNT(*), MAX(recorded_at)
		FROM sensor_readings
		GROUP BY category, sensor_name
		ORDER BY category, sensor_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]SensorSummary, 0)
	for rows.Next() {
		var (
			item     SensorSummary
			category string
			latest   string
		)
		if err := rows.Scan(&category, &item.Name, &item.Readings, &latest); err != nil {
			return nil, err
		}
		item.Category = model.Category(category)
		if ts, err := time.Parse(time.RFC3339Nano, latest); err == nil {
			item.Latest = ts.UTC()
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// readingValues keeps the category-specific fields of a sensor.
func readingValues(sensor model.Sensor) map[string]any {
	switch reading := sensor.Reading.(type) {
	case model.Presence:
		return map[string]any{"presence": reading.Detected}
	case model.Temperature:
		if !reading.Valid {
			return map[string]any{"temperature": nil}
		}
		return map[string]any{"temperature": reading.Celsius}
	case model.LightLevel:
		return map[string]any{"light_level": reading.Level, "dark": reading.Dark, "daylight": reading.Daylight}
	case model.Switch:
		return map[string]any{"button_event": reading.ButtonEvent}
	case model.Daylight:
		return map[string]any{"daylight": reading.Daylight}
	case model.RawState:
		if reading.JSON == "" {
			return map[string]any{}
		}
		return map[string]any{"raw_state": json.RawMessage(reading.JSON)}
	default:
		return map[string]any{}
	}
}

func fromIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
