package weatherstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"nimbus/internal/domain"
)

// Record is one city's cached weather observation.
type Record struct {
	CityID      int     `json:"city_id"`
	CityName    string  `json:"city_name"`
	MainWeather string  `json:"main_weather"`
	Description string  `json:"description"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
}

// ErrNotFound is returned when no record exists for a city.
var ErrNotFound = errors.New("weather record not found")

// Store persists weather observations in SQLite, keyed by city id.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the weather database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrWeatherStore, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrWeatherStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrWeatherStore, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS weather (
			city_id      INTEGER PRIMARY KEY,
			city_name    TEXT NOT NULL,
			main_weather TEXT NOT NULL,
			description  TEXT NOT NULL,
			temperature  REAL NOT NULL,
			feels_like   REAL NOT NULL,
			temp_min     REAL NOT NULL,
			temp_max     REAL NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrWeatherStore, err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or updates the record for its city id. It reports
// whether an existing record was updated.
func (s *Store) Upsert(ctx context.Context, rec Record) (updated bool, err error) {
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM weather WHERE city_id = ?`, rec.CityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: check existing: %v", domain.ErrWeatherStore, err)
	}

	const upsert = `
		INSERT INTO weather (city_id, city_name, main_weather, description, temperature, feels_like, temp_min, temp_max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(city_id) DO UPDATE SET
			city_name    = excluded.city_name,
			main_weather = excluded.main_weather,
			description  = excluded.description,
			temperature  = excluded.temperature,
			feels_like   = excluded.feels_like,
			temp_min     = excluded.temp_min,
			temp_max     = excluded.temp_max
	`
	_, err = s.db.ExecContext(ctx, upsert,
		rec.CityID, rec.CityName, rec.MainWeather, rec.Description,
		rec.Temperature, rec.FeelsLike, rec.TempMin, rec.TempMax,
	)
	if err != nil {
		return false, fmt.Errorf("%w: upsert: %v", domain.ErrWeatherStore, err)
	}
	return exists > 0, nil
}

// GetByCity returns the record for the given city name.
func (s *Store) GetByCity(ctx context.Context, cityName string) (*Record, error) {
	const query = `
		SELECT city_id, city_name, main_weather, description, temperature, feels_like, temp_min, temp_max
		FROM weather WHERE city_name = ?
	`
	var rec Record
	err := s.db.QueryRowContext(ctx, query, cityName).Scan(
		&rec.CityID, &rec.CityName, &rec.MainWeather, &rec.Description,
		&rec.Temperature, &rec.FeelsLike, &rec.TempMin, &rec.TempMax,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cityName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrWeatherStore, err)
	}
	return &rec, nil
}

// DeleteByCity removes the record for the given city name. It reports
// whether a record was actually deleted.
func (s *Store) DeleteByCity(ctx context.Context, cityName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM weather WHERE city_name = ?`, cityName)
	if err != nil {
		return false, fmt.Errorf("%w: delete: %v", domain.ErrWeatherStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", domain.ErrWeatherStore, err)
	}
	return n > 0, nil
}
