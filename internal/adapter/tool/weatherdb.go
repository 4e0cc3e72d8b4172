package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"nimbus/internal/adapter/weatherstore"
	"nimbus/internal/domain"
	"nimbus/internal/infra/tracer"
)

// WeatherFetcher retrieves a live weather observation for a city.
type WeatherFetcher interface {
	Fetch(ctx context.Context, location string) (*WeatherObservation, error)
}

var cityParamsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"city": {
			"type": "string",
			"description": "City name, e.g. 'Beijing' or '北京'"
		}
	},
	"required": ["city"]
}`)

type cityParams struct {
	City string `json:"city"`
}

// InsertWeatherTool fetches the current weather for a city and saves it
// to the weather database, updating any existing record.
type InsertWeatherTool struct {
	store   *weatherstore.Store
	fetcher WeatherFetcher
	logger  *slog.Logger
}

func NewInsertWeatherTool(store *weatherstore.Store, fetcher WeatherFetcher, logger *slog.Logger) *InsertWeatherTool {
	return &InsertWeatherTool{store: store, fetcher: fetcher, logger: logger}
}

func (t *InsertWeatherTool) Name() string { return "insert_weather_to_db" }

func (t *InsertWeatherTool) Description() string {
	return "Fetch the current weather for a city and save it to the weather database. Updates the record if the city already exists."
}

func (t *InsertWeatherTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: cityParamsSchema}
}

func (t *InsertWeatherTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.insert_weather_to_db", t.logger, params,
		func(ctx context.Context, span trace.Span, p cityParams) (any, error) {
			if strings.TrimSpace(p.City) == "" {
				return ErrResult("city is required")
			}
			obs, err := t.fetcher.Fetch(ctx, p.City)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("weather.city", obs.CityName))

			updated, err := t.store.Upsert(ctx, weatherstore.Record{
				CityID:      obs.CityID,
				CityName:    obs.CityName,
				MainWeather: obs.MainWeather,
				Description: obs.Description,
				Temperature: obs.Temperature,
				FeelsLike:   obs.FeelsLike,
				TempMin:     obs.TempMin,
				TempMax:     obs.TempMax,
			})
			if err != nil {
				return nil, err
			}
			if updated {
				return fmt.Sprintf("updated weather record for %s", obs.CityName), nil
			}
			return fmt.Sprintf("saved weather record for %s", obs.CityName), nil
		})
}

// QueryWeatherTool reads a city's saved weather record from the database.
type QueryWeatherTool struct {
	store  *weatherstore.Store
	logger *slog.Logger
}

func NewQueryWeatherTool(store *weatherstore.Store, logger *slog.Logger) *QueryWeatherTool {
	return &QueryWeatherTool{store: store, logger: logger}
}

func (t *QueryWeatherTool) Name() string { return "query_weather_from_db" }

func (t *QueryWeatherTool) Description() string {
	return "Look up a city's saved weather record in the weather database."
}

func (t *QueryWeatherTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: cityParamsSchema}
}

func (t *QueryWeatherTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.query_weather_from_db", t.logger, params,
		func(ctx context.Context, span trace.Span, p cityParams) (any, error) {
			if strings.TrimSpace(p.City) == "" {
				return ErrResult("city is required")
			}
			city := translateCity(p.City)
			span.SetAttributes(tracer.StringAttr("weather.city", city))

			rec, err := t.store.GetByCity(ctx, city)
			if err != nil {
				if errors.Is(err, weatherstore.ErrNotFound) {
					return ErrResult("no weather record found for %s", city)
				}
				return nil, err
			}
			return rec, nil
		})
}

// DeleteWeatherTool removes a city's weather record from the database.
// Destructive: registered gated so a human approves each invocation.
type DeleteWeatherTool struct {
	store  *weatherstore.Store
	logger *slog.Logger
}

func NewDeleteWeatherTool(store *weatherstore.Store, logger *slog.Logger) *DeleteWeatherTool {
	return &DeleteWeatherTool{store: store, logger: logger}
}

func (t *DeleteWeatherTool) Name() string { return "delete_weather_from_db" }

func (t *DeleteWeatherTool) Description() string {
	return "Delete a city's saved weather record from the weather database. This is a destructive operation."
}

func (t *DeleteWeatherTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: cityParamsSchema}
}

func (t *DeleteWeatherTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.delete_weather_from_db", t.logger, params,
		func(ctx context.Context, span trace.Span, p cityParams) (any, error) {
			if strings.TrimSpace(p.City) == "" {
				return ErrResult("city is required")
			}
			city := translateCity(p.City)
			span.SetAttributes(tracer.StringAttr("weather.city", city))

			deleted, err := t.store.DeleteByCity(ctx, city)
			if err != nil {
				return nil, err
			}
			if !deleted {
				return ErrResult("no weather record found for %s", city)
			}
			return fmt.Sprintf("deleted weather record for %s", city), nil
		})
}

var (
	_ domain.Tool = (*InsertWeatherTool)(nil)
	_ domain.Tool = (*QueryWeatherTool)(nil)
	_ domain.Tool = (*DeleteWeatherTool)(nil)
)
