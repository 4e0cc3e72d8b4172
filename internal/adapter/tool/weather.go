package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
	"nimbus/internal/infra/tracer"
)

// cityAlias maps common Chinese city names to the English names the
// weather API expects. Unlisted names pass through unchanged.
var cityAlias = map[string]string{
	"北京": "Beijing",
	"上海": "Shanghai",
	"深圳": "Shenzhen",
	"广州": "Guangzhou",
	"杭州": "Hangzhou",
	"南京": "Nanjing",
	"苏州": "Suzhou",
	"常州": "Changzhou",
	"无锡": "Wuxi",
	"宁波": "Ningbo",
}

// translateCity normalizes a location string for the weather API.
func translateCity(location string) string {
	location = strings.TrimSpace(location)
	if en, ok := cityAlias[location]; ok {
		return en
	}
	return location
}

// WeatherObservation is the subset of the weather API response the
// agent works with.
type WeatherObservation struct {
	CityID      int     `json:"city_id"`
	CityName    string  `json:"city_name"`
	MainWeather string  `json:"main_weather"`
	Description string  `json:"description"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
}

// WeatherTool fetches current weather from an OpenWeatherMap-compatible API.
type WeatherTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewWeatherTool creates a weather tool from config.
func NewWeatherTool(cfg config.WeatherConfig, logger *slog.Logger) *WeatherTool {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WeatherTool{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather for a city. Accepts Chinese or English city names."
}

func (t *WeatherTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {
					"type": "string",
					"description": "City name, e.g. 'Beijing' or '北京'"
				}
			},
			"required": ["location"]
		}`),
	}
}

type weatherParams struct {
	Location string `json:"location"`
}

func (t *WeatherTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_weather", t.logger, params,
		func(ctx context.Context, span trace.Span, p weatherParams) (any, error) {
			if strings.TrimSpace(p.Location) == "" {
				return ErrResult("location is required")
			}
			city := translateCity(p.Location)
			span.SetAttributes(tracer.StringAttr("weather.city", city))

			obs, err := t.fetch(ctx, city)
			if err != nil {
				return nil, err
			}
			return obs, nil
		})
}

// Fetch retrieves the current weather for a city, bypassing the tool
// pipeline. Used by the weather database tool to refresh records.
func (t *WeatherTool) Fetch(ctx context.Context, location string) (*WeatherObservation, error) {
	return t.fetch(ctx, translateCity(location))
}

func (t *WeatherTool) fetch(ctx context.Context, city string) (*WeatherObservation, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", t.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "zh_cn")

	reqURL := t.baseURL + "/data/2.5/weather?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrToolFailure, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: weather api: %v", domain.ErrToolFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrToolFailure, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: city not found: %s", domain.ErrToolFailure, city)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: weather api returned %d: %s",
			domain.ErrToolFailure, resp.StatusCode, truncate(string(body), 200))
	}

	var raw struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrToolFailure, err)
	}

	obs := &WeatherObservation{
		CityID:      raw.ID,
		CityName:    raw.Name,
		Temperature: raw.Main.Temp,
		FeelsLike:   raw.Main.FeelsLike,
		TempMin:     raw.Main.TempMin,
		TempMax:     raw.Main.TempMax,
	}
	if len(raw.Weather) > 0 {
		obs.MainWeather = raw.Weather[0].Main
		obs.Description = raw.Weather[0].Description
	}
	return obs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.Tool = (*WeatherTool)(nil)
