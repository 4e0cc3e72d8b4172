package tool

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"nimbus/internal/adapter/weatherstore"
)

type fakeFetcher struct {
	obs *WeatherObservation
	err error
}

func (f *fakeFetcher) Fetch(ctx context.Context, location string) (*WeatherObservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.obs, nil
}

func newWeatherStore(t *testing.T) *weatherstore.Store {
	t.Helper()
	store, err := weatherstore.New(filepath.Join(t.TempDir(), "weather.db"))
	if err != nil {
		t.Fatalf("weatherstore.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func beijingObs() *WeatherObservation {
	return &WeatherObservation{
		CityID:      1816670,
		CityName:    "Beijing",
		MainWeather: "Clear",
		Description: "晴",
		Temperature: 21.5,
		FeelsLike:   20.1,
		TempMin:     18.0,
		TempMax:     24.0,
	}
}

func TestInsertWeatherSavesThenUpdates(t *testing.T) {
	store := newWeatherStore(t)
	ins := NewInsertWeatherTool(store, &fakeFetcher{obs: beijingObs()}, newTestLogger())

	res, err := ins.Execute(context.Background(), json.RawMessage(`{"city":"Beijing"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "saved weather record for Beijing" {
		t.Errorf("Content = %q", res.Content)
	}

	res, err = ins.Execute(context.Background(), json.RawMessage(`{"city":"Beijing"}`))
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if res.Content != "updated weather record for Beijing" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestInsertWeatherFetchFailure(t *testing.T) {
	store := newWeatherStore(t)
	ins := NewInsertWeatherTool(store, &fakeFetcher{err: errors.New("api down")}, newTestLogger())

	res, err := ins.Execute(context.Background(), json.RawMessage(`{"city":"Beijing"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result when fetch fails")
	}
	// Nothing should have been written.
	if _, err := store.GetByCity(context.Background(), "Beijing"); !errors.Is(err, weatherstore.ErrNotFound) {
		t.Errorf("GetByCity err = %v, want ErrNotFound", err)
	}
}

func TestQueryWeatherFromDB(t *testing.T) {
	store := newWeatherStore(t)
	ins := NewInsertWeatherTool(store, &fakeFetcher{obs: beijingObs()}, newTestLogger())
	qry := NewQueryWeatherTool(store, newTestLogger())

	if _, err := ins.Execute(context.Background(), json.RawMessage(`{"city":"Beijing"}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Chinese alias resolves to the stored English name.
	res, err := qry.Execute(context.Background(), json.RawMessage(`{"city":"北京"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, `"city_name": "Beijing"`) {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestQueryWeatherMissingRecord(t *testing.T) {
	store := newWeatherStore(t)
	qry := NewQueryWeatherTool(store, newTestLogger())

	res, err := qry.Execute(context.Background(), json.RawMessage(`{"city":"Shanghai"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result for missing record")
	}
	if !strings.Contains(res.Content, "no weather record found for Shanghai") {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestDeleteWeatherFromDB(t *testing.T) {
	store := newWeatherStore(t)
	ins := NewInsertWeatherTool(store, &fakeFetcher{obs: beijingObs()}, newTestLogger())
	del := NewDeleteWeatherTool(store, newTestLogger())

	if _, err := ins.Execute(context.Background(), json.RawMessage(`{"city":"Beijing"}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := del.Execute(context.Background(), json.RawMessage(`{"city":"Beijing"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "deleted weather record for Beijing" {
		t.Errorf("Content = %q", res.Content)
	}

	// Second delete finds nothing.
	res, err = del.Execute(context.Background(), json.RawMessage(`{"city":"Beijing"}`))
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result when record is already gone")
	}
}
