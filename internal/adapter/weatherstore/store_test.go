package weatherstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "weather.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() Record {
	return Record{
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

func TestUpsertInsertThenUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	updated, err := s.Upsert(ctx, sampleRecord())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if updated {
		t.Error("first Upsert reported update, want insert")
	}

	rec := sampleRecord()
	rec.Temperature = 30.0
	rec.MainWeather = "Clouds"
	updated, err = s.Upsert(ctx, rec)
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if !updated {
		t.Error("second Upsert reported insert, want update")
	}

	got, err := s.GetByCity(ctx, "Beijing")
	if err != nil {
		t.Fatalf("GetByCity: %v", err)
	}
	if got.Temperature != 30.0 || got.MainWeather != "Clouds" {
		t.Errorf("record not updated: %+v", got)
	}
}

func TestGetByCityRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	want := sampleRecord()
	if _, err := s.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.GetByCity(ctx, "Beijing")
	if err != nil {
		t.Fatalf("GetByCity: %v", err)
	}
	if *got != want {
		t.Errorf("GetByCity = %+v, want %+v", *got, want)
	}
}

func TestGetByCityNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetByCity(context.Background(), "Atlantis")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByCity err = %v, want ErrNotFound", err)
	}
}

func TestDeleteByCity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, sampleRecord()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	deleted, err := s.DeleteByCity(ctx, "Beijing")
	if err != nil {
		t.Fatalf("DeleteByCity: %v", err)
	}
	if !deleted {
		t.Error("DeleteByCity = false, want true")
	}

	if _, err := s.GetByCity(ctx, "Beijing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record still present after delete: %v", err)
	}

	deleted, err = s.DeleteByCity(ctx, "Beijing")
	if err != nil {
		t.Fatalf("second DeleteByCity: %v", err)
	}
	if deleted {
		t.Error("second DeleteByCity = true, want false")
	}
}
