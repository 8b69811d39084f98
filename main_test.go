package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/peterzalewski/weather-station/bme280"
)

type recordingPublisher struct {
	readings []SensorReading
	err      error
}

func (p *recordingPublisher) publish(r SensorReading) error {
	p.readings = append(p.readings, r)
	return p.err
}

func TestBusHint(t *testing.T) {
	data := []struct {
		err  error
		want string
	}{
		{errors.Wrap(syscall.ENOENT, "i2creg"), "most likely bus does not exist"},
		{fmt.Errorf("sysfs-i2c: %v", syscall.EACCES), "most likely insufficient permission to access I2C bus"},
		{errors.Wrap(errnoRemoteIO, "bme280"), "most likely wrong device address for BME280 sensor"},
		{errors.New("bme280: unexpected chip id 0x58"), ""},
	}
	for _, line := range data {
		if got := busHint(line.err); got != line.want {
			t.Errorf("busHint(%v) = %q, want %q", line.err, got, line.want)
		}
	}
}

func TestUpdateReading(t *testing.T) {
	ch := make(chan bme280.Reading, 2)
	ch <- bme280.Reading{Temperature: 77.324, Pressure: 1022.188, Humidity: 31.939}
	ch <- bme280.Reading{Temperature: 70, Pressure: 1000, Humidity: 40}
	close(ch)

	store := &readingStore{}
	metrics := newWeatherMetrics(prometheus.NewRegistry())
	pub := &recordingPublisher{err: errors.New("broker down")}
	calls := 0
	readCO2 := func() (uint16, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("not ready")
		}
		return 612, nil
	}

	updateReading(ch, store, metrics, pub, readCO2)

	if len(pub.readings) != 2 {
		t.Fatalf("published %d readings, want 2", len(pub.readings))
	}
	if pub.readings[0].CO2 != 0 {
		t.Errorf("CO2 = %d after failed read, want 0", pub.readings[0].CO2)
	}
	got, ok := store.Get()
	if !ok {
		t.Fatal("store is empty")
	}
	if got.Temperature != 70 || got.CO2 != 612 {
		t.Errorf("latest reading = %+v", got)
	}
	if v := testutil.ToFloat64(metrics.readings); v != 2 {
		t.Errorf("readings = %v, want 2", v)
	}
	if v := testutil.ToFloat64(metrics.co2Errors); v != 1 {
		t.Errorf("co2Errors = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.co2); v != 612 {
		t.Errorf("co2 = %v, want 612", v)
	}
}

func TestRouter(t *testing.T) {
	store := &readingStore{}
	registry := prometheus.NewRegistry()
	metrics := newWeatherMetrics(registry)
	r := newRouter(store, registry)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before first reading = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	reading := SensorReading{Temperature: 77.32, Pressure: 1022.19, Humidity: 31.94, UpdatedStr: "2019-03-28 12:00:00"}
	store.Set(reading)
	metrics.observe(reading)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got SensorReading
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Temperature != 77.32 || got.Pressure != 1022.19 || got.Humidity != 31.94 || got.UpdatedStr != reading.UpdatedStr {
		t.Fatalf("got %+v, want %+v", got, reading)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "weather_pressure_hpa 1022.19") {
		t.Errorf("/metrics is missing pressure:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
