package main

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peterzalewski/weather-station/bme280"
)

type SensorReading struct {
	Temperature float64   `json:"temperature"` // °F
	Pressure    float64   `json:"pressure"`    // hPa
	Humidity    float64   `json:"humidity"`    // %RH
	CO2         uint16    `json:"co2,omitempty"`
	Updated     time.Time `json:"-"`
	UpdatedStr  string    `json:"updated"`
}

func NewSensorReading(date time.Time, r bme280.Reading) SensorReading {
	return SensorReading{
		Temperature: r.Temperature,
		Pressure:    r.Pressure,
		Humidity:    r.Humidity,
		Updated:     date,
		UpdatedStr:  date.Format("2006-01-02 15:04:05"), // ISO 8601 without timezone
	}
}

// CSV formats the reading as "temperature,pressure,humidity", two decimals at most.
func (r SensorReading) CSV() string {
	fields := []float64{r.Temperature, r.Pressure, r.Humidity}
	s := make([]string, len(fields))
	for i, f := range fields {
		s[i] = strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
	}
	return strings.Join(s, ",")
}

// readingStore holds the latest reading for the HTTP handlers.
type readingStore struct {
	mu      sync.RWMutex
	reading SensorReading
	ok      bool
}

func (s *readingStore) Set(r SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = r
	s.ok = true
}

func (s *readingStore) Get() (SensorReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading, s.ok
}
