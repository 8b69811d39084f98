package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// weatherMetrics exposes the latest reading to Prometheus.
type weatherMetrics struct {
	temperature prometheus.Gauge
	pressure    prometheus.Gauge
	humidity    prometheus.Gauge
	co2         prometheus.Gauge
	lastUpdated prometheus.Gauge
	readings    prometheus.Counter
	co2Errors   prometheus.Counter
}

func newWeatherMetrics(reg prometheus.Registerer) *weatherMetrics {
	m := &weatherMetrics{
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_temperature_fahrenheit",
			Help: "Air temperature (units: degrees Fahrenheit)",
		}),
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_pressure_hpa",
			Help: "Atmospheric pressure (units: hPa)",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_humidity_percent",
			Help: "Relative humidity (units: %)",
		}),
		co2: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_co2_ppm",
			Help: "CO2 concentration from the optional SCD4x (units: ppm)",
		}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_last_update_timestamp_seconds",
			Help: "Last reading timestamp (epoch seconds)",
		}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_readings_total",
			Help: "Number of compensated BME280 readings",
		}),
		co2Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_co2_read_errors_total",
			Help: "Number of failed SCD4x reads",
		}),
	}
	reg.MustRegister(m.temperature, m.pressure, m.humidity, m.co2, m.lastUpdated, m.readings, m.co2Errors)
	return m
}

func (m *weatherMetrics) observe(r SensorReading) {
	m.temperature.Set(r.Temperature)
	m.pressure.Set(r.Pressure)
	m.humidity.Set(r.Humidity)
	if r.CO2 != 0 {
		m.co2.Set(float64(r.CO2))
	}
	m.lastUpdated.Set(float64(r.Updated.Unix()))
	m.readings.Inc()
}
