// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

const (
	HectoPascal = 100 * physic.Pascal

	dataSize = 8 // 0xF7 through 0xFE

	max20Bit = 1<<20 - 1
	max16Bit = 1<<16 - 1
)

var (
	// ErrSampleLength is returned when the measurement block is not 8 bytes.
	ErrSampleLength = errors.New("bme280: unexpected measurement block length")
	// ErrSampleRange is returned when a raw ADC value does not fit its width.
	ErrSampleRange = errors.New("bme280: raw sample out of range")
)

// RawSample is one uncompensated measurement.
type RawSample struct {
	Pressure    uint32 // 20 bits
	Temperature uint32 // 20 bits
	Humidity    uint32 // 16 bits
}

// Reading is a compensated measurement.
type Reading struct {
	Temperature float64 // °F
	Pressure    float64 // hPa
	Humidity    float64 // %RH, within [0, 100]
}

// Env converts r to periph units.
func (r Reading) Env() physic.Env {
	celsius := (r.Temperature - 32) * 5 / 9
	return physic.Env{
		Temperature: physic.Temperature(celsius*1000)*physic.MilliCelsius + physic.ZeroCelsius,
		Pressure:    physic.Pressure(r.Pressure * float64(HectoPascal)),
		Humidity:    physic.RelativeHumidity(r.Humidity * float64(physic.PercentRH)),
	}
}

// ParseSample splits the data registers into the three ADC values.
func ParseSample(b []byte) (RawSample, error) {
	if len(b) != dataSize {
		return RawSample{}, errors.Wrapf(ErrSampleLength, "got %d bytes, want %d", len(b), dataSize)
	}
	// These values are 20 bits as per doc.
	return RawSample{
		Pressure:    uint32(b[0])<<12 | uint32(b[1])<<4 | uint32(b[2])>>4,
		Temperature: uint32(b[3])<<12 | uint32(b[4])<<4 | uint32(b[5])>>4,
		Humidity:    uint32(b[6])<<8 | uint32(b[7]),
	}, nil
}

// Compensate turns a raw sample into °F, hPa and %RH using c.
func Compensate(c Calibration, s RawSample) (Reading, error) {
	if s.Pressure > max20Bit || s.Temperature > max20Bit || s.Humidity > max16Bit {
		return Reading{}, errors.Wrapf(ErrSampleRange, "pressure=%#x temperature=%#x humidity=%#x", s.Pressure, s.Temperature, s.Humidity)
	}

	centi, tFine := c.compensateTemp(int64(s.Temperature))
	return Reading{
		Temperature: float64(centi)/100.0*9/5 + 32,
		Pressure:    c.compensatePressure(float64(s.Pressure), tFine) / 100.0,
		Humidity:    c.compensateHumidity(float64(s.Humidity), tFine),
	}, nil
}

// compensateTemp returns temperature in °C, resolution is 0.01 °C.
// Output value of 5123 equals 51.23 C.
//
// All intermediates are int64; the squared term does not fit in 32 bits for
// every calibration. Right shifts on signed integers are arithmetic.
func (c *Calibration) compensateTemp(raw int64) (centi, tFine int64) {
	t1 := int64(c.T1)
	var1 := ((raw>>3 - t1<<1) * int64(c.T2)) >> 11
	d := raw>>4 - t1
	var2 := (((d * d) >> 12) * int64(c.T3)) >> 14
	tFine = var1 + var2
	centi = (tFine*5 + 128) >> 8
	return centi, tFine
}

// compensatePressure returns pressure in Pa.
//
// A zero denominator yields 0.
func (c *Calibration) compensatePressure(raw float64, tFine int64) float64 {
	var1 := float64(tFine)/2.0 - 64000.0
	var2 := var1 * var1 * float64(c.P6) / 32768.0
	var2 = var2 + var1*float64(c.P5)*2.0
	var2 = var2/4.0 + float64(c.P4)*65536.0
	var1 = (float64(c.P3)*var1*var1/524288.0 + float64(c.P2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(c.P1)
	if var1 == 0 {
		return 0
	}

	p := 1048576.0 - raw
	p = ((p - var2/4096.0) * 6250.0) / var1
	var1 = float64(c.P9) * p * p / 2147483648.0
	var2 = p * float64(c.P8) / 32768.0
	return p + (var1+var2+float64(c.P7))/16.0
}

// compensateHumidity returns humidity in %RH clamped to [0, 100].
func (c *Calibration) compensateHumidity(raw float64, tFine int64) float64 {
	h := float64(tFine) - 76800.0
	h = (raw - (float64(c.H4)*64.0 + float64(c.H5)/16384.0*h)) *
		(float64(c.H2) / 65536.0 * (1.0 + float64(c.H6)/67108864.0*h*(1.0+float64(c.H3)/67108864.0*h)))
	h = h * (1.0 - float64(c.H1)*h/524288.0)
	if h > 100 {
		return 100
	} else if h < 0 {
		return 0
	}
	return h
}
