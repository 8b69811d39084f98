package bme280

import (
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func init() {
	doSleep = func(time.Duration) {}
}

// openOps is the traffic of NewI2C at 0x77 with DefaultOpts.
func openOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x77, W: []byte{AddrChipID}, R: []byte{0x60}},
		{Addr: 0x77, W: []byte{AddrCalTP}, R: fixtureTP},
		{Addr: 0x77, W: []byte{AddrCalH1}, R: fixtureH1},
		{Addr: 0x77, W: []byte{AddrCalH}, R: fixtureH},
		{Addr: 0x77, W: []byte{AddrCtrlHum, 0x02, AddrCtrlMeas, 0x48}},
	}
}

func senseOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x77, W: []byte{AddrCtrlHum, 0x02, AddrCtrlMeas, 0x49}},
		{Addr: 0x77, W: []byte{AddrData}, R: fixtureData},
	}
}

func haltOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x77, W: []byte{AddrCtrlMeas, 0x48}},
	}
}

func checkFixtureReading(t *testing.T, r Reading) {
	if math.Abs(r.Temperature-77.32) > 0.01 || math.Abs(r.Pressure-1022.19) > 0.01 || math.Abs(r.Humidity-31.94) > 0.01 {
		t.Fatalf("unexpected reading %+v", r)
	}
}

func TestNewI2C_badAddress(t *testing.T) {
	bus := i2ctest.Playback{DontPanic: true}
	if _, err := NewI2C(&bus, 0x42, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewI2C_chipID(t *testing.T) {
	bus := i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x76, W: []byte{AddrChipID}, R: []byte{0x58}}},
		DontPanic: true,
	}
	if _, err := NewI2C(&bus, 0x76, nil); err == nil {
		t.Fatal("expected error on BMP280 chip id")
	}
}

func TestNewI2C_busError(t *testing.T) {
	bus := i2ctest.Playback{DontPanic: true}
	if _, err := NewI2C(&bus, 0x77, nil); err == nil {
		t.Fatal("expected error on empty bus")
	}
}

func TestSense(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, openOps()...)
	ops = append(ops, senseOps()...)
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c := dev.Calibration(); c.H4 != 397 || c.H5 != 50 {
		t.Fatalf("unexpected calibration %+v", c)
	}

	var r Reading
	if err := dev.Sense(&r); err != nil {
		t.Fatal(err)
	}
	checkFixtureReading(t, r)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSenseContinuous(t *testing.T) {
	var ops []i2ctest.IO
	ops = append(ops, openOps()...)
	ops = append(ops, senseOps()...)
	ops = append(ops, haltOps()...)
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := dev.SenseContinuous(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	checkFixtureReading(t, <-c)

	var r Reading
	if err := dev.Sense(&r); err == nil {
		t.Fatal("Sense() must fail while sensing continuously")
	}
	if err := dev.Halt(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-c; ok {
		t.Fatal("channel should be closed after Halt()")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSenseContinuous_readFailure(t *testing.T) {
	bus := i2ctest.Playback{Ops: openOps(), DontPanic: true}
	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := dev.SenseContinuous(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := <-c; ok {
		t.Fatal("channel should be closed after a failed read")
	}
}

func TestSenseContinuous_badInterval(t *testing.T) {
	bus := i2ctest.Playback{Ops: openOps(), DontPanic: true}
	dev, err := NewI2C(&bus, 0x77, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dev.SenseContinuous(0); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpts(t *testing.T) {
	o := DefaultOpts
	if v := o.ctrlMeas(forced); v != 0x49 {
		t.Errorf("ctrlMeas(forced) = %#x, want 0x49", v)
	}
	if v := o.ctrlMeas(sleep); v != 0x48 {
		t.Errorf("ctrlMeas(sleep) = %#x, want 0x48", v)
	}
	if d := o.settlingTime(); d < 16199*time.Microsecond || d > 16201*time.Microsecond {
		t.Errorf("settlingTime() = %s, want 16.2ms", d)
	}
	o.Humidity = Off
	if d := o.settlingTime(); d < 11024*time.Microsecond || d > 11026*time.Microsecond {
		t.Errorf("settlingTime() = %s, want 11.025ms", d)
	}
}

func TestOversampling_String(t *testing.T) {
	data := []struct {
		o    Oversampling
		want string
	}{
		{Off, "Off"},
		{O1x, "1x"},
		{O2x, "2x"},
		{O16x, "16x"},
		{Oversampling(6), "Oversampling(6)"},
	}
	for _, line := range data {
		if s := line.o.String(); s != line.want {
			t.Errorf("%d.String() = %q, want %q", line.o, s, line.want)
		}
	}
}
