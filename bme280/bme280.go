package bme280

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

const (
	AddrChipID byte = 0xD0 // read-only, should contain 0x60

	// calibration ranges

	AddrCalTP byte = 0x88
	AddrCalH1 byte = 0xA1
	AddrCalH  byte = 0xE1

	// control registers from this point on

	AddrCtrlHum  byte = 0xF2
	AddrCtrlMeas byte = 0xF4
	AddrConfig   byte = 0xF5

	// data registers, pressure MSB through humidity LSB

	AddrData byte = 0xF7

	chipID byte = 0x60
)

// Oversampling affects how much time is taken to measure each of temperature,
// pressure and humidity.
type Oversampling uint8

// Possible oversampling values.
const (
	Off  Oversampling = 0
	O1x  Oversampling = 1
	O2x  Oversampling = 2
	O4x  Oversampling = 3
	O8x  Oversampling = 4
	O16x Oversampling = 5
)

const oversamplingName = "Off1x2x4x8x16x"

var oversamplingIndex = [...]uint8{0, 3, 5, 7, 9, 11, 14}

func (o Oversampling) String() string {
	if o >= Oversampling(len(oversamplingIndex)-1) {
		return fmt.Sprintf("Oversampling(%d)", o)
	}
	return oversamplingName[oversamplingIndex[o]:oversamplingIndex[o+1]]
}

func (o Oversampling) asValue() int {
	switch o {
	case O1x:
		return 1
	case O2x:
		return 2
	case O4x:
		return 4
	case O8x:
		return 8
	case O16x:
		return 16
	default:
		return 0
	}
}

// mode is the operating mode.
type mode byte

const (
	sleep  mode = 0 // no operation, all registers accessible, lowest power, selected after startup
	forced mode = 1 // perform one measurement, store results and return to sleep mode
)

// DefaultOpts samples every channel twice per forced measurement.
var DefaultOpts = Opts{
	Temperature: O2x,
	Pressure:    O2x,
	Humidity:    O2x,
}

// Opts defines the options for the device.
type Opts struct {
	// Temperature must be measured for pressure and humidity to be compensated.
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
}

// ctrlMeas returns the ctrl_meas register value for m.
func (o *Opts) ctrlMeas(m mode) byte {
	return byte(o.Temperature)<<5 | byte(o.Pressure)<<2 | byte(m)
}

// settlingTime is the maximum measurement time, datasheet appendix B.
func (o *Opts) settlingTime() time.Duration {
	ms := 1.25
	if o.Temperature != Off {
		ms += 2.3 * float64(o.Temperature.asValue())
	}
	if o.Pressure != Off {
		ms += 2.3*float64(o.Pressure.asValue()) + 0.575
	}
	if o.Humidity != Off {
		ms += 2.3*float64(o.Humidity.asValue()) + 0.575
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// NewI2C returns an object that communicates over I²C to a BME280
// environmental sensor.
//
// The address must be 0x76 or 0x77, depending on the SDO pin. opts may be nil,
// in which case DefaultOpts is used.
//
// It is recommended to call Halt() when done with the device so it stops
// sampling.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	switch addr {
	case 0x76, 0x77:
	default:
		return nil, errors.Errorf("bme280: given address %#x not supported by device", addr)
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{d: &i2c.Dev{Bus: b, Addr: addr}, opts: *opts}
	if err := d.makeDev(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to an initialized BME280 device.
//
// The write, settle and read sequence of one measurement is serialized by mu;
// the device has a single register set.
type Dev struct {
	d           conn.Conn
	opts        Opts
	calibration Calibration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *Dev) String() string {
	return fmt.Sprintf("BME280{%s}", d.d)
}

// Calibration returns the coefficients read when the device was opened.
func (d *Dev) Calibration() Calibration {
	return d.calibration
}

// Sense requests a one time measurement as °F, hPa and % of relative humidity.
func (d *Dev) Sense(r *Reading) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}
	return d.sense(r)
}

// SenseContinuous returns measurements on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel. The channel is also closed after a failed
// read.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan Reading, error) {
	if interval <= 0 {
		return nil, d.wrap(errors.Errorf("invalid interval %s", interval))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
		d.wg.Wait()
	}

	sensing := make(chan Reading)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}(d.stop)
	return sensing, nil
}

// Halt stops the BME280 from acquiring measurements as initiated by
// SenseContinuous() and puts it to sleep.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		d.wg.Wait()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCommands([]byte{
		AddrCtrlMeas, d.opts.ctrlMeas(sleep),
	})
}

//

func (d *Dev) makeDev() error {
	var id [1]byte
	if err := d.readReg(AddrChipID, id[:]); err != nil {
		return err
	}
	if id[0] != chipID {
		return errors.Errorf("bme280: unexpected chip id %#x", id[0])
	}

	var tp [calTPSize]byte
	if err := d.readReg(AddrCalTP, tp[:]); err != nil {
		return err
	}
	var h1 [calH1Size]byte
	if err := d.readReg(AddrCalH1, h1[:]); err != nil {
		return err
	}
	var h [calHSize]byte
	if err := d.readReg(AddrCalH, h[:]); err != nil {
		return err
	}
	log.Debugf("bme280: temperature/pressure calibration data: %v", tp)
	log.Debugf("bme280: humidity calibration data: %v %v", h1, h)

	c, err := DecodeCalibration(tp[:], h1[:], h[:])
	if err != nil {
		return err
	}
	d.calibration = c

	return d.writeCommands([]byte{
		// ctrl_hum only takes effect after ctrl_meas is written.
		AddrCtrlHum, byte(d.opts.Humidity),
		AddrCtrlMeas, d.opts.ctrlMeas(sleep),
	})
}

// sense triggers a forced measurement and reads it back.
//
// It must be called with d.mu lock held.
func (d *Dev) sense(r *Reading) error {
	err := d.writeCommands([]byte{
		AddrCtrlHum, byte(d.opts.Humidity),
		AddrCtrlMeas, d.opts.ctrlMeas(forced),
	})
	if err != nil {
		return err
	}
	doSleep(d.opts.settlingTime())

	var buf [dataSize]byte
	if err := d.readReg(AddrData, buf[:]); err != nil {
		return err
	}
	s, err := ParseSample(buf[:])
	if err != nil {
		return d.wrap(err)
	}
	reading, err := Compensate(d.calibration, s)
	if err != nil {
		return d.wrap(err)
	}
	*r = reading
	return nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- Reading, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		// Do one initial sensing right away.
		var r Reading
		d.mu.Lock()
		err := d.sense(&r)
		d.mu.Unlock()
		if err != nil {
			log.Errorf("%s: failed to sense: %v", d, err)
			return
		}
		select {
		case sensing <- r:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (d *Dev) readReg(reg uint8, b []byte) error {
	if err := d.d.Tx([]byte{reg}, b); err != nil {
		return d.wrap(err)
	}
	return nil
}

// writeCommands writes register/value pairs to the device.
func (d *Dev) writeCommands(b []byte) error {
	if err := d.d.Tx(b, nil); err != nil {
		return d.wrap(err)
	}
	return nil
}

func (d *Dev) wrap(err error) error {
	return errors.Wrap(err, "bme280")
}

var doSleep = time.Sleep

var _ conn.Resource = &Dev{}
