package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aldernero/scd4x"
	"github.com/gorilla/mux"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/peterzalewski/weather-station/bme280"
)

type ProgramArgs struct {
	// Sensor Options
	DeviceAddress uint16 `short:"d" long:"device-address" default:"0x77" base:"0" description:"I2C address of the BME280 sensor to poll"`
	Interval      uint16 `short:"i" long:"interval" default:"5" description:"Seconds to wait between polls"`
	I2CDevice     string `short:"b" long:"i2cdev" description:"The used I2C bus (default: auto)"`
	CO2           bool   `long:"co2" description:"Also read CO2 from an SCD4x on the same bus"`
	Verbose       bool   `short:"v" long:"verbose" description:"Log calibration data and every reading"`

	// Server Options
	Host string `short:"H" long:"host" default:"127.0.0.1" description:"IP to listen on"`
	Port uint16 `short:"P" long:"port" default:"27315" description:"Port to listen on"`

	// MQTT Options
	MQTTBroker   string `long:"mqtt-broker" description:"Publish readings to this broker, e.g. tcp://localhost:1883"`
	MQTTTopic    string `long:"mqtt-topic" default:"weather/bme280" description:"Topic to publish readings to"`
	MQTTClientID string `long:"mqtt-client-id" default:"weather-station" description:"MQTT client ID"`
}

const (
	MIN_TIMEOUT_SECONDS = 2

	// EREMOTEIO, what the kernel reports when nothing ACKs the address.
	errnoRemoteIO = syscall.Errno(121)
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// busHint explains the usual cause of an I2C failure.
func busHint(err error) string {
	is := func(errno syscall.Errno) bool {
		return errors.Is(err, errno) || strings.Contains(err.Error(), errno.Error())
	}
	switch {
	case is(syscall.ENOENT):
		return "most likely bus does not exist"
	case is(syscall.EACCES):
		return "most likely insufficient permission to access I2C bus"
	case is(errnoRemoteIO):
		return "most likely wrong device address for BME280 sensor"
	default:
		return ""
	}
}

func fatalBus(msg string, err error) {
	if hint := busHint(err); hint != "" {
		log.Fatalf("%s: %v (%s)", msg, err, hint)
	}
	log.Fatalf("%s: %v", msg, err)
}

// updateReading consumes readings until ch is closed.
func updateReading(ch <-chan bme280.Reading, store *readingStore, metrics *weatherMetrics, pub publisher, readCO2 func() (uint16, error)) {
	for r := range ch {
		reading := NewSensorReading(time.Now(), r)
		if readCO2 != nil {
			co2, err := readCO2()
			if err != nil {
				log.Errorf("error while reading SCD4x data: %v", err)
				metrics.co2Errors.Inc()
			} else {
				reading.CO2 = co2
			}
		}
		log.Debugf("New reading: %+v", r.Env())

		fmt.Println(reading.CSV())
		store.Set(reading)
		metrics.observe(reading)

		if pub != nil {
			if err := pub.publish(reading); err != nil {
				log.Errorf("failed to publish reading: %v", err)
			}
		}
	}
}

func newRouter(store *readingStore, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		reading, ok := store.Get()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		jsonStr, err := json.Marshal(reading)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(jsonStr); err != nil {
			log.Errorf("Couldn't send response: %v", err)
		}
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})).Methods(http.MethodGet)
	return r
}

func getOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}

func setupI2CBus(i2cdev string) i2c.BusCloser {
	if _, err := host.Init(); err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}

	bus, err := i2creg.Open(i2cdev)
	if err != nil {
		fatalBus("Couldn't open I2C device", err)
	}

	return bus
}

func setupBMESensor(i2cBus i2c.Bus, addr uint16) *bme280.Dev {
	dev, err := bme280.NewI2C(i2cBus, addr, &bme280.DefaultOpts)
	if err != nil {
		fatalBus("Couldn't initialize sensor", err)
	}
	log.Debugf("%s calibration: %+v", dev, dev.Calibration())

	return dev
}

func setupSCDSensor(i2cBus i2c.BusCloser) *scd4x.SCD4x {
	sensor, err := scd4x.SensorInit(i2cBus, false)
	if err != nil {
		log.Fatalln(err.Error())
	}

	log.Info("Initializing SCD4x…")
	if err := sensor.StopMeasurements(); err != nil {
		log.Fatalf("Error while trying to stop periodic measurements: %v", err)
	}
	if err := sensor.StartMeasurements(); err != nil {
		log.Fatalf("Error while trying to start periodic measurements: %v", err)
	}
	log.Info("Done")

	return sensor
}

func main() {
	args := ProgramArgs{}
	argParser := flags.NewParser(&args, flags.Default)

	if _, err := argParser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if args.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if args.Interval == 0 {
		log.Fatal("interval must be at least one second")
	}

	// Boring i2c setup (error handling happens in these functions)
	bus := setupI2CBus(args.I2CDevice)
	defer bus.Close()

	bmeDev := setupBMESensor(bus, args.DeviceAddress)

	var readCO2 func() (uint16, error)
	if args.CO2 {
		scdDev := setupSCDSensor(bus)
		defer scdDev.StopMeasurements()
		readCO2 = func() (uint16, error) {
			data, err := scdDev.ReadMeasurement()
			if err != nil {
				return 0, err
			}
			return data.CO2, nil
		}
	}

	var pub publisher
	if args.MQTTBroker != "" {
		p, err := newMQTTPublisher(args.MQTTBroker, args.MQTTClientID, args.MQTTTopic)
		if err != nil {
			log.Fatalf("Couldn't set up MQTT: %v", err)
		}
		defer p.close()
		pub = p
	}

	registry := prometheus.NewRegistry()
	metrics := newWeatherMetrics(registry)
	store := &readingStore{}

	// SenseContinuous will take one reading immediately before looping
	intervalDuration := time.Duration(args.Interval)
	readingChannel, err := bmeDev.SenseContinuous(intervalDuration * time.Second)
	if err != nil {
		log.Fatalf("Couldn't start taking readings: %v", err)
	}
	defer bmeDev.Halt()

	done := make(chan struct{})
	go func() {
		defer close(done)
		updateReading(readingChannel, store, metrics, pub, readCO2)
	}()

	timeoutLen := max(MIN_TIMEOUT_SECONDS, int(args.Interval))

	addr := fmt.Sprintf("%s:%d", args.Host, args.Port)
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  time.Duration(timeoutLen) * time.Second,
		WriteTimeout: time.Duration(timeoutLen) * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      newRouter(store, registry),
	}

	go func() {
		if args.Host == "0.0.0.0" {
			localIP := getOutboundIP() // resolve local IP for easier debugging
			log.Infof("Listening on %s:%d…", localIP.String(), args.Port)
		} else {
			log.Infof("Listening on %s…", addr)
		}

		err := srv.ListenAndServe()
		log.Infof("Shutdown (%v)", err)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	exitCode := 0
	select {
	case <-sigChan:
		log.Info("Interrupted - Stopped logging")
	case <-done:
		log.Error("Sensor stopped delivering readings")
		exitCode = 1
	}

	// Give the server a timeout period of 4 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait until the timeout deadline.
	_ = srv.Shutdown(ctx)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
