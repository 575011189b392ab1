// Copyright 2025 by the ttrack authors, see LICENSE file

// s2lp-test exercises an S2LP hooked up to a Linux SBC: it can put an
// unmodulated carrier on the air for certification runs, sweep the RSSI for a
// site survey, and fire test frames. RSSI samples can be published to an MQTT
// broker so a survey can be watched remotely.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gopkg.in/yaml.v3"
	"periph.io/x/host/v3"

	"github.com/ttrack/radio"
	"github.com/ttrack/radio/rfctl"
	"github.com/ttrack/radio/s2lp"
	"github.com/ttrack/radio/thread"
)

// Config is the optional yaml config file; flags override it.
type Config struct {
	SPI  string `yaml:"spi"`  // SPI port name, empty for the first one
	CS   string `yaml:"cs"`   // chip select pin name
	SDN  string `yaml:"sdn"`  // shutdown pin name
	Mqtt struct {
		Host  string `yaml:"host"` // host:port, empty disables publishing
		User  string `yaml:"user"`
		Pass  string `yaml:"pass"`
		Topic string `yaml:"topic"`
	} `yaml:"mqtt"`
}

func loadConfig(path string) (Config, error) {
	c := Config{CS: "GPIO8", SDN: "GPIO25"}
	c.Mqtt.Topic = "ttrack/rssi"
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %v", path, err)
	}
	return c, nil
}

func main() {
	configPath := flag.String("config", "", "yaml config file")
	mode := flag.String("mode", "cw", "operation: cw, rssi or tx")
	freq := flag.Uint("freq", 868130000, "carrier frequency in Hz")
	power := flag.Int("power", 14, "output power in dBm")
	duration := flag.Duration("duration", 10*time.Second, "carrier / sweep duration")
	payload := flag.String("payload", "hello", "payload for -mode tx")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Parse()

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	if _, err = host.Init(); err != nil {
		log.Fatalf("cannot init host: %v", err)
	}
	spiDev, err := radio.NewSPI(config.SPI)
	if err != nil {
		log.Fatal(err)
	}
	defer spiDev.Close()
	cs, err := radio.NewPin(config.CS)
	if err != nil {
		log.Fatal(err)
	}
	sdn, err := radio.NewPin(config.SDN)
	if err != nil {
		log.Fatal(err)
	}

	var logger rfctl.LogPrintf
	if *debug {
		logger = log.Printf
	}
	r, err := s2lp.New(spiDev, cs, sdn, s2lp.Opts{Logger: s2lp.LogPrintf(logger)})
	if err != nil {
		log.Fatal(err)
	}

	params := rfctl.DefaultParams()
	params.Frequency = uint32(*freq)
	params.PowerDbm = *power

	opts := rfctl.Opts{Logger: logger}
	var publish func(string)
	if config.Mqtt.Host != "" {
		publish, err = mqttPublisher(config)
		if err != nil {
			log.Fatalf("cannot connect to MQTT broker: %v", err)
		}
	}
	opts.Emit = func(line string) {
		log.Print(line)
		if publish != nil {
			publish(line)
		}
	}
	ctl := rfctl.New(r, opts)

	// Sweep and TX timing matter more than fairness to other processes.
	if err := thread.Realtime(); err != nil {
		log.Printf("cannot set realtime priority: %v", err)
	}

	switch *mode {
	case "cw":
		log.Printf("carrier at %dHz, %ddBm for %v", params.Frequency, params.PowerDbm, *duration)
		if err := ctl.StartContinuousWave(params); err != nil {
			log.Fatal(err)
		}
		time.Sleep(*duration)
		ctl.StopContinuousWave()
	case "rssi":
		log.Printf("RSSI sweep at %dHz for %v", params.Frequency, *duration)
		samples, err := ctl.RSSISweep(params, *duration)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("%d samples", len(samples))
	case "tx":
		log.Printf("sending %d-byte frame at %dHz", len(*payload), params.Frequency)
		if err := ctl.SendFrame(params, []byte(*payload)); err != nil {
			log.Fatal(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("done")
}

// mqttPublisher connects to the broker and returns a publish function for
// sweep samples.
func mqttPublisher(config Config) (func(string), error) {
	hostname, _ := os.Hostname()
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + config.Mqtt.Host)
	opts.ClientID = "s2lp-test-" + hostname
	opts.Username = config.Mqtt.User
	opts.Password = config.Mqtt.Pass

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timeout connecting to %s", config.Mqtt.Host)
	} else if token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("MQTT connected to %s", config.Mqtt.Host)
	return func(line string) {
		conn.Publish(config.Mqtt.Topic, 1, false, line)
	}, nil
}
