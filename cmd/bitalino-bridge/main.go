package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/biosignal/bitalino-bridge/pkg/bridge"
)

var (
	configPath = pflag.StringP("config", "c", "", "Path to a YAML bridge configuration file")
	device     = pflag.StringP("device", "d", "", "Device address: a Bluetooth MAC (AA:BB:CC:DD:EE:FF) or a serial path")
	rate       = pflag.IntP("rate", "r", 100, "Sampling rate in Hz (1, 10, 100, or 1000)")
	channels   = pflag.StringP("channels", "n", "1,2", "Comma-separated list of 1-indexed channels to acquire")
	port       = pflag.IntP("port", "p", 8080, "TCP port for the WebSocket endpoint")
	redisAddr  = pflag.String("redis-addr", "", "Optional Redis address for additional batch fan-out")
	redisPass  = pflag.String("redis-pass", "", "Redis password")
	redisDB    = pflag.Int("redis-db", 0, "Redis database number")
)

var defaultLabels = []string{"nSeq", "I1", "I2", "O1", "O2", "A1", "A2", "A3", "A4", "A5", "A6"}

func main() {
	pflag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting BITalino bridge")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	br, err := bridge.New(cfg)
	if err != nil {
		log.Fatalf("Invalid bridge configuration: %v", err)
	}
	if err := br.Start(); err != nil {
		log.Fatalf("Failed to start bridge: %v", err)
	}
	log.Printf("Connected to device %s, streaming on :%d", cfg.Device, cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down...", sig)
		br.Stop()
	case err := <-waitChan(br):
		if err != nil {
			log.Fatalf("Bridge exited: %v", err)
		}
	}
	log.Printf("Shutting down...")
}

func waitChan(br *bridge.Bridge) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- br.Wait() }()
	return ch
}

func loadConfig() (bridge.Config, error) {
	if *configPath != "" {
		return bridge.LoadConfig(*configPath)
	}
	chans, err := parseChannels(*channels)
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		Device:       *device,
		SamplingRate: *rate,
		Channels:     chans,
		Labels:       defaultLabels,
		Port:         *port,
		RedisAddr:    *redisAddr,
		RedisPass:    *redisPass,
		RedisDB:      *redisDB,
		RedisChannel: "bitalino:samples",
	}, nil
}

func parseChannels(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				return nil, fmt.Errorf("invalid channel list %q: %q is not a number", s, p)
			}
			n = n*10 + int(r-'0')
		}
		out = append(out, n)
	}
	return out, nil
}
