// godaq-host captures the sample stream from a board over serial and
// writes it to CSV, optionally serving bench NTP so the board can sync
// wall-clock time with no route to a public server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"godaq/host/capture"
	"godaq/host/ntpserver"
	"godaq/host/serial"
)

// config is the YAML bench configuration.
type config struct {
	Device      string `yaml:"device"`
	Baud        int    `yaml:"baud"`
	Output      string `yaml:"output"`
	WallOffset  uint64 `yaml:"wall_offset_us"`
	NTPBind     string `yaml:"ntp_bind"`
	StatsPeriod string `yaml:"stats_period"`
}

func defaultConfig() config {
	return config{
		Device:      "/dev/ttyACM0",
		Baud:        115200,
		Output:      "capture.csv",
		StatsPeriod: "10s",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

var (
	configPath = flag.String("config", "", "YAML config file")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	output     = flag.String("output", "", "CSV output path (overrides config)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logCfg := zap.NewProductionConfig()
	if *verbose {
		logCfg = zap.NewDevelopmentConfig()
	}
	log, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *output != "" {
		cfg.Output = *output
	}
	statsPeriod, err := time.ParseDuration(cfg.StatsPeriod)
	if err != nil {
		log.Fatal("bad stats_period", zap.String("value", cfg.StatsPeriod), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.NTPBind != "" {
		srv := ntpserver.New(log.Named("ntp"))
		if err := srv.Listen(cfg.NTPBind); err != nil {
			log.Fatal("ntp listen", zap.Error(err))
		}
		go func() {
			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				log.Error("ntp server", zap.Error(err))
			}
		}()
	}

	serialCfg := serial.DefaultConfig(cfg.Device)
	if cfg.Baud != 0 {
		serialCfg.Baud = cfg.Baud
	}
	port, err := serial.Open(serialCfg)
	if err != nil {
		log.Fatal("open serial", zap.Error(err))
	}
	defer port.Close()

	out, err := os.Create(cfg.Output)
	if err != nil {
		log.Fatal("create output", zap.Error(err))
	}
	defer out.Close()

	log.Info("capturing",
		zap.String("device", cfg.Device),
		zap.String("output", cfg.Output),
	)

	cp := capture.New(log.Named("capture"), capture.Config{
		Out:              out,
		WallOffsetMicros: cfg.WallOffset,
		StatsInterval:    statsPeriod,
	})
	if err := cp.Run(ctx, port); err != nil {
		log.Fatal("capture", zap.Error(err))
	}
	log.Info("done",
		zap.Uint64("samples", cp.Samples()),
		zap.Uint64("seq_gaps", cp.SeqGaps()),
		zap.Uint64("crc_errors", cp.CRCErrors()),
	)
}
