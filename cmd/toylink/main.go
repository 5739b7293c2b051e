package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quodana/toylink/internal/ble"
	"github.com/quodana/toylink/internal/cache"
	"github.com/quodana/toylink/internal/config"
	"github.com/quodana/toylink/internal/hub"
	"github.com/quodana/toylink/internal/identity"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/toylink/config.yaml)")
	writeConfig := flag.Bool("init", false, "write the default config file and exit")
	addr := flag.String("addr", "", "connect to this address instead of the first resolved device")
	model := flag.String("model", "", "model pick for a device with a shared identifier letter")
	demo := flag.Bool("demo", false, "run a short intensity ramp after connecting")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setLogLevel(cfg.LogLevel)

	printBanner(cfg)

	store := cache.New(cfg.CachePath)
	resolver := identity.NewResolver(identity.DefaultTable(), store)

	h, err := hub.New(ble.NewRadioAdapter(), resolver, hub.Options{
		ScanTimeout:         cfg.Scan.Timeout.Std(),
		ConnectTimeout:      cfg.Session.ConnectTimeout.Std(),
		ReconnectTimeout:    cfg.Session.ReconnectTimeout.Std(),
		MinCommandInterval:  cfg.Session.MinCommandInterval.Std(),
		ResponseTimeout:     cfg.Session.ResponseTimeout.Std(),
		BatteryPollInterval: cfg.Battery.PollInterval.Std(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize Bluetooth: %v", err)
	}
	defer h.Close()

	h.OnPowerOff(func(addr string) {
		log.Printf("Device %s was switched off", addr)
	})
	h.OnReconnect(func(addr string, err error) {
		if err != nil {
			log.Printf("Lost %s for good: %v", addr, err)
			return
		}
		log.Printf("Recovered link to %s", addr)
	})

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Scanning for devices (%s)...", cfg.Scan.Timeout.Std())
	ids, err := h.Discover(context.Background())
	if err != nil {
		log.Fatalf("Discovery failed: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("No devices found. Is the device switched on and in range?")
	}

	for _, id := range ids {
		if id.Resolved() {
			log.Printf("  %s  %s  -> %s", id.Address, id.RawName, id.Model)
		} else {
			log.Printf("  %s  %s  -> ambiguous: %s", id.Address, id.RawName, strings.Join(id.Candidates, ", "))
		}
	}

	target := pickTarget(ids, *addr)
	if target == nil {
		log.Fatalf("Address %s was not discovered", *addr)
	}
	if !target.Resolved() {
		if *model == "" {
			log.Fatalf("%s is ambiguous between %s; rerun with -model", target.RawName, strings.Join(target.Candidates, ", "))
		}
		if err := h.SetModel(target.Address, *model); err != nil {
			log.Fatalf("Model pick rejected: %v", err)
		}
	}

	log.Printf("Connecting to %s...", target.Address)
	ctrl, err := h.Connect(context.Background(), target.Address)
	if err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	log.Printf("Connected: %s", ctrl.Model().Name)

	if battery, err := ctrl.Battery(); err == nil {
		log.Printf("Battery: %d%%", battery)
	}
	if info, err := ctrl.Info(); err == nil {
		log.Printf("Device type %s, firmware %d", info.Type, info.Firmware)
	}

	if cfg.Battery.Monitor {
		h.StartBatteryMonitor(func(levels map[string]int) {
			for addr, level := range levels {
				log.Printf("Battery %s: %d%%", addr, level)
			}
		})
	}

	if *demo {
		runDemo(ctrl, cfg.Session.MinCommandInterval.Std())
	}

	log.Println("Ready. Ctrl+C to stop and disconnect.")
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)
	if err := ctrl.Stop(); err != nil {
		log.Printf("Stop failed: %v", err)
	}
	if err := h.Disconnect(target.Address); err != nil {
		log.Printf("Disconnect: %v", err)
	}
	log.Println("Goodbye!")
}

// pickTarget selects the device to connect: the -addr flag when given,
// otherwise the first discovered device.
func pickTarget(ids []identity.Identity, addr string) *identity.Identity {
	if addr == "" {
		return &ids[0]
	}
	for i := range ids {
		if strings.EqualFold(ids[i].Address, addr) {
			return &ids[i]
		}
	}
	return nil
}

// runDemo ramps the primary axis up and back down.
func runDemo(ctrl *hub.Controller, interval time.Duration) {
	log.Println("Running intensity ramp...")
	pause := interval * 3
	if pause < 300*time.Millisecond {
		pause = 300 * time.Millisecond
	}
	for _, level := range []int{5, 10, 15, 20, 10, 0} {
		if err := ctrl.SetVibration(level); err != nil {
			log.Printf("Level %d: %v", level, err)
		}
		time.Sleep(pause)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// setLogLevel applies the configured slog level.
func setLogLevel(level string) {
	switch level {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== toylink ===")
	fmt.Printf("  Cache:     %s\n", cfg.CachePath)
	fmt.Printf("  Scan:      %s\n", cfg.Scan.Timeout.Std())
	fmt.Printf("  Interval:  %s between commands\n", cfg.Session.MinCommandInterval.Std())
	fmt.Printf("  Battery:   monitor=%v every %s\n", cfg.Battery.Monitor, cfg.Battery.PollInterval.Std())
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
