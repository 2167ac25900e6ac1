// Command canelink scans for, connects to and talks with a smart cane over
// Bluetooth Low Energy.
//
// Usage:
//
//	canelink [-config path] [-simulate] scan
//	canelink [-config path] [-simulate] watch [-device ADDR]
//	canelink [-config path] [-simulate] send [-device ADDR] CMD [key=value ...]
//	canelink init
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/canelink/internal/ble"
	"github.com/chaz8081/canelink/internal/ble/protocol"
	"github.com/chaz8081/canelink/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/canelink/config.yaml)")
	simulate := flag.Bool("simulate", false, "use an in-process simulated cane instead of the radio")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "init" {
		runInit()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	codec, err := protocol.NewCodec(cfg.BLE.WireEncoding, cfg.BLE.Framing, cfg.BLE.MaxFrameBytes)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	var sim *ble.SimulatedAdapter
	var adapter ble.Adapter
	if *simulate {
		sim = newSimulator(codec)
		adapter = sim
	} else {
		adapter = ble.NewTinyGoAdapter()
	}

	gate := ble.NewPermissionGate(
		ble.Platform(cfg.Permissions.Platform),
		cfg.Permissions.APILevel,
		ble.NewStaticRequester(cfg.Permissions.Granted),
	)
	link := ble.NewLink(adapter, gate, ble.ManagerOptions{
		ServiceUUID:       cfg.BLE.ServiceUUID,
		NotifyCharUUID:    cfg.BLE.NotifyCharUUID,
		WriteCharUUID:     cfg.BLE.WriteCharUUID,
		ConnectTimeout:    cfg.BLE.ConnectTimeout,
		WriteWithResponse: cfg.BLE.WriteWithResponse,
		Codec:             codec,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "scan":
		err = runScan(ctx, link, cfg)
	case "watch":
		err = runWatch(ctx, link, cfg, sim, args)
	case "send":
		err = runSend(ctx, link, cfg, args)
	default:
		usage()
		os.Exit(2)
	}

	if cerr := link.Close(); cerr != nil {
		slog.Warn("[BLE] close", "error", cerr)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults (run 'canelink init' to write one)")
	return config.Default(), nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: canelink [flags] <command> [args]

Commands:
  scan                          list nearby devices, strongest first
  watch [-device ADDR]          connect and print cane events as JSON lines
  send [-device ADDR] CMD [k=v] send one command to the cane
  init                          write the default config file

Flags:
`)
	flag.PrintDefaults()
}

func runInit() {
	path, err := config.WriteDefault()
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return
	}
	fmt.Printf("Wrote default config to %s\n", path)
}

func runScan(ctx context.Context, link *ble.Link, cfg *config.Config) error {
	records, err := link.Scan(ctx, cfg.BLE.ScanDuration)
	if err != nil {
		return err
	}
	printDevices(records)
	return nil
}

func runWatch(ctx context.Context, link *ble.Link, cfg *config.Config, sim *ble.SimulatedAdapter, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	device := fs.String("device", cfg.BLE.Device, "device address (default: strongest scan result)")
	_ = fs.Parse(args)

	lost := make(chan struct{}, 1)
	enc := json.NewEncoder(os.Stdout)
	link.Events.OnMessage(func(msg protocol.Message) {
		if err := enc.Encode(msg); err != nil {
			slog.Error("[BLE] print message", "error", err)
		}
	})
	link.Events.OnStatus(func(st ble.Status) {
		slog.Info("[BLE] status", "state", st.State, "device", st.DeviceName)
		if st.State == ble.StateIdle {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})

	if err := connect(ctx, link, cfg, *device); err != nil {
		return err
	}

	if sim != nil {
		go runDemo(ctx, sim)
	}

	select {
	case <-ctx.Done():
		slog.Info("[BLE] shutting down")
		return nil
	case <-lost:
		return ble.ErrNotConnected
	}
}

func runSend(ctx context.Context, link *ble.Link, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	device := fs.String("device", cfg.BLE.Device, "device address (default: strongest scan result)")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("missing command name")
	}

	cmd := protocol.Command{Name: fs.Arg(0), Args: parseArgs(fs.Args()[1:])}
	if err := connect(ctx, link, cfg, *device); err != nil {
		return err
	}
	if err := link.Manager.Send(cmd); err != nil {
		return err
	}
	fmt.Printf("Sent %q\n", cmd.Name)
	return nil
}

// connect connects to address, or to the strongest connectable device found
// by a scan when address is empty.
func connect(ctx context.Context, link *ble.Link, cfg *config.Config, address string) error {
	if address == "" {
		records, err := link.Scan(ctx, cfg.BLE.ScanDuration)
		if err != nil {
			return err
		}
		for _, r := range records {
			if r.Connectable {
				address = r.Address
				break
			}
		}
		if address == "" {
			return errors.New("no connectable device found")
		}
	}
	return link.Manager.Connect(ctx, address)
}

// parseArgs turns key=value pairs into command arguments. Values that parse
// as JSON (numbers, booleans, null, quoted strings) keep their type.
func parseArgs(pairs []string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			out[p] = true
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out
}

func newSimulator(codec protocol.Codec) *ble.SimulatedAdapter {
	return ble.NewSimulatedAdapter(codec, protocol.DefaultMTUPayload,
		ble.SimulatedPeripheral{Address: "SIM:CA:NE:00:00:01", Name: "SmartCane", RSSI: -48, Connectable: true},
		ble.SimulatedPeripheral{Address: "SIM:CA:NE:00:00:02", RSSI: -77, Connectable: true},
	)
}

// runDemo emits a rotating set of events until ctx ends or the link drops.
func runDemo(ctx context.Context, sim *ble.SimulatedAdapter) {
	events := []map[string]any{
		{"event": "obstacle", "front_cm": 85, "side_cm": 40},
		{"event": "step", "side_cm": 12},
		{"event": "fall", "impact_g": 3.4, "fall_recent": false},
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sim.EmitEvent(events[i%len(events)]); err != nil {
				return
			}
		}
	}
}

// printDevices displays scan results in a table.
func printDevices(records []ble.DeviceRecord) {
	if len(records) == 0 {
		fmt.Println("No devices found.")
		return
	}
	fmt.Printf("%-4s %-24s %-20s %6s  %s\n", "#", "ADDRESS", "NAME", "RSSI", "CONNECTABLE")
	for i, r := range records {
		fmt.Printf("%-4d %-24s %-20s %6d  %v\n", i+1, r.Address, r.Name, r.RSSI, r.Connectable)
	}
}
