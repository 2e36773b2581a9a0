// Command wifiprov provisions WiFi credentials onto nRF 700x-class
// devices over Bluetooth LE.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/tlangford/wifiprov/internal/ble"
	"github.com/tlangford/wifiprov/internal/config"
	"github.com/tlangford/wifiprov/internal/provision"
	"github.com/tlangford/wifiprov/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/wifiprov/config.yaml)")
	verbose := flag.Bool("v", false, "verbose (debug) logging")
	flag.Usage = usage
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setupLogging(cfg.LogLevel, *verbose)

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	mode, err := provision.ParseMode(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	command, rest := args[1], args[2:]

	ctx := context.Background()
	if err := run(ctx, cfg, mode, command, rest); err != nil {
		log.Fatalf("%s %s: %v", mode, command, err)
	}
}

func run(ctx context.Context, cfg *config.Config, mode provision.Mode, command string, args []string) error {
	switch command {
	case "discover":
		fs := flag.NewFlagSet("discover", flag.ExitOnError)
		showAll := fs.Bool("all", cfg.Scan.ShowAll, "list devices not advertising the provisioning service too")
		fs.Parse(args)
		prov, err := newProvisioner(cfg, mode, false, *showAll)
		if err != nil {
			return err
		}
		return cmdDiscover(ctx, prov)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		device := fs.String("device", "", "device address (required)")
		hybrid := fs.Bool("hybrid", cfg.Connect.Hybrid, "use bluetoothctl for pairing, the stack for GATT")
		fs.Parse(args)
		prov, err := newProvisioner(cfg, mode, *hybrid, false)
		if err != nil {
			return err
		}
		return cmdStatus(ctx, prov, requireDevice(*device))

	case "scan":
		fs := flag.NewFlagSet("scan", flag.ExitOnError)
		device := fs.String("device", "", "device address (required)")
		hybrid := fs.Bool("hybrid", cfg.Connect.Hybrid, "use bluetoothctl for pairing, the stack for GATT")
		fs.Parse(args)
		prov, err := newProvisioner(cfg, mode, *hybrid, false)
		if err != nil {
			return err
		}
		return cmdScan(ctx, prov, requireDevice(*device))

	case "configure":
		fs := flag.NewFlagSet("configure", flag.ExitOnError)
		device := fs.String("device", "", "device address (required)")
		ssid := fs.String("ssid", "", "WiFi SSID (required)")
		password := fs.String("password", "", "WiFi passphrase")
		authMode := fs.String("auth-mode", "WPA2_PSK", "one of OPEN, WEP, WPA_PSK, WPA2_PSK, WPA_WPA2_PSK, WPA2_ENTERPRISE")
		volatile := fs.Bool("volatile", false, "apply to the device's running state without persisting")
		hybrid := fs.Bool("hybrid", cfg.Connect.Hybrid, "use bluetoothctl for pairing, the stack for GATT")
		fs.Parse(args)
		if *ssid == "" {
			log.Fatal("configure: -ssid is required")
		}
		auth, err := wire.ParseAuthMode(*authMode)
		if err != nil {
			return err
		}
		prov, err := newProvisioner(cfg, mode, *hybrid, false)
		if err != nil {
			return err
		}
		return cmdConfigure(ctx, prov, requireDevice(*device), provision.Credentials{
			SSID:     *ssid,
			Password: *password,
			Auth:     auth,
			Volatile: *volatile,
		})

	case "forget":
		fs := flag.NewFlagSet("forget", flag.ExitOnError)
		device := fs.String("device", "", "device address (required)")
		hybrid := fs.Bool("hybrid", cfg.Connect.Hybrid, "use bluetoothctl for pairing, the stack for GATT")
		fs.Parse(args)
		prov, err := newProvisioner(cfg, mode, *hybrid, false)
		if err != nil {
			return err
		}
		return cmdForget(ctx, prov, requireDevice(*device))

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdDiscover(ctx context.Context, prov provision.Provisioner) error {
	devices, err := prov.Discover(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}
	fmt.Printf("Found %d device(s):\n", len(devices))
	for i, d := range devices {
		name := d.Name
		if name == "" {
			name = "Unknown"
		}
		marker := ""
		if d.Provisioning {
			marker = " [provisioning]"
		}
		fmt.Printf("%d. %s (%s) - RSSI: %d dBm%s\n", i+1, name, d.Address, d.RSSI, marker)
	}
	return nil
}

func cmdStatus(ctx context.Context, prov provision.Provisioner, device string) error {
	status, err := prov.Status(ctx, device)
	if err != nil {
		return err
	}
	fmt.Println("Device Status:")
	fmt.Printf("  State: %s\n", status.State)
	if status.SSID != "" {
		fmt.Printf("  SSID: %s\n", status.SSID)
	}
	if status.IPAddress != "" {
		fmt.Printf("  IP Address: %s\n", status.IPAddress)
	}
	if status.BSSID != "" {
		fmt.Printf("  BSSID: %s\n", status.BSSID)
	}
	if status.Channel != 0 {
		fmt.Printf("  Channel: %d\n", status.Channel)
	}
	if status.Version != 0 {
		fmt.Printf("  Protocol Version: %d\n", status.Version)
	}
	return nil
}

func cmdScan(ctx context.Context, prov provision.Provisioner, device string) error {
	outcome, err := prov.Scan(ctx, device)
	if err != nil {
		return err
	}
	if len(outcome.Networks) == 0 {
		fmt.Println("No networks found")
		return nil
	}
	fmt.Printf("Found %d network(s):\n", len(outcome.Networks))
	for i, n := range outcome.Networks {
		rssi := ""
		if n.RSSI != 0 {
			rssi = fmt.Sprintf(" (%d dBm)", n.RSSI)
		}
		fmt.Printf("%d. %s - %s - Channel %d%s\n", i+1, n.SSID, n.Auth, n.Channel, rssi)
	}
	if !outcome.Complete {
		fmt.Println("(scan window closed before the device finished; list may be incomplete)")
	}
	return nil
}

func cmdConfigure(ctx context.Context, prov provision.Provisioner, device string, creds provision.Credentials) error {
	if err := prov.Configure(ctx, device, creds); err != nil {
		return err
	}
	fmt.Printf("Successfully configured WiFi for SSID: %s\n", creds.SSID)
	return nil
}

func cmdForget(ctx context.Context, prov provision.Provisioner, device string) error {
	if err := prov.Forget(ctx, device); err != nil {
		return err
	}
	fmt.Println("Successfully forgot WiFi configuration")
	return nil
}

func newProvisioner(cfg *config.Config, mode provision.Mode, hybrid, showAll bool) (provision.Provisioner, error) {
	uuids := ble.ServiceUUIDs{
		Service:      config.Normalized(cfg.UUIDs.Service, ble.ServiceUUID),
		ControlPoint: config.Normalized(cfg.UUIDs.ControlPoint, ble.ControlPointUUID),
		DataOut:      config.Normalized(cfg.UUIDs.DataOut, ble.DataOutCharUUID),
		Info:         config.Normalized(cfg.UUIDs.Info, ble.InfoCharUUID),
	}
	bleProv := &provision.BLE{
		Adapter: ble.NewHostAdapter(),
		Session: ble.SessionOptions{
			UUIDs:           uuids,
			ConnectTimeout:  cfg.Connect.Timeout.Std(),
			Hybrid:          hybrid,
			Pairer:          &ble.BluetoothctlPairer{Path: cfg.Connect.BluetoothctlPath},
			SettleDelay:     cfg.Connect.SettleDelay.Std(),
			ExchangeTimeout: cfg.Protocol.ExchangeTimeout.Std(),
			FragmentWindow:  cfg.Protocol.FragmentWindow.Std(),
			Retries:         cfg.Protocol.Retries,
			WriteChunkSize:  cfg.Protocol.WriteChunkSize,
			InterChunkDelay: cfg.Protocol.InterChunkDelay.Std(),
		},
		Scan0: ble.ScanOptions{
			Window:      cfg.Scan.Window.Std(),
			ShowAll:     showAll,
			ServiceUUID: uuids.Service,
		},
		ScanWindow: cfg.Protocol.ScanWindow.Std(),
		LinkWait:   cfg.Protocol.LinkWait.Std(),
	}
	return provision.New(mode, bleProv)
}

func requireDevice(device string) string {
	if device == "" {
		log.Fatal("-device is required")
	}
	return device
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
		return cfg, nil
	}
	return config.Default(), nil
}

func setupLogging(level string, verbose bool) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func usage() {
	fmt.Fprintf(os.Stderr, `wifiprov - provision nRF 700x devices onto a WiFi network

Usage:
  wifiprov [-config path] [-v] <mode> <command> [flags]

Modes:
  ble       Bluetooth LE provisioning
  softap    SoftAP provisioning (not implemented)
  nfc       NFC provisioning (not implemented)

Commands:
  discover                                  list advertising devices
  status    -device ADDR [-hybrid]          show device WiFi state
  scan      -device ADDR [-hybrid]          list networks the device sees
  configure -device ADDR -ssid S [-password P] [-auth-mode M] [-volatile] [-hybrid]
  forget    -device ADDR [-hybrid]          clear stored configuration

Examples:
  wifiprov ble discover
  wifiprov ble status --device AA:BB:CC:DD:EE:FF
  wifiprov ble configure --device AA:BB:CC:DD:EE:FF --ssid "MyWiFi" --password "mypassword"
  wifiprov ble status --device AA:BB:CC:DD:EE:FF --hybrid
`)
}
