// Nokiawifi tracks which devices are connected to a Nokia WiFi router
// and reports their presence to Home Assistant over MQTT discovery.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	nokiawifi serve              Poll the router and publish presence
//	nokiawifi devices            List the devices the router reports now
//	nokiawifi init [dir]         Write an example config into dir
//	nokiawifi version            Print version and build information
//	nokiawifi -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/nokiawifi/internal/buildinfo"
	"github.com/nugget/nokiawifi/internal/config"
	"github.com/nugget/nokiawifi/internal/devicetracker"
	"github.com/nugget/nokiawifi/internal/dispatch"
	"github.com/nugget/nokiawifi/internal/mqtt"
	"github.com/nugget/nokiawifi/internal/nokia"
	"github.com/nugget/nokiawifi/internal/registry"
	"github.com/nugget/nokiawifi/internal/router"
)

// main only builds the OS-level environment (context, stdio, argv) and
// hands off to [run], so the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; the
// caller prints the returned error to stderr. Arguments are parsed by
// hand because the flag package's globals get in the way of calling
// run concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "devices":
		return runDevices(ctx, stdout, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range buildinfo.Keys() {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "nokiawifi - Nokia WiFi router presence for Home Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: nokiawifi [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Poll the router and publish device presence")
	fmt.Fprintln(w, "  devices      List the devices the router reports right now")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runDevices logs in once, fetches the device list, and prints it.
// Nothing is tracked or published.
func runDevices(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(io.Discard, level, cfg.LogFormat)

	client := nokia.NewClient(cfg.Router.Host, cfg.Router.Password, logger)
	fetched, err := client.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices from %s: %w", cfg.Router.Host, err)
	}

	return printDevices(stdout, fetched, outputFmt)
}

type deviceRow struct {
	MAC         string `json:"mac"`
	IP          string `json:"ip"`
	Name        string `json:"name"`
	ConnectedTo string `json:"connected_to"`
}

func printDevices(w io.Writer, fetched map[string]nokia.Device, outputFmt string) error {
	rows := make([]deviceRow, 0, len(fetched))
	for mac, d := range fetched {
		rows = append(rows, deviceRow{
			MAC:         router.FormatMAC(mac),
			IP:          d.IP,
			Name:        d.Name,
			ConnectedTo: d.ConnectedTo,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].MAC < rows[j].MAC })

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MAC\tIP\tNAME\tCONNECTED TO")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.MAC, r.IP, r.Name, r.ConnectedTo)
	}
	return tw.Flush()
}

// runServe is the primary operating mode. It restores tracked devices
// from the registry, starts polling the router, mirrors devices into
// Home Assistant when MQTT is configured, and blocks until SIGINT or
// SIGTERM.
//
// Shutdown closes the tracker (stopping the poll loop), disconnects the
// entity platform, publishes "offline", and closes the registry.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting nokiawifi", buildinfo.LogAttrs()...)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"host", cfg.Router.Host,
		"scan_interval_sec", cfg.Router.ScanIntervalSec,
		"consider_home_sec", cfg.Router.ConsiderHomeSec,
		"mqtt", cfg.MQTT.Configured(),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entryID, err := registry.LoadOrCreateEntryID(cfg.DataDir)
	if err != nil {
		return err
	}

	store, err := registry.Open(filepath.Join(cfg.DataDir, "registry.db"))
	if err != nil {
		return fmt.Errorf("open entity registry: %w", err)
	}
	defer store.Close()

	bus := dispatch.New(logger)

	tracker := router.NewTracker(router.Config{
		Lister:        nokia.NewClient(cfg.Router.Host, cfg.Router.Password, logger.With("component", "nokia")),
		Registry:      store,
		Dispatcher:    bus,
		EntryID:       entryID,
		EntryUniqueID: cfg.Router.UniqueID,
		ScanInterval:  time.Duration(cfg.Router.ScanIntervalSec) * time.Second,
		ConsiderHome:  time.Duration(cfg.Router.ConsiderHomeSec) * time.Second,
		TrackUnknown:  cfg.Router.ShouldTrackUnknown(),
		Logger:        logger.With("component", "router"),
	})

	var publisher *mqtt.Publisher
	platformCfg := devicetracker.Config{
		Source:     tracker,
		Dispatcher: bus,
		Registry:   store,
		EntryID:    entryID,
		Logger:     logger.With("component", "devicetracker"),
	}
	if cfg.MQTT.Configured() {
		device := devicetracker.RouterDevice(tracker.RouterInfo(), buildinfo.Version)
		publisher = mqtt.New(cfg.MQTT, entryID, device, logger.With("component", "mqtt"))
		platformCfg.Publisher = publisher
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := tracker.Setup(gctx); err != nil {
		tracker.Close()
		return fmt.Errorf("set up router %s: %w", cfg.Router.Host, err)
	}
	defer tracker.Close()

	disconnect, err := devicetracker.New(platformCfg).Setup(gctx)
	if err != nil {
		return fmt.Errorf("set up device tracker entities: %w", err)
	}
	defer disconnect()

	if publisher != nil {
		g.Go(func() error {
			return publisher.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		tracker.Close()
		return nil
	})

	logger.Info("tracking devices", "host", tracker.Host(), "entry_id", entryID, "devices", len(tracker.Devices()))

	err = g.Wait()

	if publisher != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if stopErr := publisher.Stop(stopCtx); stopErr != nil {
			logger.Warn("mqtt disconnect failed", "error", stopErr)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("nokiawifi stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
