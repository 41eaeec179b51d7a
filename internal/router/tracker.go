// Package router tracks device presence for one Nokia WiFi router. A
// [Tracker] polls the router's device list on a fixed interval,
// reconciles it against the devices seen so far, and sends two signals:
// one after every successful poll and one when a new device appears.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/nokiawifi/internal/nokia"
	"github.com/nugget/nokiawifi/internal/registry"
)

// Domain prefixes signal names and registry platform names.
const Domain = "nokia_wifi"

const (
	// DefaultScanInterval is the fixed polling period.
	DefaultScanInterval = 60 * time.Second

	// DefaultConsiderHome is how long a device that vanished from the
	// router's list still counts as connected.
	DefaultConsiderHome = 180 * time.Second
)

// DeviceLister fetches the router's current device list keyed by MAC.
// [*nokia.Client] implements it.
type DeviceLister interface {
	ListDevices(ctx context.Context) (map[string]nokia.Device, error)
	Host() string
}

// EntityRegistry returns the entities previously created for a config
// entry. [*registry.Store] implements it.
type EntityRegistry interface {
	EntriesForConfigEntry(configEntryID string) ([]registry.Entry, error)
}

// Sender delivers named signals. [*dispatch.Dispatcher] implements it.
type Sender interface {
	Send(signal string)
}

type discard struct{}

func (discard) Send(string) {}

// Config configures a Tracker.
type Config struct {
	// Lister talks to the router.
	Lister DeviceLister

	// Registry restores previously tracked devices on Setup. Optional.
	Registry EntityRegistry

	// Dispatcher receives the device-new and device-update signals.
	Dispatcher Sender

	// EntryID identifies the configuration this tracker belongs to.
	EntryID string

	// EntryUniqueID is the stable id of the router, if known.
	EntryUniqueID string

	// ScanInterval defaults to DefaultScanInterval.
	ScanInterval time.Duration

	// ConsiderHome defaults to DefaultConsiderHome.
	ConsiderHome time.Duration

	// TrackUnknown adds devices the router reports without a host
	// name. Callers that want the default should set it to true.
	TrackUnknown bool

	// Now is the clock; tests replace it.
	Now func() time.Time

	Logger *slog.Logger
}

// RouterInfo describes the router itself for the device registry.
type RouterInfo struct {
	Identifier       string `json:"identifier"`
	Name             string `json:"name"`
	Model            string `json:"model"`
	Manufacturer     string `json:"manufacturer"`
	ConfigurationURL string `json:"configuration_url"`
}

// Tracker owns the tracked devices of one router. Polls are never run
// concurrently: Setup runs the first one and the interval loop runs the
// rest one at a time. The mutex only makes Devices safe to call from
// other goroutines.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	mu               sync.RWMutex
	devices          map[string]*DeviceInfo
	connectedDevices int
	connectError     bool

	closeMu sync.Mutex
	onClose []func()
}

// NewTracker creates a tracker with no devices. Call Setup to restore
// devices from the registry and start polling.
func NewTracker(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ConsiderHome <= 0 {
		cfg.ConsiderHome = DefaultConsiderHome
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = discard{}
	}
	return &Tracker{
		cfg:     cfg,
		logger:  cfg.Logger,
		devices: make(map[string]*DeviceInfo),
	}
}

// Setup restores the devices registered for this config entry, runs
// the first poll, and schedules the recurring poll. The schedule is
// cancelled by Close. An error from the first poll aborts setup.
func (t *Tracker) Setup(ctx context.Context) error {
	if err := t.restore(); err != nil {
		return err
	}

	if err := t.UpdateDevices(ctx); err != nil {
		return err
	}

	t.OnClose(TrackTimeInterval(ctx, t.UpdateDevices, t.cfg.ScanInterval, t.logger))
	return nil
}

func (t *Tracker) restore() error {
	if t.cfg.Registry == nil {
		return nil
	}

	entries, err := t.cfg.Registry.EntriesForConfigEntry(t.cfg.EntryID)
	if err != nil {
		return fmt.Errorf("load tracked entities: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		if e.Domain != registry.DomainDeviceTracker {
			continue
		}
		mac := FormatMAC(e.UniqueID)
		t.devices[mac] = &DeviceInfo{MAC: mac, Name: e.OriginalName}
	}
	t.logger.Debug("restored tracked devices",
		"host", t.Host(),
		"devices", len(t.devices),
	)
	return nil
}

// UpdateDevices runs one poll. A router that cannot be reached leaves
// every tracked device untouched; the failure is logged once and the
// recovery is logged once. Any other error is returned unchanged.
func (t *Tracker) UpdateDevices(ctx context.Context) error {
	t.logger.Debug("checking devices for Nokia WiFi router", "host", t.Host())

	fetched, err := t.cfg.Lister.ListDevices(ctx)
	if err != nil {
		if errors.Is(err, nokia.ErrUnreachable) {
			t.markUnreachable(err)
			return nil
		}
		return fmt.Errorf("update devices from %s: %w", t.Host(), err)
	}
	t.markReachable()

	fresh := make(map[string]nokia.Device, len(fetched))
	for mac, dev := range fetched {
		fresh[FormatMAC(mac)] = dev
	}

	now := t.cfg.Now()
	newDevice := false

	t.mu.Lock()
	t.connectedDevices = len(fresh)
	for mac, d := range t.devices {
		if dev, ok := fresh[mac]; ok {
			delete(fresh, mac)
			d.Update(&dev, t.cfg.ConsiderHome, now)
			continue
		}
		d.Update(nil, t.cfg.ConsiderHome, now)
	}

	for mac, dev := range fresh {
		if !t.cfg.TrackUnknown && dev.Name == "" {
			continue
		}
		d := &DeviceInfo{MAC: mac}
		d.Update(&dev, t.cfg.ConsiderHome, now)
		t.devices[mac] = d
		newDevice = true

		t.logger.Info("new device on router",
			"host", t.Host(),
			"mac", mac,
			"name", d.Name,
			"ip", d.IPAddress,
		)
	}
	t.mu.Unlock()

	t.cfg.Dispatcher.Send(t.SignalDeviceUpdate())
	if newDevice {
		t.cfg.Dispatcher.Send(t.SignalDeviceNew())
	}
	return nil
}

func (t *Tracker) markUnreachable(err error) {
	t.mu.Lock()
	first := !t.connectError
	t.connectError = true
	t.mu.Unlock()

	if first {
		t.logger.Error("error connecting to Nokia WiFi router for device update",
			"host", t.Host(),
			"error", err,
		)
	}
}

func (t *Tracker) markReachable() {
	t.mu.Lock()
	recovered := t.connectError
	t.connectError = false
	t.mu.Unlock()

	if recovered {
		t.logger.Info("reconnected to Nokia WiFi router", "host", t.Host())
	}
}

// OnClose registers fn to run when the tracker is closed.
func (t *Tracker) OnClose(fn func()) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	t.onClose = append(t.onClose, fn)
}

// Close runs and forgets every registered close callback. Calling it
// again does nothing.
func (t *Tracker) Close() {
	t.closeMu.Lock()
	fns := t.onClose
	t.onClose = nil
	t.closeMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Devices returns a snapshot of every tracked device keyed by MAC.
func (t *Tracker) Devices() map[string]DeviceInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]DeviceInfo, len(t.devices))
	for mac, d := range t.devices {
		out[mac] = *d
	}
	return out
}

// ConnectedDevices is the size of the router's list at the last
// successful poll.
func (t *Tracker) ConnectedDevices() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connectedDevices
}

// ConnectError reports whether the last poll could not reach the router.
func (t *Tracker) ConnectError() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connectError
}

// Host returns the router host.
func (t *Tracker) Host() string {
	return t.cfg.Lister.Host()
}

// UniqueID is the entry's unique id, falling back to the entry id.
func (t *Tracker) UniqueID() string {
	if t.cfg.EntryUniqueID != "" {
		return t.cfg.EntryUniqueID
	}
	return t.cfg.EntryID
}

// RouterInfo describes the router for device registries.
func (t *Tracker) RouterInfo() RouterInfo {
	id := t.cfg.EntryUniqueID
	if id == "" {
		id = "NokiaWifi"
	}
	return RouterInfo{
		Identifier:       id,
		Name:             t.Host(),
		Model:            "Nokia WiFi",
		Manufacturer:     "Nokia",
		ConfigurationURL: "https://" + t.Host(),
	}
}

// SignalDeviceNew is sent when a poll added at least one device.
func (t *Tracker) SignalDeviceNew() string {
	return Domain + "-device-new"
}

// SignalDeviceUpdate is sent after every successful poll.
func (t *Tracker) SignalDeviceUpdate() string {
	return Domain + "-device-update"
}
