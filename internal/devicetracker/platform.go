// Package devicetracker turns a router tracker's signals into entities.
// Each tracked MAC is registered once in the entity registry and
// announced to Home Assistant; every update signal then republishes the
// state of every announced entity and the router's device count.
package devicetracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nugget/nokiawifi/internal/dispatch"
	"github.com/nugget/nokiawifi/internal/mqtt"
	"github.com/nugget/nokiawifi/internal/registry"
	"github.com/nugget/nokiawifi/internal/router"
)

// Source is the tracker the platform mirrors. [*router.Tracker]
// implements it.
type Source interface {
	Devices() map[string]router.DeviceInfo
	ConnectedDevices() int
	SignalDeviceNew() string
	SignalDeviceUpdate() string
}

// Registry records created entities. [*registry.Store] implements it.
type Registry interface {
	Register(e registry.Entry) error
}

// Publisher receives entity announcements and states. [*mqtt.Publisher]
// implements it.
type Publisher interface {
	AnnounceDevice(ctx context.Context, s mqtt.DeviceState)
	PublishDevice(ctx context.Context, s mqtt.DeviceState)
	PublishConnectedDevices(ctx context.Context, n int)
}

// Connector subscribes to signals. [*dispatch.Dispatcher] implements it.
type Connector interface {
	Connect(signal string, fn dispatch.Handler) (disconnect func())
}

// Config configures a Platform. Registry and Publisher are optional.
type Config struct {
	Source     Source
	Dispatcher Connector
	Registry   Registry
	Publisher  Publisher
	EntryID    string
	Logger     *slog.Logger
}

// Platform owns the set of entities created for one tracker.
type Platform struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	tracked map[string]bool
}

// New creates a platform. Call Setup to connect it.
func New(cfg Config) *Platform {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Platform{
		cfg:     cfg,
		logger:  cfg.Logger,
		tracked: make(map[string]bool),
	}
}

// Setup adds entities for the devices the tracker already knows and
// connects to its signals. ctx is used for every later publish. The
// returned function disconnects both handlers.
func (p *Platform) Setup(ctx context.Context) (disconnect func(), err error) {
	if err := p.addNew(ctx); err != nil {
		return nil, err
	}
	p.publishStates(ctx)

	offNew := p.cfg.Dispatcher.Connect(p.cfg.Source.SignalDeviceNew(), func() {
		if err := p.addNew(ctx); err != nil {
			p.logger.Error("adding new device entities failed", "error", err)
		}
	})
	offUpdate := p.cfg.Dispatcher.Connect(p.cfg.Source.SignalDeviceUpdate(), func() {
		p.publishStates(ctx)
	})

	return func() {
		offNew()
		offUpdate()
	}, nil
}

// Tracked returns the MACs that have an entity, sorted.
func (p *Platform) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	macs := make([]string, 0, len(p.tracked))
	for mac := range p.tracked {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

// addNew creates an entity for every tracked MAC that has none yet.
// A registry failure stops at that device; it is retried on the next
// device-new signal.
func (p *Platform) addNew(ctx context.Context) error {
	devices := p.cfg.Source.Devices()

	macs := make([]string, 0, len(devices))
	for mac := range devices {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, mac := range macs {
		if p.tracked[mac] {
			continue
		}
		d := devices[mac]

		if p.cfg.Registry != nil {
			err := p.cfg.Registry.Register(registry.Entry{
				Domain:        registry.DomainDeviceTracker,
				UniqueID:      mac,
				Platform:      router.Domain,
				ConfigEntryID: p.cfg.EntryID,
				OriginalName:  d.Name,
			})
			if err != nil {
				return fmt.Errorf("register %s: %w", mac, err)
			}
		}
		if p.cfg.Publisher != nil {
			p.cfg.Publisher.AnnounceDevice(ctx, stateOf(d))
		}
		p.tracked[mac] = true

		p.logger.Debug("device entity added", "mac", mac, "name", d.Name)
	}
	return nil
}

func (p *Platform) publishStates(ctx context.Context) {
	if p.cfg.Publisher == nil {
		return
	}

	devices := p.cfg.Source.Devices()

	p.mu.Lock()
	var states []mqtt.DeviceState
	for mac := range p.tracked {
		if d, ok := devices[mac]; ok {
			states = append(states, stateOf(d))
		}
	}
	p.mu.Unlock()

	for _, s := range states {
		p.cfg.Publisher.PublishDevice(ctx, s)
	}
	p.cfg.Publisher.PublishConnectedDevices(ctx, p.cfg.Source.ConnectedDevices())
}

func stateOf(d router.DeviceInfo) mqtt.DeviceState {
	return mqtt.DeviceState{
		MAC:          d.MAC,
		Name:         d.Name,
		IP:           d.IPAddress,
		Connected:    d.Connected,
		LastActivity: d.LastActivity,
	}
}

// RouterDevice builds the MQTT device block for the router itself.
func RouterDevice(info router.RouterInfo, swVersion string) mqtt.DeviceInfo {
	return mqtt.DeviceInfo{
		Identifiers:      []string{info.Identifier},
		Name:             info.Name,
		Manufacturer:     info.Manufacturer,
		Model:            info.Model,
		SWVersion:        swVersion,
		ConfigurationURL: info.ConfigurationURL,
	}
}
