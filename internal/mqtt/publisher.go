package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/nokiawifi/internal/config"
)

// connection is the part of [autopaho.ConnectionManager] the publisher
// uses after connecting.
type connection interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher manages the MQTT connection and mirrors tracked devices
// into Home Assistant. Announced entities and their last states are
// remembered so a reconnect restores everything retained on the broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	router     DeviceInfo
	logger     *slog.Logger

	mu        sync.Mutex
	conn      connection
	cm        *autopaho.ConnectionManager
	trackers  map[string]DeviceState // keyed by object id
	connected *int
}

// New creates a Publisher but does not connect. router is the device
// block of the router itself. Call [Publisher.Start] to connect.
func New(cfg config.MQTTConfig, instanceID string, router DeviceInfo, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		router:     router,
		logger:     logger,
		trackers:   make(map[string]DeviceState),
	}
}

// Start connects to the MQTT broker and blocks until ctx is cancelled.
// On every (re-)connect it republishes discovery payloads, the birth
// message, and the last known states.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.mu.Lock()
			p.conn = cm
			p.mu.Unlock()
			p.publishAll(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "nokiawifi-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil && ctx.Err() == nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop publishes "offline" to the availability topic and disconnects.
// ctx bounds both steps.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.conn = nil
	p.mu.Unlock()

	if cm == nil {
		return nil
	}
	p.publish(ctx, cm, p.availabilityTopic(), []byte("offline"), 1, true)
	return cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "nokiawifi/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(objectID string) string {
	return p.baseTopic() + "/" + objectID + "/state"
}

func (p *Publisher) attributesTopic(objectID string) string {
	return p.baseTopic() + "/" + objectID + "/attributes"
}

func (p *Publisher) discoveryTopic(component, objectID string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + objectID + "/config"
}

// --- Discovery payloads ---

const connectedDevicesID = "connected_devices"

func (p *Publisher) routerIdentifier() string {
	if len(p.router.Identifiers) > 0 {
		return p.router.Identifiers[0]
	}
	return p.instanceID
}

func (p *Publisher) sensorConfig() SensorConfig {
	return SensorConfig{
		Name:              "Connected devices",
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + connectedDevicesID,
		StateTopic:        p.stateTopic(connectedDevicesID),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.router,
		Icon:              "mdi:devices",
		StateClass:        "measurement",
		UnitOfMeasurement: "devices",
	}
}

func (p *Publisher) trackerConfig(s DeviceState) TrackerConfig {
	id := ObjectID(s.MAC)
	name := s.Name
	if name == "" {
		name = s.MAC
	}
	return TrackerConfig{
		Name:                name,
		UniqueID:            p.instanceID + "_" + id,
		StateTopic:          p.stateTopic(id),
		JsonAttributesTopic: p.attributesTopic(id),
		AvailabilityTopic:   p.availabilityTopic(),
		PayloadHome:         StateHome,
		PayloadNotHome:      StateNotHome,
		SourceType:          "router",
		Device: DeviceInfo{
			Connections: [][2]string{{"mac", s.MAC}},
			Name:        name,
			ViaDevice:   p.routerIdentifier(),
		},
		Icon: "mdi:lan-connect",
	}
}

// --- Entity operations ---

// AnnounceDevice publishes the discovery payload for a tracked device
// and remembers it for reconnects. Without a connection the device is
// only remembered.
func (p *Publisher) AnnounceDevice(ctx context.Context, s DeviceState) {
	p.mu.Lock()
	p.trackers[ObjectID(s.MAC)] = s
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}
	p.publishTrackerDiscovery(ctx, conn, s)
}

// PublishDevice publishes the state and attributes of an announced
// device. Devices never announced are ignored.
func (p *Publisher) PublishDevice(ctx context.Context, s DeviceState) {
	id := ObjectID(s.MAC)

	p.mu.Lock()
	if _, ok := p.trackers[id]; !ok {
		p.mu.Unlock()
		p.logger.Debug("mqtt state for unannounced device dropped", "mac", s.MAC)
		return
	}
	p.trackers[id] = s
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}
	p.publishTrackerState(ctx, conn, s)
}

// PublishConnectedDevices publishes the router's connected-devices
// count.
func (p *Publisher) PublishConnectedDevices(ctx context.Context, n int) {
	p.mu.Lock()
	p.connected = &n
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}
	p.publish(ctx, conn, p.stateTopic(connectedDevicesID), []byte(strconv.Itoa(n)), 0, true)
}

// Announced returns the MACs announced so far, sorted.
func (p *Publisher) Announced() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	macs := make([]string, 0, len(p.trackers))
	for _, s := range p.trackers {
		macs = append(macs, s.MAC)
	}
	sort.Strings(macs)
	return macs
}

// publishAll runs on every (re-)connect.
func (p *Publisher) publishAll(ctx context.Context) {
	p.mu.Lock()
	conn := p.conn
	states := make([]DeviceState, 0, len(p.trackers))
	for _, s := range p.trackers {
		states = append(states, s)
	}
	var connected *int
	if p.connected != nil {
		n := *p.connected
		connected = &n
	}
	p.mu.Unlock()

	if conn == nil {
		return
	}

	p.publishJSON(ctx, conn, p.discoveryTopic("sensor", connectedDevicesID), p.sensorConfig())
	for _, s := range states {
		p.publishTrackerDiscovery(ctx, conn, s)
	}

	p.publish(ctx, conn, p.availabilityTopic(), []byte("online"), 1, true)
	p.logger.Info("mqtt availability published", "status", "online", "trackers", len(states))

	for _, s := range states {
		p.publishTrackerState(ctx, conn, s)
	}
	if connected != nil {
		p.publish(ctx, conn, p.stateTopic(connectedDevicesID), []byte(strconv.Itoa(*connected)), 0, true)
	}
}

func (p *Publisher) publishTrackerDiscovery(ctx context.Context, conn connection, s DeviceState) {
	p.publishJSON(ctx, conn, p.discoveryTopic("device_tracker", ObjectID(s.MAC)), p.trackerConfig(s))
}

func (p *Publisher) publishTrackerState(ctx context.Context, conn connection, s DeviceState) {
	id := ObjectID(s.MAC)
	p.publish(ctx, conn, p.stateTopic(id), []byte(s.State()), 0, true)
	p.publishJSON(ctx, conn, p.attributesTopic(id), s.Attributes())
}

func (p *Publisher) publishJSON(ctx context.Context, conn connection, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("mqtt marshal payload", "topic", topic, "error", err)
		return
	}
	p.publish(ctx, conn, topic, payload, 1, true)
}

func (p *Publisher) publish(ctx context.Context, conn connection, topic string, payload []byte, qos byte, retain bool) {
	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Log(ctx, config.LevelTrace, "mqtt published", "topic", topic, "payload", string(payload))
}
