package mqtt

import (
	"strings"
	"time"
)

// DeviceInfo holds the Home Assistant device registry fields shared
// by discovery payloads. The router's block carries identifiers; a
// client device's block carries its MAC as a connection and points at
// the router through ViaDevice.
type DeviceInfo struct {
	Identifiers      []string    `json:"identifiers,omitempty"`
	Connections      [][2]string `json:"connections,omitempty"`
	Name             string      `json:"name"`
	Manufacturer     string      `json:"manufacturer,omitempty"`
	Model            string      `json:"model,omitempty"`
	SWVersion        string      `json:"sw_version,omitempty"`
	ConfigurationURL string      `json:"configuration_url,omitempty"`
	ViaDevice        string      `json:"via_device,omitempty"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message. It is published (retained) to the discovery topic on every
// broker (re-)connect.
type SensorConfig struct {
	Name              string     `json:"name"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
}

// TrackerConfig is the JSON payload for an HA MQTT device_tracker
// discovery message.
type TrackerConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	JsonAttributesTopic string     `json:"json_attributes_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadHome         string     `json:"payload_home"`
	PayloadNotHome      string     `json:"payload_not_home"`
	SourceType          string     `json:"source_type"`
	Device              DeviceInfo `json:"device"`
	Icon                string     `json:"icon,omitempty"`
}

// Tracker states published to the state topic.
const (
	StateHome    = "home"
	StateNotHome = "not_home"
)

// DeviceState is the publishable state of one tracked device.
type DeviceState struct {
	MAC          string
	Name         string
	IP           string
	Connected    bool
	LastActivity time.Time
}

// State is the device_tracker state payload.
func (s DeviceState) State() string {
	if s.Connected {
		return StateHome
	}
	return StateNotHome
}

// Attributes is the JSON attributes payload. Unknown values are null.
func (s DeviceState) Attributes() map[string]any {
	attrs := map[string]any{
		"mac":           s.MAC,
		"host_name":     nullable(s.Name),
		"ip":            nullable(s.IP),
		"last_activity": nil,
	}
	if !s.LastActivity.IsZero() {
		attrs["last_activity"] = s.LastActivity.UTC().Format(time.RFC3339)
	}
	return attrs
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ObjectID turns a MAC into the topic-safe id used in entity topics.
func ObjectID(mac string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
}
