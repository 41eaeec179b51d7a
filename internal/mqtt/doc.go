// Package mqtt announces tracked devices to Home Assistant through MQTT
// discovery. Each client device becomes a device_tracker entity and the
// router gets a connected-devices sensor.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery payloads for every
// announced entity, a birth message ("online") to the availability
// topic, and the last known state of every entity. A will message
// moves the availability topic to "offline" on unexpected disconnects.
package mqtt
