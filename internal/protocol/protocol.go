// Package protocol defines the MQTT topics and payload encoding exchanged
// between the pump controller and the broker.
package protocol

import "strconv"

// Default topic names.
const (
	DefaultCommandTopic      = "garden/water"
	DefaultTelemetryTopic    = "garden/moisture"
	DefaultAvailabilityTopic = "garden/pump/status"
)

// Availability payloads, published retained on the availability topic.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// Command is a pump instruction received from the broker.
type Command string

const (
	CommandOn  Command = "ON"
	CommandOff Command = "OFF"
)

// ParseCommand decodes a command payload. Only the exact bytes "ON" and
// "OFF" are recognised; anything else returns ok=false and must be ignored.
func ParseCommand(payload []byte) (cmd Command, ok bool) {
	switch string(payload) {
	case string(CommandOn):
		return CommandOn, true
	case string(CommandOff):
		return CommandOff, true
	}
	return "", false
}

// FormatTelemetry encodes a raw moisture reading as a bare decimal string.
func FormatTelemetry(moisture int) []byte {
	return []byte(strconv.Itoa(moisture))
}
