// Package protocol defines the JSON messages exchanged over WebSocket with
// the local UI and the remote dashboard
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/location"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Device → client messages
	TypeHeading   MessageType = "heading"   // Smoothed heading
	TypeDirection MessageType = "direction" // Compass point changed
	TypeLocation  MessageType = "location"  // Position and address
	TypeStats     MessageType = "stats"     // Tracker statistics

	// Client → device messages
	TypeGetStats MessageType = "get_stats"

	// Bidirectional
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// HeadingData is one smoothed heading
type HeadingData struct {
	Degrees         float64  `json:"degrees"`
	DegreesRounded  int      `json:"degrees_rounded"`
	Direction       string   `json:"direction"`
	RawAzimuth      float64  `json:"raw_azimuth"`
	AnimationTarget float64  `json:"animation_target"`
	MagneticField   *float64 `json:"magnetic_field_ut,omitempty"`
}

// NewHeadingMessage creates a heading message
func NewHeadingMessage(h HeadingData) (*Message, error) {
	return NewMessage(TypeHeading, h)
}

// GetHeading extracts heading data from a message
func (m *Message) GetHeading() (*HeadingData, error) {
	var data HeadingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DirectionData announces a compass point change
type DirectionData struct {
	Direction string `json:"direction"`
	Previous  string `json:"previous,omitempty"`
	Degrees   int    `json:"degrees"`
}

// NewDirectionMessage creates a direction change message
func NewDirectionMessage(direction, previous string, degrees int) (*Message, error) {
	return NewMessage(TypeDirection, DirectionData{
		Direction: direction,
		Previous:  previous,
		Degrees:   degrees,
	})
}

// LocationData is the device position and resolved address
type LocationData struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ElevationFt float64 `json:"elevation_ft"`
	Address     string  `json:"address"`
}

// NewLocationMessage creates a location message
func NewLocationMessage(l LocationData) (*Message, error) {
	return NewMessage(TypeLocation, l)
}

// GetLocation extracts location data from a message
func (m *Message) GetLocation() (*LocationData, error) {
	var data LocationData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ErrorData reports a rejected client message
type ErrorData struct {
	Message string `json:"message"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(format string, args ...interface{}) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: fmt.Sprintf(format, args...)})
}

// HeadingFromResult converts a tracker result to its wire form
func HeadingFromResult(r compass.Result) HeadingData {
	return HeadingData{
		Degrees:         r.Degrees,
		DegreesRounded:  r.DegreesRounded,
		Direction:       string(r.Direction),
		RawAzimuth:      r.RawAzimuth,
		AnimationTarget: r.AnimationTarget,
		MagneticField:   r.MagneticField,
	}
}

// LocationFromData converts a location to its wire form
func LocationFromData(d location.Data) LocationData {
	return LocationData{
		Latitude:    d.Latitude,
		Longitude:   d.Longitude,
		ElevationFt: d.ElevationFt,
		Address:     d.Address,
	}
}
