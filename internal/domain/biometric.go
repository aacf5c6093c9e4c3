package domain

import (
	"strings"
	"time"
)

// BiometricSample is a behavioral-biometrics capture for one session.
// Every block is optional; an absent block leaves its model at the base score.
type BiometricSample struct {
	SessionID   string             `json:"sessionId"`
	UserID      string             `json:"userId,omitempty"`
	Keystroke   *KeystrokeDynamics `json:"keystroke,omitempty"`
	Mouse       *MouseDynamics     `json:"mouse,omitempty"`
	Device      *DeviceFingerprint `json:"device,omitempty"`
	Geolocation *Geolocation       `json:"geolocation,omitempty"`
}

// KeystrokeDynamics describes typing behavior.
type KeystrokeDynamics struct {
	TypingSpeed  float64   `json:"typingSpeed"`  // words per minute
	KeyIntervals []float64 `json:"keyIntervals"` // milliseconds between key presses
	// RhythmConsistency is a client-computed score in [0,1]; nil when not measured.
	RhythmConsistency *float64 `json:"rhythmConsistency,omitempty"`
}

// MouseDynamics describes pointer behavior.
type MouseDynamics struct {
	Velocities     []float64 `json:"velocities"`     // pixels per millisecond
	ClickIntervals []float64 `json:"clickIntervals"` // milliseconds between clicks
	Trajectory     []Point   `json:"trajectory"`
}

// Point is a pointer position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DeviceFingerprint describes the client device.
type DeviceFingerprint struct {
	ScreenResolution    string `json:"screenResolution"`
	Platform            string `json:"platform"`
	UserAgent           string `json:"userAgent"`
	HardwareConcurrency int    `json:"hardwareConcurrency"`
}

// GeoFix is a timestamped position.
type GeoFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Geolocation is the current fix plus an optional previous one.
// When Previous is nil the engine may supply the last known fix for the entity.
type Geolocation struct {
	GeoFix
	Accuracy float64 `json:"accuracy"` // meters
	Previous *GeoFix `json:"previous,omitempty"`
}

// EntityKey identifies who the sample belongs to.
func (b *BiometricSample) EntityKey() string {
	if b.UserID != "" {
		return b.UserID
	}
	return b.SessionID
}

// Validate checks the sample before any model runs.
func (b *BiometricSample) Validate() error {
	if strings.TrimSpace(b.SessionID) == "" {
		return &ValidationError{Field: "sessionId", Reason: "is required"}
	}
	if g := b.Geolocation; g != nil {
		if err := validateFix("geolocation", g.GeoFix); err != nil {
			return err
		}
		if g.Accuracy < 0 {
			return &ValidationError{Field: "geolocation.accuracy", Reason: "must not be negative"}
		}
		if g.Previous != nil {
			if err := validateFix("geolocation.previous", *g.Previous); err != nil {
				return err
			}
		}
	}
	if k := b.Keystroke; k != nil && k.RhythmConsistency != nil {
		if r := *k.RhythmConsistency; r < 0 || r > 1 {
			return &ValidationError{Field: "keystroke.rhythmConsistency", Reason: "must be within [0,1]"}
		}
	}
	return nil
}

func validateFix(field string, f GeoFix) error {
	if f.Latitude < -90 || f.Latitude > 90 {
		return &ValidationError{Field: field + ".latitude", Reason: "must be within [-90,90]"}
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return &ValidationError{Field: field + ".longitude", Reason: "must be within [-180,180]"}
	}
	return nil
}
