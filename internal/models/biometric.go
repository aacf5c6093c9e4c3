package models

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Risk tags raised by the biometric models.
const (
	TagUnusualTypingSpeed    = "unusual_typing_speed"
	TagInconsistentKeystroke = "inconsistent_keystroke_timing"
	TagRoboticTyping         = "robotic_typing_pattern"
	TagLowRhythm             = "low_rhythm_consistency"
	TagUnusualMouseVelocity  = "unusual_mouse_velocity"
	TagRoboticClicks         = "robotic_click_pattern"
	TagLinearTrajectory      = "linear_mouse_trajectory"
	TagSuspiciousUserAgent   = "suspicious_user_agent"
	TagPlatformMismatch      = "platform_mismatch"
	TagUnusualHardware       = "unusual_hardware_profile"
	TagInvalidScreen         = "invalid_screen_resolution"
	TagImpossibleTravel      = "impossible_travel_speed"
	TagLowLocationAccuracy   = "low_location_accuracy"
)

const (
	minRoboticIntervals = 5
	minRoboticClicks    = 3
	minTrajectoryPoints = 3
)

// Keystroke scores typing dynamics.
type Keystroke struct{ Limits domain.BiometricLimits }

func (m Keystroke) Name() string  { return domain.ModelKeystroke }
func (m Keystroke) Base() float64 { return Clamp(m.Limits.BaseScore) }

func (m Keystroke) Score(f *features.BiometricFeatures) Outcome {
	t := tally{score: m.Limits.BaseScore}
	if !f.HasKeystroke {
		return t.outcome()
	}
	if f.TypingSpeedOutOfRange {
		t.add(TagUnusualTypingSpeed, 0.3)
	}
	switch {
	case f.KeyIntervalCV > m.Limits.MaxKeyIntervalCV:
		t.add(TagInconsistentKeystroke, 0.25)
	case f.KeyIntervalCount >= minRoboticIntervals && f.KeyIntervalCV < m.Limits.RoboticIntervalCV:
		t.add(TagRoboticTyping, 0.4)
	}
	if f.HasRhythm && f.RhythmConsistency < m.Limits.MinRhythm {
		t.add(TagLowRhythm, 0.3)
	}
	return t.outcome()
}

// Mouse scores pointer dynamics.
type Mouse struct{ Limits domain.BiometricLimits }

func (m Mouse) Name() string  { return domain.ModelMouse }
func (m Mouse) Base() float64 { return Clamp(m.Limits.BaseScore) }

func (m Mouse) Score(f *features.BiometricFeatures) Outcome {
	t := tally{score: m.Limits.BaseScore}
	if !f.HasMouse {
		return t.outcome()
	}
	if f.MouseVelocityOutOfRange {
		t.add(TagUnusualMouseVelocity, 0.3)
	}
	if f.ClickIntervalCount >= minRoboticClicks && f.ClickIntervalCV < m.Limits.RoboticClickCV {
		t.add(TagRoboticClicks, 0.3)
	}
	if f.TrajectoryPoints >= minTrajectoryPoints && f.TrajectorySmoothness > m.Limits.LinearSmoothness {
		t.add(TagLinearTrajectory, 0.3)
	}
	return t.outcome()
}

// Device scores the device fingerprint.
type Device struct{ Limits domain.BiometricLimits }

func (m Device) Name() string  { return domain.ModelDevice }
func (m Device) Base() float64 { return Clamp(m.Limits.BaseScore) }

func (m Device) Score(f *features.BiometricFeatures) Outcome {
	t := tally{score: m.Limits.BaseScore}
	if !f.HasDevice {
		return t.outcome()
	}
	if f.SuspiciousUserAgent {
		t.add(TagSuspiciousUserAgent, 0.5)
	}
	if !f.PlatformConsistent {
		t.add(TagPlatformMismatch, 0.3)
	}
	if f.HardwareConcurrency <= 0 || f.HardwareConcurrency > m.Limits.MaxHardwareThreads {
		t.add(TagUnusualHardware, 0.2)
	}
	if !f.ScreenResolutionValid {
		t.add(TagInvalidScreen, 0.2)
	}
	return t.outcome()
}

// Geolocation scores location plausibility.
type Geolocation struct{ Limits domain.BiometricLimits }

func (m Geolocation) Name() string  { return domain.ModelGeolocation }
func (m Geolocation) Base() float64 { return Clamp(m.Limits.BaseScore) }

func (m Geolocation) Score(f *features.BiometricFeatures) Outcome {
	t := tally{score: m.Limits.BaseScore}
	if !f.HasGeolocation {
		return t.outcome()
	}
	if f.ImpossibleTravel {
		t.add(TagImpossibleTravel, 0.6)
	}
	if f.LocationAccuracy > m.Limits.MaxAccuracyMeters {
		t.add(TagLowLocationAccuracy, 0.15)
	}
	return t.outcome()
}
