package features

import (
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BiometricFeatures are the normalized inputs of the biometric models.
// Each Has* flag records whether the corresponding block was present.
type BiometricFeatures struct {
	HasKeystroke          bool
	TypingSpeed           float64
	TypingSpeedOutOfRange bool
	KeyIntervalCount      int
	KeyIntervalMean       float64
	KeyIntervalVariance   float64
	KeyIntervalCV         float64
	HasRhythm             bool
	RhythmConsistency     float64

	HasMouse                bool
	MouseVelocityMean       float64
	MouseVelocityOutOfRange bool
	ClickIntervalCount      int
	ClickIntervalVariance   float64
	ClickIntervalCV         float64
	TrajectoryPoints        int
	TrajectorySmoothness    float64

	HasDevice             bool
	UserAgent             string
	Platform              string
	SuspiciousUserAgent   bool
	UserAgentMarker       string
	PlatformConsistent    bool
	HardwareConcurrency   int
	ScreenResolutionValid bool

	HasGeolocation      bool
	HasPreviousLocation bool
	LocationAccuracy    float64
	TravelDistanceKm    float64
	TravelSpeedKmh      float64
	ImpossibleTravel    bool
}

// Biometric normalizes a validated biometric sample. prev is the last known fix
// for the entity and is only used when the sample carries no previous fix itself.
func (n *Normalizer) Biometric(s *domain.BiometricSample, prev *domain.GeoFix) BiometricFeatures {
	var f BiometricFeatures

	if k := s.Keystroke; k != nil {
		f.HasKeystroke = true
		f.TypingSpeed = k.TypingSpeed
		f.TypingSpeedOutOfRange = k.TypingSpeed > 0 &&
			(k.TypingSpeed < n.bio.MinTypingSpeed || k.TypingSpeed > n.bio.MaxTypingSpeed)
		f.KeyIntervalCount = len(k.KeyIntervals)
		f.KeyIntervalMean = mean(k.KeyIntervals)
		f.KeyIntervalVariance = variance(k.KeyIntervals)
		f.KeyIntervalCV = coefficientOfVariation(k.KeyIntervals)
		if k.RhythmConsistency != nil {
			f.HasRhythm = true
			f.RhythmConsistency = *k.RhythmConsistency
		}
	}

	if m := s.Mouse; m != nil {
		f.HasMouse = true
		if len(m.Velocities) > 0 {
			f.MouseVelocityMean = mean(m.Velocities)
			f.MouseVelocityOutOfRange = f.MouseVelocityMean < n.bio.MinMouseVelocity ||
				f.MouseVelocityMean > n.bio.MaxMouseVelocity
		}
		f.ClickIntervalCount = len(m.ClickIntervals)
		f.ClickIntervalVariance = variance(m.ClickIntervals)
		f.ClickIntervalCV = coefficientOfVariation(m.ClickIntervals)
		f.TrajectoryPoints = len(m.Trajectory)
		f.TrajectorySmoothness = smoothness(m.Trajectory)
	}

	if d := s.Device; d != nil {
		f.HasDevice = true
		f.UserAgent = d.UserAgent
		f.Platform = d.Platform
		f.UserAgentMarker = n.userAgentMarker(d.UserAgent)
		f.SuspiciousUserAgent = f.UserAgentMarker != ""
		f.PlatformConsistent = platformConsistent(d.Platform, d.UserAgent)
		f.HardwareConcurrency = d.HardwareConcurrency
		f.ScreenResolutionValid = validResolution(d.ScreenResolution)
	}

	if g := s.Geolocation; g != nil {
		f.HasGeolocation = true
		f.LocationAccuracy = g.Accuracy
		from := g.Previous
		if from == nil {
			from = prev
		}
		if from != nil {
			f.HasPreviousLocation = true
			f.TravelDistanceKm, f.TravelSpeedKmh = travel(
				from.Latitude, from.Longitude, from.Timestamp,
				g.Latitude, g.Longitude, g.Timestamp,
			)
			f.ImpossibleTravel = f.TravelDistanceKm >= n.bio.MinTravelDistanceKm &&
				f.TravelSpeedKmh > n.bio.MaxTravelSpeedKmh
		}
	}

	return f
}

func (n *Normalizer) userAgentMarker(ua string) string {
	ua = strings.ToLower(ua)
	if ua == "" {
		return ""
	}
	for _, marker := range n.bio.SuspiciousUserAgents {
		if marker != "" && strings.Contains(ua, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}

// platformTokens maps a navigator.platform prefix to the user-agent tokens
// that are consistent with it.
var platformTokens = []struct {
	prefix string
	tokens []string
}{
	{"win", []string{"windows"}},
	{"mac", []string{"macintosh", "mac os"}},
	{"iphone", []string{"iphone"}},
	{"ipad", []string{"ipad", "macintosh"}},
	{"linux", []string{"linux", "android", "x11"}},
	{"android", []string{"android"}},
}

// platformConsistent reports whether the platform and user agent agree.
// Unknown or missing values are treated as consistent.
func platformConsistent(platform, ua string) bool {
	p := strings.ToLower(strings.TrimSpace(platform))
	u := strings.ToLower(ua)
	if p == "" || u == "" {
		return true
	}
	for _, pt := range platformTokens {
		if !strings.HasPrefix(p, pt.prefix) {
			continue
		}
		for _, tok := range pt.tokens {
			if strings.Contains(u, tok) {
				return true
			}
		}
		return false
	}
	return true
}

// validResolution accepts "WIDTHxHEIGHT" with positive dimensions.
func validResolution(res string) bool {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(res)), "x")
	if !ok {
		return false
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return false
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return false
	}
	return true
}

// smoothness is 1 - mean(|turn angle|)/pi over consecutive point triples.
// A straight line scores 1, a path that keeps reversing scores 0.
// Fewer than three usable points yields 0.
func smoothness(path []domain.Point) float64 {
	if len(path) < 3 {
		return 0
	}
	var total float64
	var turns int
	for i := 1; i < len(path)-1; i++ {
		ax, ay := path[i].X-path[i-1].X, path[i].Y-path[i-1].Y
		bx, by := path[i+1].X-path[i].X, path[i+1].Y-path[i].Y
		if (ax == 0 && ay == 0) || (bx == 0 && by == 0) {
			continue
		}
		angle := math.Atan2(ax*by-ay*bx, ax*bx+ay*by)
		total += math.Abs(angle)
		turns++
	}
	if turns == 0 {
		return 0
	}
	return 1 - (total/float64(turns))/math.Pi
}
