package saturation

import (
	"fmt"
	"math"
	"time"
)

// Level is the ordinal saturation category, least to most saturated.
type Level string

const (
	LevelFirstMover Level = "first_mover"
	LevelEarly      Level = "early"
	LevelMainstream Level = "mainstream"
	LevelLate       Level = "late"
	LevelRehash     Level = "rehash"

	// LevelUnknown marks measurements that could not be completed.
	LevelUnknown Level = "unknown"
)

// Threshold maps a score upper bound to a level: the first threshold the
// score is strictly below wins, so a score exactly at a boundary lands on
// the more saturated side.
type Threshold struct {
	Below float64
	Level Level
}

// ScoringConfig holds the tunables of the three-signal model. It replaces
// module-level constants with an explicit value handed to the calculator.
type ScoringConfig struct {
	CountWeight     float64 `yaml:"count_weight"`
	TimeWeight      float64 `yaml:"time_weight"`
	AuthorityWeight float64 `yaml:"authority_weight"`

	// CountMax is the mention count at which the log-compressed count
	// signal saturates to 1.0.
	CountMax int `yaml:"count_max"`
	// TimeMaxHours is the age of the earliest mention at which the time
	// signal saturates to 1.0.
	TimeMaxHours float64 `yaml:"time_max_hours"`
	// AuthorityMax is the distinct key-person count at which the
	// authority signal saturates to 1.0.
	AuthorityMax float64 `yaml:"authority_max"`
	// ConfidenceSampleMax is the sample size for full confidence.
	ConfidenceSampleMax float64 `yaml:"confidence_sample_max"`

	Thresholds   []Threshold `yaml:"-"`
	DefaultLevel Level       `yaml:"-"`
}

// DefaultScoringConfig returns the calibrated production defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		CountWeight:         0.40,
		TimeWeight:          0.35,
		AuthorityWeight:     0.25,
		CountMax:            100,
		TimeMaxHours:        72,
		AuthorityMax:        5,
		ConfidenceSampleMax: 30,
		Thresholds: []Threshold{
			{Below: 0.15, Level: LevelFirstMover},
			{Below: 0.35, Level: LevelEarly},
			{Below: 0.60, Level: LevelMainstream},
			{Below: 0.80, Level: LevelLate},
		},
		DefaultLevel: LevelRehash,
	}
}

// neutralTimeSignal is used when no earliest mention exists: the topic's
// age is unknown, not fresh.
const neutralTimeSignal = 0.5

// Calculator reduces a raw measurement to (score, level, confidence).
type Calculator struct {
	cfg ScoringConfig
}

// NewCalculator validates the config once at construction; the per-call
// path assumes a coherent config.
func NewCalculator(cfg ScoringConfig) (*Calculator, error) {
	sum := cfg.CountWeight + cfg.TimeWeight + cfg.AuthorityWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("signal weights sum to %v, want 1.0", sum)
	}
	if cfg.CountMax <= 0 || cfg.TimeMaxHours <= 0 || cfg.AuthorityMax <= 0 {
		return nil, fmt.Errorf("signal ceilings must be positive")
	}
	if cfg.ConfidenceSampleMax <= 0 {
		return nil, fmt.Errorf("confidence sample ceiling must be positive")
	}
	if len(cfg.Thresholds) == 0 {
		return nil, fmt.Errorf("no level thresholds configured")
	}
	for i := 1; i < len(cfg.Thresholds); i++ {
		if cfg.Thresholds[i].Below <= cfg.Thresholds[i-1].Below {
			return nil, fmt.Errorf("level thresholds must be ascending")
		}
	}
	return &Calculator{cfg: cfg}, nil
}

// CountSignal log-compresses the mention count: the 90th mention says far
// less about saturation than the 5th.
func (c *Calculator) CountSignal(total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(float64(total))/math.Log1p(float64(c.cfg.CountMax)))
}

// TimeSignal scales the age of the earliest mention. A zero earliest time
// means the age is unknown and yields the neutral midpoint.
func (c *Calculator) TimeSignal(earliest, now time.Time) float64 {
	if earliest.IsZero() {
		return neutralTimeSignal
	}
	hours := now.Sub(earliest).Hours()
	if hours <= 0 {
		return 0
	}
	return math.Min(1, hours/c.cfg.TimeMaxHours)
}

// AuthoritySignal scales the distinct key-person count.
func (c *Calculator) AuthoritySignal(hits int) float64 {
	if hits <= 0 {
		return 0
	}
	return math.Min(1, float64(hits)/c.cfg.AuthorityMax)
}

// Score combines the three signals into a saturation score, maps it to an
// ordinal level, and derives a sample-size confidence.
//
// A zero total short-circuits: averaging a zero count against the neutral
// time signal would fabricate a nonzero score for a topic nobody has
// mentioned.
func (c *Calculator) Score(total, authorityHits int, earliest, now time.Time) (float64, Level, float64) {
	if total == 0 {
		return 0.0, c.cfg.Thresholds[0].Level, 0.3
	}

	score := c.CountSignal(total)*c.cfg.CountWeight +
		c.TimeSignal(earliest, now)*c.cfg.TimeWeight +
		c.AuthoritySignal(authorityHits)*c.cfg.AuthorityWeight

	confidence := math.Min(1, float64(total)/c.cfg.ConfidenceSampleMax)
	return score, c.levelFor(score), confidence
}

func (c *Calculator) levelFor(score float64) Level {
	for _, t := range c.cfg.Thresholds {
		if score < t.Below {
			return t.Level
		}
	}
	return c.cfg.DefaultLevel
}
