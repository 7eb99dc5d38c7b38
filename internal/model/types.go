package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// TickKind distinguishes trade prints from top-of-book quote updates.
type TickKind int

const (
	TickTrade TickKind = iota
	TickQuote
)

func (k TickKind) String() string {
	switch k {
	case TickTrade:
		return "trade"
	case TickQuote:
		return "quote"
	default:
		return "unknown"
	}
}

// Side is the aggressor side of a trade.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other aggressor side. Unknown stays Unknown.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// MarketTick is a single decoded trade or quote event.
type MarketTick struct {
	Symbol     string
	Exchange   string
	Price      float64 // Trade price, or last trade price for quotes
	Volume     int64   // Trade size; 0 for quotes
	Bid        float64 // Best bid known when the tick was produced (0 = unknown)
	Ask        float64 // Best ask known when the tick was produced (0 = unknown)
	Timestamp  time.Time
	ReceivedAt time.Time
	Kind       TickKind
	Side       Side // Unknown for quotes
}

// IsTrade reports whether the tick is a trade print.
func (t MarketTick) IsTrade() bool {
	return t.Kind == TickTrade
}

// -----------------------------------------------------------------------------
// Structural Levels
// -----------------------------------------------------------------------------

// LevelPriority ranks how much conviction a structural level carries.
type LevelPriority int

const (
	PriorityStandard LevelPriority = iota
	PriorityAllStar
	PriorityReference
)

func (p LevelPriority) String() string {
	switch p {
	case PriorityAllStar:
		return "all_star"
	case PriorityReference:
		return "reference"
	default:
		return "standard"
	}
}

// ParseLevelPriority parses the stored form of a level priority.
func ParseLevelPriority(s string) (LevelPriority, error) {
	switch s {
	case "all_star":
		return PriorityAllStar, nil
	case "standard", "":
		return PriorityStandard, nil
	case "reference":
		return PriorityReference, nil
	default:
		return PriorityStandard, fmt.Errorf("unknown level priority %q", s)
	}
}

// StructuralLevel is a precomputed reference price for one symbol and trading day.
type StructuralLevel struct {
	Symbol    string
	LevelType string // e.g. "pivot", "mgi_onh", "mgi_ibh"
	Price     float64
	Priority  LevelPriority
	Timeframe string // DAILY, WEEKLY, MONTHLY
	Source    string // motivewave_csv, manual_input, calculated
}

// InteractionKind classifies how a trade related to a level.
type InteractionKind int

const (
	InteractionApproach InteractionKind = iota
	InteractionTouch
	InteractionBreach
	InteractionBounce
)

func (k InteractionKind) String() string {
	switch k {
	case InteractionApproach:
		return "approach"
	case InteractionTouch:
		return "touch"
	case InteractionBreach:
		return "breach"
	case InteractionBounce:
		return "bounce"
	default:
		return "unknown"
	}
}

// LevelInteraction records one (trade, level) pair that fell inside the
// proximity window.
type LevelInteraction struct {
	Symbol     string
	Price      float64
	Volume     int64
	Side       Side
	LevelType  string
	LevelPrice float64
	Kind       InteractionKind
	Distance   float64
	Priority   LevelPriority
	Timestamp  time.Time
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// AlertPriority is the delivery urgency of an alert.
type AlertPriority int

const (
	AlertLow AlertPriority = iota
	AlertMedium
	AlertHigh
	AlertCritical
)

func (p AlertPriority) String() string {
	switch p {
	case AlertLow:
		return "low"
	case AlertMedium:
		return "medium"
	case AlertHigh:
		return "high"
	case AlertCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseAlertPriority parses a configured alert priority. Empty means medium.
func ParseAlertPriority(s string) (AlertPriority, error) {
	switch s {
	case "low":
		return AlertLow, nil
	case "medium", "":
		return AlertMedium, nil
	case "high":
		return AlertHigh, nil
	case "critical":
		return AlertCritical, nil
	default:
		return AlertMedium, fmt.Errorf("unknown alert priority %q", s)
	}
}

// AlertKind identifies what produced an alert.
type AlertKind int

const (
	AlertApproachingLevel AlertKind = iota
	AlertLevelBreak
	AlertCustom
)

func (k AlertKind) String() string {
	switch k {
	case AlertApproachingLevel:
		return "approaching_level"
	case AlertLevelBreak:
		return "level_break"
	case AlertCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseAlertKind parses a configured rule kind. Empty means custom.
func ParseAlertKind(s string) (AlertKind, error) {
	switch s {
	case "approaching_level":
		return AlertApproachingLevel, nil
	case "level_break":
		return AlertLevelBreak, nil
	case "custom", "":
		return AlertCustom, nil
	default:
		return AlertCustom, fmt.Errorf("unknown alert kind %q", s)
	}
}

// AlertRule is a user-defined trigger evaluated against the latest price.
// Only LastTriggered changes after construction, and only the engine's
// check routine writes it.
type AlertRule struct {
	ID            string
	Symbol        string
	Kind          AlertKind
	Priority      AlertPriority
	Conditions    map[string]float64 // e.g. price_above: 4485.0
	Cooldown      time.Duration
	Active        bool
	LastTriggered time.Time
}

// Alert is an emitted notification.
type Alert struct {
	ID         uuid.UUID
	Symbol     string
	Kind       AlertKind
	Priority   AlertPriority
	Message    string
	Price      float64
	RuleID     string  // Empty for level alerts
	LevelType  string  // Empty for custom rules
	LevelPrice float64 // 0 when no level is involved
	Timestamp  time.Time
}

// HasLevel reports whether the alert refers to a structural level.
func (a Alert) HasLevel() bool {
	return a.LevelType != ""
}
