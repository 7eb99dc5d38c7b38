package levels

import (
	"strings"

	"github.com/rickgao/levelwatch/internal/model"
)

// Level sources.
const (
	SourceMotiveWave = "motivewave_csv"
	SourceManual     = "manual_input"
	SourceCalculated = "calculated"
)

// Timeframes.
const (
	TimeframeDaily   = "DAILY"
	TimeframeWeekly  = "WEEKLY"
	TimeframeMonthly = "MONTHLY"
)

// referencePrefix marks initial balance extensions.
const referencePrefix = "mgi_ib"

var allStarTypes = map[string]struct{}{
	"mgi_wk_op":  {},
	"mgi_pm_vah": {},
	"mgi_pm_val": {},
	"mgi_pw_vah": {},
	"mgi_pw_val": {},
	"mgi_onh":    {},
	"mgi_onl":    {},

	"balance_area_high": {},
	"balance_area_mid":  {},
	"balance_area_low":  {},

	"pivot":         {},
	"pivot_high":    {},
	"pivot_low":     {},
	"pivot_ba_high": {},
	"pivot_ba_low":  {},
	"weekly_pivot":  {},
}

// ManualTypes are the level types entered by hand each session.
var ManualTypes = []string{"pivot", "pivot_high", "pivot_low", "pivot_ba_high", "pivot_ba_low", "weekly_pivot"}

// PriorityOf classifies a level type.
func PriorityOf(levelType string) model.LevelPriority {
	if _, ok := allStarTypes[levelType]; ok {
		return model.PriorityAllStar
	}
	if strings.HasPrefix(levelType, referencePrefix) {
		return model.PriorityReference
	}
	return model.PriorityStandard
}

// IsManualType reports whether a level type is one of ManualTypes.
func IsManualType(levelType string) bool {
	for _, t := range ManualTypes {
		if t == levelType {
			return true
		}
	}
	return false
}

// TimeframeOf derives the timeframe a level type is computed over.
func TimeframeOf(levelType string) string {
	switch {
	case levelType == "weekly_pivot", levelType == "mgi_wk_op", strings.HasPrefix(levelType, "mgi_pw_"):
		return TimeframeWeekly
	case levelType == "mgi_mth_op", strings.HasPrefix(levelType, "mgi_pm_"):
		return TimeframeMonthly
	default:
		return TimeframeDaily
	}
}

// SourceOf derives where a level type comes from.
func SourceOf(levelType string) string {
	switch {
	case IsManualType(levelType):
		return SourceManual
	case strings.HasPrefix(levelType, "mgi_"), strings.HasPrefix(levelType, "balance_area_"):
		return SourceMotiveWave
	default:
		return SourceCalculated
	}
}

// NewLevel builds a StructuralLevel with derived metadata.
func NewLevel(symbol, levelType string, price float64) model.StructuralLevel {
	return model.StructuralLevel{
		Symbol:    symbol,
		LevelType: levelType,
		Price:     price,
		Priority:  PriorityOf(levelType),
		Timeframe: TimeframeOf(levelType),
		Source:    SourceOf(levelType),
	}
}
