package alert

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/levelwatch/internal/levels"
	"github.com/rickgao/levelwatch/internal/model"
)

// levelPriceTolerance is how close an interaction's level must be to a
// rule's level_price to match.
const levelPriceTolerance = 1e-6

// allowedConditions lists the condition keys each rule kind understands.
var allowedConditions = map[model.AlertKind][]string{
	model.AlertCustom:           {CondPriceAbove, CondPriceBelow},
	model.AlertLevelBreak:       {CondLevelPrice},
	model.AlertApproachingLevel: {CondLevelPrice, CondMaxDistance},
}

// ValidateRule checks a rule's identity and condition keys.
func ValidateRule(r model.AlertRule) error {
	if r.ID == "" {
		return ErrRuleID
	}
	if r.Symbol == "" {
		return ErrRuleSymbol
	}
	return checkConditions(r)
}

func checkConditions(r model.AlertRule) error {
	allowed := allowedConditions[r.Kind]
	keys := make([]string, 0, len(r.Conditions))
	for k := range r.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("%w %q for %s rule", ErrUnknownCondition, k, r.Kind)
		}
	}
	if r.Kind == model.AlertCustom && len(r.Conditions) == 0 {
		return ErrNoConditions
	}
	return nil
}

// evaluatePrice checks a custom rule against the latest price. price_above
// is checked before price_below; both are strict.
func evaluatePrice(r model.AlertRule, symbol string, price float64) (bool, string, error) {
	if err := checkConditions(r); err != nil {
		return false, "", err
	}
	if thr, ok := r.Conditions[CondPriceAbove]; ok && price > thr {
		return true, fmt.Sprintf("%s broke above %s: %s", symbol, formatPrice(thr), formatPrice(price)), nil
	}
	if thr, ok := r.Conditions[CondPriceBelow]; ok && price < thr {
		return true, fmt.Sprintf("%s broke below %s: %s", symbol, formatPrice(thr), formatPrice(price)), nil
	}
	return false, "", nil
}

// evaluateInteraction checks a level rule against an interaction. With no
// conditions every interaction of the matching kind fires.
func evaluateInteraction(r model.AlertRule, in model.LevelInteraction) (bool, error) {
	if err := checkConditions(r); err != nil {
		return false, err
	}
	if lp, ok := r.Conditions[CondLevelPrice]; ok && math.Abs(in.LevelPrice-lp) > levelPriceTolerance {
		return false, nil
	}
	if md, ok := r.Conditions[CondMaxDistance]; ok && in.Distance > md {
		return false, nil
	}
	return true, nil
}

// LevelAlertPriority maps a level's priority to the urgency of its alerts.
func LevelAlertPriority(p model.LevelPriority) model.AlertPriority {
	switch p {
	case model.PriorityAllStar:
		return model.AlertHigh
	case model.PriorityReference:
		return model.AlertLow
	default:
		return model.AlertMedium
	}
}

// formatLevelAlert renders e.g. "ES @ 4451.50 - PIVOT 4450.00 (above, 1.5pts away) [DAILY]".
func formatLevelAlert(symbol string, price float64, levelType string, levelPrice, distance float64, timeframe string) string {
	return fmt.Sprintf("%s @ %s - %s %s (%s, %spts away) [%s]",
		symbol,
		formatPrice(price),
		strings.ToUpper(levelType),
		formatPrice(levelPrice),
		direction(price, levelPrice),
		decimal.NewFromFloat(distance).StringFixed(1),
		timeframe,
	)
}

func formatBreak(in model.LevelInteraction) string {
	return fmt.Sprintf("%s broke %s %s %s: %s",
		in.Symbol,
		direction(in.Price, in.LevelPrice),
		strings.ToUpper(in.LevelType),
		formatPrice(in.LevelPrice),
		formatPrice(in.Price),
	)
}

func direction(price, level float64) string {
	if price > level {
		return "above"
	}
	return "below"
}

func formatPrice(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(2)
}

func timeframeOf(levelType string) string {
	return levels.TimeframeOf(levelType)
}
