package levels

import (
	"math"
	"sort"

	"github.com/rickgao/levelwatch/internal/model"
)

// Thresholds are the classification distances in price points.
type Thresholds struct {
	Touch     float64
	Proximity float64
	Breach    float64
}

// DefaultThresholds returns the standard index-futures thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Touch: 0.25, Proximity: 2.0, Breach: 0.5}
}

// ClassifyLevel classifies one trade against one level. ok is false when the
// trade is outside the proximity window.
//
// A breach requires the previous trade strictly on the other side of the level
// and the current trade beyond it by more than th.Breach. Otherwise the trade
// is a touch within th.Touch and an approach within th.Proximity.
func ClassifyLevel(prevPrice float64, hasPrev bool, price, level float64, th Thresholds) (kind model.InteractionKind, distance float64, ok bool) {
	distance = math.Abs(price - level)
	if distance > th.Proximity {
		return 0, distance, false
	}
	if hasPrev && crossed(prevPrice, price, level, th.Breach) {
		return model.InteractionBreach, distance, true
	}
	if distance <= th.Touch {
		return model.InteractionTouch, distance, true
	}
	return model.InteractionApproach, distance, true
}

func crossed(prev, price, level, margin float64) bool {
	return (prev < level && price-level > margin) ||
		(prev > level && level-price > margin)
}

// Classify returns one interaction per level within proximity of the trade,
// in level order. Levels with a non-positive price are ignored.
func Classify(tick model.MarketTick, prevPrice float64, hasPrev bool, levels []model.StructuralLevel, th Thresholds) []model.LevelInteraction {
	var out []model.LevelInteraction
	for _, lvl := range levels {
		if lvl.Price <= 0 {
			continue
		}
		kind, distance, ok := ClassifyLevel(prevPrice, hasPrev, tick.Price, lvl.Price, th)
		if !ok {
			continue
		}
		out = append(out, model.LevelInteraction{
			Symbol:     tick.Symbol,
			Price:      tick.Price,
			Volume:     tick.Volume,
			Side:       tick.Side,
			LevelType:  lvl.LevelType,
			LevelPrice: lvl.Price,
			Kind:       kind,
			Distance:   distance,
			Priority:   lvl.Priority,
			Timestamp:  tick.Timestamp,
		})
	}
	return out
}

// buildLevels turns a stored level map into a sorted slice.
func buildLevels(symbol string, raw map[string]float64) []model.StructuralLevel {
	out := make([]model.StructuralLevel, 0, len(raw))
	for levelType, price := range raw {
		if price <= 0 {
			continue
		}
		out = append(out, NewLevel(symbol, levelType, price))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].LevelType < out[j].LevelType
	})
	return out
}
