package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/levelwatch/internal/levels"
	"github.com/rickgao/levelwatch/internal/model"
)

// Errors
var (
	ErrNoLevels = errors.New("no levels to store")
)

// LevelRecord is one stored level with its tracking data.
type LevelRecord struct {
	model.StructuralLevel
	TradingDate    time.Time
	Description    string
	Touches        int
	FirstTouchTime *time.Time
	LastTouchTime  *time.Time
	ImportedBy     string
}

// NearbyLevel is a stored level and its distance from a reference price.
type NearbyLevel struct {
	LevelRecord
	Distance float64
}

// Validation is the result of a level hierarchy check.
type Validation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ManualResult reports the outcome of AddManualLevels.
type ManualResult struct {
	Imported   int
	Errors     []string
	Validation Validation
}

// LevelStore reads and writes structural levels in PostgreSQL.
type LevelStore struct {
	db     Querier
	logger *slog.Logger
}

// NewLevelStore creates a LevelStore.
func NewLevelStore(db Querier, logger *slog.Logger) *LevelStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LevelStore{db: db, logger: logger.With("component", "level_store")}
}

// GetLevels returns level type -> price for a symbol and trading date.
func (s *LevelStore) GetLevels(ctx context.Context, symbol string, date time.Time) (map[string]float64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT level_type, price FROM structural_levels
		 WHERE symbol = $1 AND trading_date = $2`,
		symbol, dateOnly(date),
	)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			levelType string
			price     float64
		)
		if err := rows.Scan(&levelType, &price); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		out[levelType] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate levels: %w", err)
	}
	return out, nil
}

const levelColumns = `symbol, trading_date, level_type, price, source, timeframe, priority,
	COALESCE(description, ''), touches, first_touch_time, last_touch_time, COALESCE(imported_by, '')`

// LevelDetails returns every stored level for a symbol and date, by price.
func (s *LevelStore) LevelDetails(ctx context.Context, symbol string, date time.Time) ([]LevelRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+levelColumns+` FROM structural_levels
		 WHERE symbol = $1 AND trading_date = $2
		 ORDER BY price, level_type`,
		symbol, dateOnly(date),
	)
}

// LevelsByPriority returns stored levels of one priority, by price.
func (s *LevelStore) LevelsByPriority(ctx context.Context, symbol string, date time.Time, priority model.LevelPriority) ([]LevelRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+levelColumns+` FROM structural_levels
		 WHERE symbol = $1 AND trading_date = $2 AND priority = $3
		 ORDER BY price, level_type`,
		symbol, dateOnly(date), priority.String(),
	)
}

// AllStarLevels returns the all-star levels for a symbol and date.
func (s *LevelStore) AllStarLevels(ctx context.Context, symbol string, date time.Time) ([]LevelRecord, error) {
	return s.LevelsByPriority(ctx, symbol, date, model.PriorityAllStar)
}

// NearbyLevels returns levels within rangePoints of price, nearest first.
func (s *LevelStore) NearbyLevels(ctx context.Context, symbol string, date time.Time, price, rangePoints float64) ([]NearbyLevel, error) {
	records, err := s.LevelDetails(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	return nearby(records, price, rangePoints), nil
}

func nearby(records []LevelRecord, price, rangePoints float64) []NearbyLevel {
	var out []NearbyLevel
	for _, r := range records {
		d := math.Abs(r.Price - price)
		if d <= rangePoints {
			out = append(out, NearbyLevel{LevelRecord: r, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

func (s *LevelStore) queryRecords(ctx context.Context, sql string, args ...any) ([]LevelRecord, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()

	var out []LevelRecord
	for rows.Next() {
		var (
			r        LevelRecord
			priority string
		)
		if err := rows.Scan(
			&r.Symbol, &r.TradingDate, &r.LevelType, &r.Price, &r.Source, &r.Timeframe, &priority,
			&r.Description, &r.Touches, &r.FirstTouchTime, &r.LastTouchTime, &r.ImportedBy,
		); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		if r.Priority, err = model.ParseLevelPriority(priority); err != nil {
			s.logger.Warn("unknown stored priority", "symbol", r.Symbol, "level_type", r.LevelType, "priority", priority)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate levels: %w", err)
	}
	return out, nil
}

// RecordTouch bumps the touch counter of a level. It reports whether the
// level exists.
func (s *LevelStore) RecordTouch(ctx context.Context, symbol, levelType string, date, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE structural_levels
		 SET touches = touches + 1,
		     last_touch_time = $4,
		     first_touch_time = COALESCE(first_touch_time, $4),
		     updated_at = now()
		 WHERE symbol = $1 AND trading_date = $2 AND level_type = $3`,
		symbol, dateOnly(date), levelType, at,
	)
	if err != nil {
		return false, fmt.Errorf("record touch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const upsertLevelSQL = `INSERT INTO structural_levels
	(id, symbol, trading_date, level_type, price, source, timeframe, priority, description, imported_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (symbol, trading_date, level_type) DO UPDATE SET
		price = EXCLUDED.price,
		source = EXCLUDED.source,
		timeframe = EXCLUDED.timeframe,
		priority = EXCLUDED.priority,
		description = EXCLUDED.description,
		imported_by = EXCLUDED.imported_by,
		updated_at = now()`

// UpsertLevels stores levels for a trading date in one batch, replacing
// existing prices of the same type.
func (s *LevelStore) UpsertLevels(ctx context.Context, date time.Time, lvls []levels.ImportedLevel, importedBy string) (int, error) {
	if len(lvls) == 0 {
		return 0, ErrNoLevels
	}

	batch := &pgx.Batch{}
	for _, l := range lvls {
		batch.Queue(upsertLevelSQL,
			uuid.New(),
			l.Symbol,
			dateOnly(date),
			l.LevelType,
			l.Price,
			l.Source,
			l.Timeframe,
			l.Priority.String(),
			l.Description,
			importedBy,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range lvls {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("upsert %s: %w", lvls[i].LevelType, err)
		}
	}

	s.logger.Info("stored levels", "count", len(lvls), "date", dateOnly(date).Format(time.DateOnly), "by", importedBy)
	return len(lvls), nil
}

// AddManualLevels stores the manually entered pivot levels. Level types
// outside the manual set are reported and skipped. The hierarchy is checked
// after storing.
func (s *LevelStore) AddManualLevels(ctx context.Context, symbol string, date time.Time, raw map[string]float64, user string) (ManualResult, error) {
	lvls, errs := manualLevels(symbol, raw)
	result := ManualResult{Errors: errs}

	if len(lvls) > 0 {
		n, err := s.UpsertLevels(ctx, date, lvls, user)
		if err != nil {
			return result, err
		}
		result.Imported = n
	}

	v, err := s.ValidateHierarchy(ctx, symbol, date)
	if err != nil {
		return result, err
	}
	result.Validation = v
	return result, nil
}

// manualLevels converts manual input into all-star levels, in type order.
func manualLevels(symbol string, raw map[string]float64) ([]levels.ImportedLevel, []string) {
	types := make([]string, 0, len(raw))
	for t := range raw {
		types = append(types, t)
	}
	sort.Strings(types)

	var (
		out  []levels.ImportedLevel
		errs []string
	)
	for _, t := range types {
		if !levels.IsManualType(t) {
			errs = append(errs, fmt.Sprintf("invalid manual level type: %s", t))
			continue
		}
		if raw[t] <= 0 {
			errs = append(errs, fmt.Sprintf("invalid price for %s: %v", t, raw[t]))
			continue
		}
		lvl := levels.NewLevel(symbol, t, raw[t])
		lvl.Source = levels.SourceManual
		lvl.Priority = model.PriorityAllStar
		out = append(out, levels.ImportedLevel{
			StructuralLevel: lvl,
			Description:     "all-star manual " + t + " level",
		})
	}
	return out, errs
}

// ValidateHierarchy checks the stored levels of a symbol and date.
func (s *LevelStore) ValidateHierarchy(ctx context.Context, symbol string, date time.Time) (Validation, error) {
	lv, err := s.GetLevels(ctx, symbol, date)
	if err != nil {
		return Validation{}, err
	}
	return CheckHierarchy(symbol, lv), nil
}

// CheckHierarchy validates level ordering: pivot_ba_high > pivot >
// pivot_ba_low, and each high/low pair in order. Prices outside the
// symbol's plausible range produce warnings.
func CheckHierarchy(symbol string, lv map[string]float64) Validation {
	var v Validation

	if hi, okHi := lv["pivot_ba_high"]; okHi {
		if p, okP := lv["pivot"]; okP {
			if lo, okLo := lv["pivot_ba_low"]; okLo && !(hi > p && p > lo) {
				v.Errors = append(v.Errors, "pivot hierarchy invalid: want pivot_ba_high > pivot > pivot_ba_low")
			}
		}
	}

	pairs := [][2]string{
		{"mgi_onh", "mgi_onl"},
		{"mgi_pdh", "mgi_pdl"},
		{"mgi_pm_vah", "mgi_pm_val"},
		{"mgi_pw_vah", "mgi_pw_val"},
		{"mgi_ibh", "mgi_ibl"},
		{"balance_area_high", "balance_area_low"},
	}
	for _, p := range pairs {
		hi, okHi := lv[p[0]]
		lo, okLo := lv[p[1]]
		if okHi && okLo && hi <= lo {
			v.Errors = append(v.Errors, fmt.Sprintf("%s must be above %s", p[0], p[1]))
		}
	}

	if lo, hi, ok := levels.PriceRange(symbol); ok {
		types := make([]string, 0, len(lv))
		for t := range lv {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			if price := lv[t]; price < lo || price > hi {
				v.Warnings = append(v.Warnings, fmt.Sprintf("%s price %v outside %v-%v for %s", t, price, lo, hi, symbol))
			}
		}
	}

	v.Valid = len(v.Errors) == 0
	return v
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
