package levels

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/levelwatch/internal/model"
)

// CSV import errors
var (
	ErrEmptyCSV       = errors.New("csv has no data rows")
	ErrNoDateColumn   = errors.New("no Date/Time column found in csv")
	ErrNoRowsForDay   = errors.New("no rows for trading date")
	ErrNoRowsAfterRTH = errors.New("no rows at or after the 9:30 open")
)

// csvTimeLayout is the export's day-first timestamp format.
const csvTimeLayout = "02/01/2006 15:04:05"

var dateColumns = []string{"Date/Time", "DateTime", "Time", "Date"}

// columnMapping maps export column headers to level types.
var columnMapping = []struct {
	column    string
	levelType string
}{
	{"MGI Wk-Op", "mgi_wk_op"},
	{"MGI PM-VAH", "mgi_pm_vah"},
	{"MGI PM-VAL", "mgi_pm_val"},
	{"MGI PW-VAH", "mgi_pw_vah"},
	{"MGI PW-VAL", "mgi_pw_val"},
	{"MGI: ONH", "mgi_onh"},
	{"MGI: ONL", "mgi_onl"},
	{"MGI MTH-Op", "mgi_mth_op"},
	{"MGI PM-Hi", "mgi_pm_hi"},
	{"MGI PM-Md", "mgi_pm_md"},
	{"MGI PM-Lo", "mgi_pm_lo"},
	{"MGI PM-Cl", "mgi_pm_cl"},
	{"MGI PW-Hi", "mgi_pw_hi"},
	{"MGI PW-Md", "mgi_pw_md"},
	{"MGI PW-Lo", "mgi_pw_lo"},
	{"MGI PW-Cl", "mgi_pw_cl"},
	{"MGI: RTHO", "mgi_rtho"},
	{"MGI: PDH", "mgi_pdh"},
	{"MGI: PDM", "mgi_pdm"},
	{"MGI: PDL", "mgi_pdl"},
	{"MGI: PRTH Close", "mgi_prth_close"},
	{"Balance Area High", "balance_area_high"},
	{"Balance Area Mid", "balance_area_mid"},
	{"Balance Area Low", "balance_area_low"},
	{"MGI: IB+200%", "mgi_ib_plus_200"},
	{"MGI: IB+150%", "mgi_ib_plus_150"},
	{"MGI: IB+100%", "mgi_ib_plus_100"},
	{"MGI: IB+50%", "mgi_ib_plus_50"},
	{"MGI: IBH", "mgi_ibh"},
	{"MGI: IBM", "mgi_ibm"},
	{"MGI: IBL", "mgi_ibl"},
	{"MGI: IB-50%", "mgi_ib_minus_50"},
	{"MGI: IB-100%", "mgi_ib_minus_100"},
	{"MGI: IB-150%", "mgi_ib_minus_150"},
	{"MGI: IB-200%", "mgi_ib_minus_200"},
}

// priceRanges bounds plausible prices per symbol. Unlisted symbols are unchecked.
var priceRanges = map[string][2]float64{
	"ES": {3000, 8000},
	"NQ": {10000, 30000},
}

// ImportedLevel is one level read from an export.
type ImportedLevel struct {
	model.StructuralLevel
	Description string
}

// ImportResult is the outcome of parsing one export.
type ImportResult struct {
	Symbol      string
	TradingDate time.Time
	RowTime     time.Time // Timestamp of the row the levels were read from
	Levels      []ImportedLevel
	Skipped     map[string]string // column -> reason
}

// LevelMap returns the imported levels as level type -> price.
func (r ImportResult) LevelMap() map[string]float64 {
	out := make(map[string]float64, len(r.Levels))
	for _, l := range r.Levels {
		out[l.LevelType] = l.Price
	}
	return out
}

// ParseMotiveWaveCSV reads a MotiveWave export and returns the levels on the
// earliest row of day at or after 9:30 in loc. The delimiter is detected from
// the header line.
func ParseMotiveWaveCSV(r io.Reader, symbol string, day time.Time, loc *time.Location) (ImportResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read csv: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return ImportResult{}, ErrEmptyCSV
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	dateCol := -1
	for _, name := range dateColumns {
		if i, ok := header[name]; ok {
			dateCol = i
			break
		}
	}
	if dateCol < 0 {
		return ImportResult{}, ErrNoDateColumn
	}

	y, m, d := day.In(loc).Date()
	open := time.Date(y, m, d, 9, 30, 0, 0, loc)

	var (
		target  []string
		rowTime time.Time
		sameDay bool
	)
	for _, rec := range records[1:] {
		if dateCol >= len(rec) {
			continue
		}
		ts, err := time.ParseInLocation(csvTimeLayout, strings.TrimSpace(rec[dateCol]), loc)
		if err != nil {
			continue
		}
		if ry, rm, rd := ts.Date(); ry != y || rm != m || rd != d {
			continue
		}
		sameDay = true
		if ts.Before(open) {
			continue
		}
		if target == nil || ts.Before(rowTime) {
			target, rowTime = rec, ts
		}
	}
	if !sameDay {
		return ImportResult{}, fmt.Errorf("%w %s", ErrNoRowsForDay, open.Format(time.DateOnly))
	}
	if target == nil {
		return ImportResult{}, ErrNoRowsAfterRTH
	}

	result := ImportResult{
		Symbol:      symbol,
		TradingDate: time.Date(y, m, d, 0, 0, 0, 0, loc),
		RowTime:     rowTime,
		Skipped:     make(map[string]string),
	}

	bounds, checked := priceRanges[strings.ToUpper(symbol)]
	for _, col := range columnMapping {
		i, ok := header[col.column]
		if !ok || i >= len(target) {
			continue
		}
		raw := strings.TrimSpace(target[i])
		if raw == "" || raw == "0" {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			result.Skipped[col.column] = fmt.Sprintf("invalid price %q", raw)
			continue
		}
		p := price.InexactFloat64()
		if p <= 0 {
			continue
		}
		if checked && (p < bounds[0] || p > bounds[1]) {
			result.Skipped[col.column] = fmt.Sprintf("price %s outside %v-%v", price.String(), bounds[0], bounds[1])
			continue
		}

		lvl := NewLevel(symbol, col.levelType, p)
		lvl.Source = SourceMotiveWave
		lvl.Timeframe = TimeframeDaily
		desc := "MGI " + col.column + " from MotiveWave"
		if lvl.Priority == model.PriorityAllStar {
			desc = "all-star " + desc
		}
		result.Levels = append(result.Levels, ImportedLevel{StructuralLevel: lvl, Description: desc})
	}

	return result, nil
}

// detectDelimiter picks the most frequent of comma, semicolon and tab in the
// header line.
func detectDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	best, bestCount := ',', strings.Count(line, ",")
	for _, c := range []rune{';', '\t'} {
		if n := strings.Count(line, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// PriceRange returns the plausible price bounds for a symbol, if known.
func PriceRange(symbol string) (lo, hi float64, ok bool) {
	r, ok := priceRanges[strings.ToUpper(symbol)]
	return r[0], r[1], ok
}
