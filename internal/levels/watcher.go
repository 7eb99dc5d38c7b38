package levels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Folders under the watch directory.
const (
	ArchivedDir = "archived"
	ErrorDir    = "errors"
)

// ErrNoSymbol is returned when a file name names none of the watched symbols.
var ErrNoSymbol = errors.New("no known symbol in file name")

// Importer stores parsed levels for a trading date.
type Importer interface {
	UpsertLevels(ctx context.Context, date time.Time, lvls []ImportedLevel, importedBy string) (int, error)
}

// WatcherConfig configures a FolderWatcher.
type WatcherConfig struct {
	Dir      string
	Interval time.Duration // Between scans (default: 5m)
	MaxAge   time.Duration // Older files are left alone (default: 24h)
	Symbols  []string      // Matched against upper-cased file names (default: ES, NQ)
	Location *time.Location
}

// DefaultWatcherConfig returns the default FolderWatcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Interval: 5 * time.Minute,
		MaxAge:   24 * time.Hour,
		Symbols:  []string{"ES", "NQ"},
		Location: DefaultConfig().Location,
	}
}

// WatcherStats is a snapshot of FolderWatcher counters.
type WatcherStats struct {
	Scans    int64
	Imported int64
	Failed   int64
	LastScan time.Time
}

// FolderWatcher periodically imports MotiveWave exports dropped into a
// directory. Imported files move to archived/, rejected ones to errors/.
type FolderWatcher struct {
	cfg      WatcherConfig
	importer Importer
	onImport func(symbol string)
	logger   *slog.Logger
	now      func() time.Time

	// scanMu serializes scans.
	scanMu sync.Mutex

	statsMu  sync.Mutex
	lastScan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scans    atomic.Int64
	imported atomic.Int64
	failed   atomic.Int64
}

// NewFolderWatcher creates a FolderWatcher. onImport, if set, is called with
// the symbol of every imported file.
func NewFolderWatcher(cfg WatcherConfig, importer Importer, onImport func(symbol string), logger *slog.Logger) *FolderWatcher {
	def := DefaultWatcherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = def.Symbols
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderWatcher{
		cfg:      cfg,
		importer: importer,
		onImport: onImport,
		logger:   logger.With("component", "level_watcher"),
		now:      time.Now,
	}
}

// Start creates the folders, scans once and then scans every interval.
func (w *FolderWatcher) Start(ctx context.Context) error {
	for _, dir := range []string{w.cfg.Dir, w.dir(ArchivedDir), w.dir(ErrorDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create watch folder: %w", err)
		}
	}

	w.logger.Info("starting level watcher", "dir", w.cfg.Dir, "interval", w.cfg.Interval)
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.Scan(ctx)

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop ends the scan loop and waits for a running scan.
func (w *FolderWatcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("level watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *FolderWatcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.Scan(w.ctx)
		}
	}
}

// Scan imports every eligible file once and returns how many were imported
// and how many were moved to errors/. Weekends are skipped.
func (w *FolderWatcher) Scan(ctx context.Context) (imported, failed int) {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	now := w.now().In(w.cfg.Location)
	w.scans.Add(1)
	w.statsMu.Lock()
	w.lastScan = now
	w.statsMu.Unlock()
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		w.logger.Debug("not a trading day, skipping scan")
		return 0, 0
	}

	files, err := w.pending(now)
	if err != nil {
		w.logger.Warn("scan failed", "dir", w.cfg.Dir, "error", err)
		return 0, 0
	}

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		symbol, n, err := w.importFile(ctx, path, now)
		if err != nil {
			failed++
			w.failed.Add(1)
			w.logger.Error("level import failed", "file", filepath.Base(path), "error", err)
			w.move(path, ErrorDir, now)
			continue
		}
		imported++
		w.imported.Add(1)
		w.logger.Info("imported levels", "file", filepath.Base(path), "symbol", symbol, "levels", n)
		w.move(path, ArchivedDir, now)
		if w.onImport != nil {
			w.onImport(symbol)
		}
	}
	return imported, failed
}

// pending lists top-level CSV files younger than MaxAge, oldest first.
func (w *FolderWatcher) pending(now time.Time) ([]string, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > w.cfg.MaxAge {
			w.logger.Debug("skipping old file", "file", e.Name(), "mtime", info.ModTime())
			continue
		}
		files = append(files, candidate{filepath.Join(w.cfg.Dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mtime.Equal(files[j].mtime) {
			return files[i].path < files[j].path
		}
		return files[i].mtime.Before(files[j].mtime)
	})

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func (w *FolderWatcher) importFile(ctx context.Context, path string, now time.Time) (string, int, error) {
	symbol := w.symbolFor(filepath.Base(path))
	if symbol == "" {
		return "", 0, ErrNoSymbol
	}

	f, err := os.Open(path)
	if err != nil {
		return symbol, 0, err
	}
	defer f.Close()

	result, err := ParseMotiveWaveCSV(f, symbol, now, w.cfg.Location)
	if err != nil {
		return symbol, 0, err
	}
	for col, reason := range result.Skipped {
		w.logger.Warn("skipped column", "file", filepath.Base(path), "column", col, "reason", reason)
	}

	n, err := w.importer.UpsertLevels(ctx, result.TradingDate, result.Levels, "folder_watch")
	if err != nil {
		return symbol, 0, fmt.Errorf("store levels: %w", err)
	}
	return symbol, n, nil
}

// symbolFor returns the first watched symbol contained in the file name.
func (w *FolderWatcher) symbolFor(name string) string {
	upper := strings.ToUpper(name)
	for _, s := range w.cfg.Symbols {
		if strings.Contains(upper, strings.ToUpper(s)) {
			return s
		}
	}
	return ""
}

// move renames a file into a sub-folder with a timestamp prefix, adding a
// counter when the name is taken.
func (w *FolderWatcher) move(path, sub string, now time.Time) {
	base := now.Format("20060102_150405") + "_" + filepath.Base(path)
	ext := filepath.Ext(base)
	dest := filepath.Join(w.dir(sub), base)
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
			break
		}
		dest = filepath.Join(w.dir(sub), fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), i, ext))
	}
	if err := os.Rename(path, dest); err != nil {
		w.logger.Error("failed to move file", "file", filepath.Base(path), "folder", sub, "error", err)
	}
}

func (w *FolderWatcher) dir(sub string) string {
	return filepath.Join(w.cfg.Dir, sub)
}

// Stats returns current counters.
func (w *FolderWatcher) Stats() WatcherStats {
	w.statsMu.Lock()
	last := w.lastScan
	w.statsMu.Unlock()
	return WatcherStats{
		Scans:    w.scans.Load(),
		Imported: w.imported.Load(),
		Failed:   w.failed.Load(),
		LastScan: last,
	}
}
