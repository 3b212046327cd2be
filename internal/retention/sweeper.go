package retention

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/models"
)

// Sweeper bounds the number of run directories kept per category.
// Directories registered with Protect are never deleted while a writer holds them.
type Sweeper struct {
	mu         sync.Mutex
	inFlight   map[string]int
	categoryMu map[string]*sync.Mutex
	logger     arbor.ILogger
	removeAll  func(path string) error
	onDeleted  []func(category, run string)
}

// NewSweeper creates a Sweeper
func NewSweeper(logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		inFlight:   make(map[string]int),
		categoryMu: make(map[string]*sync.Mutex),
		logger:     logger,
		removeAll:  os.RemoveAll,
	}
}

// OnDeleted registers fn to be called after each run directory a sweep deletes.
// Hooks run synchronously inside the sweep; a panicking hook is logged and skipped.
func (s *Sweeper) OnDeleted(fn func(category, run string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDeleted = append(s.onDeleted, fn)
}

func (s *Sweeper) notifyDeleted(category, run string) {
	s.mu.Lock()
	hooks := append(([]func(string, string))(nil), s.onDeleted...)
	s.mu.Unlock()
	for _, fn := range hooks {
		func() {
			defer common.RecoverPanic(s.logger, "retention-on-deleted")
			fn(category, run)
		}()
	}
}

// Protect marks a run directory as in use. Calls nest; each needs a Release.
func (s *Sweeper) Protect(path string) {
	key := cleanKey(path)
	s.mu.Lock()
	s.inFlight[key]++
	s.mu.Unlock()
}

// Release undoes one Protect
func (s *Sweeper) Release(path string) {
	key := cleanKey(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[key] <= 1 {
		delete(s.inFlight, key)
		return
	}
	s.inFlight[key]--
}

func (s *Sweeper) isProtected(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[cleanKey(path)] > 0
}

// lockCategory serializes sweeps of one category; tasks finishing together
// all schedule a sweep of the same directory
func (s *Sweeper) lockCategory(categoryDir string) func() {
	key := cleanKey(categoryDir)
	s.mu.Lock()
	m, ok := s.categoryMu[key]
	if !ok {
		m = &sync.Mutex{}
		s.categoryMu[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// List returns the run directories of categoryDir, newest first.
// A missing directory yields an empty list.
func (s *Sweeper) List(categoryDir string) ([]models.RetentionEntry, error) {
	dirEntries, err := os.ReadDir(categoryDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", categoryDir, err)
	}

	entries := make([]models.RetentionEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		path := filepath.Join(categoryDir, de.Name())
		entry := models.RetentionEntry{
			Name:      de.Name(),
			Path:      path,
			SizeBytes: dirSize(path),
		}
		if created, ok := common.ParseRunID(de.Name()); ok {
			entry.CreatedAt = created
		} else if info, err := de.Info(); err == nil {
			entry.CreatedAt = info.ModTime()
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Name > entries[j].Name
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Sweep keeps the newest keep run directories of baseDir/category and deletes
// the rest, oldest first. Each deletion is independent: one failure is recorded
// and the sweep carries on.
func (s *Sweeper) Sweep(category, baseDir string, keep int) (*models.SweepResult, error) {
	if keep < 1 {
		return nil, fmt.Errorf("retention keep must be at least 1, got %d", keep)
	}

	categoryDir := filepath.Join(baseDir, category)
	unlock := s.lockCategory(categoryDir)
	defer unlock()

	entries, err := s.List(categoryDir)
	if err != nil {
		return nil, err
	}

	result := &models.SweepResult{Category: category, Deleted: []string{}, Kept: []string{}}
	if len(entries) <= keep {
		for _, e := range entries {
			result.Kept = append(result.Kept, e.Name)
		}
		return result, nil
	}

	for _, e := range entries[:keep] {
		result.Kept = append(result.Kept, e.Name)
	}

	excess := entries[keep:]
	for i := len(excess) - 1; i >= 0; i-- {
		e := excess[i]
		if s.isProtected(e.Path) {
			s.logger.Debug().Str("path", e.Path).Msg("Retention skipping in-flight run directory")
			result.Kept = append(result.Kept, e.Name)
			continue
		}
		if err := s.remove(e.Path); err != nil {
			s.logger.Warn().Err(err).Str("path", e.Path).Msg("Failed to delete run directory")
			result.Failed = append(result.Failed, e.Name)
			continue
		}
		result.Deleted = append(result.Deleted, e.Name)
		result.BytesFreed += e.SizeBytes
		s.notifyDeleted(category, e.Name)
	}

	if len(result.Deleted) > 0 || len(result.Failed) > 0 {
		s.logger.Info().
			Str("category", category).
			Int("deleted", len(result.Deleted)).
			Int("kept", len(result.Kept)).
			Int("failed", len(result.Failed)).
			Int64("bytes_freed", result.BytesFreed).
			Msg("Retention sweep complete")
	}

	return result, nil
}

// remove deletes one directory, converting a panic into an error so a single
// bad entry cannot abort the sweep
func (s *Sweeper) remove(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic removing %s: %v", path, r)
		}
	}()
	return s.removeAll(path)
}

// SweepAll sweeps every category under baseDir and aggregates the results.
// A failing category is logged and skipped.
func (s *Sweeper) SweepAll(baseDir string, keep int) (*models.SweepResult, error) {
	if keep < 1 {
		return nil, fmt.Errorf("retention keep must be at least 1, got %d", keep)
	}

	dirEntries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.SweepResult{Deleted: []string{}, Kept: []string{}}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", baseDir, err)
	}

	total := &models.SweepResult{Deleted: []string{}, Kept: []string{}}
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		result, err := s.Sweep(de.Name(), baseDir, keep)
		if err != nil {
			s.logger.Warn().Err(err).Str("category", de.Name()).Msg("Retention sweep of category failed")
			continue
		}
		total.Merge(prefixed(de.Name(), result))
	}
	return total, nil
}

// prefixed qualifies run names with their category for aggregated results
func prefixed(category string, r *models.SweepResult) *models.SweepResult {
	out := &models.SweepResult{BytesFreed: r.BytesFreed}
	for _, n := range r.Deleted {
		out.Deleted = append(out.Deleted, category+"/"+n)
	}
	for _, n := range r.Kept {
		out.Kept = append(out.Kept, category+"/"+n)
	}
	for _, n := range r.Failed {
		out.Failed = append(out.Failed, category+"/"+n)
	}
	return out
}

// dirSize sums regular file sizes below path; unreadable entries count as zero
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}

func cleanKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
