package logchannel

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/models"
)

const (
	// LogFileName is the text log written into a test case directory
	LogFileName = "logs.txt"
	// JSONFileName is the structured copy written next to LogFileName
	JSONFileName = "logs.json"
)

// ErrNoDirectory is returned when a channel has neither a directory nor a custom path
var ErrNoDirectory = errors.New("log channel has no output directory")

// separatorText is the message body of SEPARATOR records
var separatorText = strings.Repeat("-", 60)

// channel is one test case's partition. Only its owning task and that task's
// recording loop write to it.
type channel struct {
	mu         sync.Mutex
	testCaseID string
	directory  string
	records    []models.LogRecord
	finished   bool // closing banner written
}

func (c *channel) append(record models.LogRecord) {
	c.mu.Lock()
	c.records = append(c.records, record)
	c.mu.Unlock()
}

// finish appends the closing records once; later calls are no-ops
func (c *channel) finish(records ...models.LogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.records = append(c.records, records...)
}

func (c *channel) snapshot() []models.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.LogRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Store maps a test case id to its own ordered log buffer and output directory.
// Isolation comes from partitioning: a call addressed to one id never reads or
// writes another id's buffer. The map lock covers only lookup/replace/delete.
type Store struct {
	mu          sync.RWMutex
	channels    map[string]*channel
	logger      arbor.ILogger
	debugMarker string
	now         func() time.Time
}

// NewStore creates an empty store. Messages containing debugMarker are echoed to
// the console but never persisted; an empty marker disables the filter.
func NewStore(logger arbor.ILogger, debugMarker string) *Store {
	return &Store{
		channels:    make(map[string]*channel),
		logger:      logger,
		debugMarker: debugMarker,
		now:         time.Now,
	}
}

// Initialize creates a fresh channel for testCaseID, replacing any previous one,
// and writes the bootstrap records.
func (s *Store) Initialize(testCaseID, directory string) {
	if testCaseID == "" {
		s.logger.Warn().Str("directory", directory).Msg("Log channel initialize called without a test case id - ignored")
		return
	}

	ch := &channel{testCaseID: testCaseID, directory: directory}

	s.mu.Lock()
	s.channels[testCaseID] = ch
	s.mu.Unlock()

	now := s.now()
	ch.append(s.record(testCaseID, fmt.Sprintf("=== TEST CASE STARTED: %s ===", testCaseID), models.LogLevelInfo, nil, now))
	ch.append(s.record(testCaseID, fmt.Sprintf("Directory: %s", directory), models.LogLevelInfo, nil, now))
	ch.append(s.record(testCaseID, fmt.Sprintf("Timestamp: %s", now.Format(time.RFC3339)), models.LogLevelInfo, nil, now))
	ch.append(s.record(testCaseID, separatorText, models.LogLevelSeparator, nil, now))

	s.logger.Debug().
		Str("test_case", testCaseID).
		Str("directory", directory).
		Msg("Log channel initialized")
}

// Append adds one record to the channel owned by testCaseID.
// A missing owner is rejected with a warning: entries are never attributed to
// whichever task happens to be running.
func (s *Store) Append(testCaseID, message string, level models.LogLevel, data ...interface{}) {
	if testCaseID == "" {
		s.logger.Warn().Str("message", message).Msg("Log entry without test case id rejected")
		return
	}
	if !level.Valid() {
		level = models.LogLevelInfo
	}

	var payload interface{}
	if len(data) == 1 {
		payload = data[0]
	} else if len(data) > 1 {
		payload = data
	}
	if err, ok := payload.(error); ok {
		payload = err.Error()
	}

	if s.isDebug(message) {
		s.logger.Debug().Str("test_case", testCaseID).Msg(message)
		return
	}

	s.echo(testCaseID, message, level)
	s.getOrCreate(testCaseID).append(s.record(testCaseID, message, level, payload, s.now()))
}

// Info appends an INFO record
func (s *Store) Info(testCaseID, message string, data ...interface{}) {
	s.Append(testCaseID, message, models.LogLevelInfo, data...)
}

// Warning appends a WARNING record
func (s *Store) Warning(testCaseID, message string, data ...interface{}) {
	s.Append(testCaseID, message, models.LogLevelWarning, data...)
}

// Error appends an ERROR record
func (s *Store) Error(testCaseID, message string, data ...interface{}) {
	s.Append(testCaseID, message, models.LogLevelError, data...)
}

// Success appends a SUCCESS record
func (s *Store) Success(testCaseID, message string, data ...interface{}) {
	s.Append(testCaseID, message, models.LogLevelSuccess, data...)
}

// Separator appends a SEPARATOR record
func (s *Store) Separator(testCaseID string) {
	s.Append(testCaseID, separatorText, models.LogLevelSeparator)
}

// Data appends a DATA record carrying a structured payload
func (s *Store) Data(testCaseID, message string, data interface{}) {
	s.Append(testCaseID, message, models.LogLevelData, data)
}

// Flush appends the closing banner (once per channel) and writes the channel to directory/logs.txt,
// or to customPath when given. It returns the written path, or "" when nothing
// could be written. It never panics or returns an error: it runs in cleanup paths.
func (s *Store) Flush(testCaseID, customPath string) string {
	path, err := s.flush(testCaseID, customPath)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("test_case", testCaseID).
			Msg("Log channel flush failed")
		return ""
	}
	return path
}

func (s *Store) flush(testCaseID, customPath string) (string, error) {
	ch := s.lookup(testCaseID)
	if ch == nil {
		return "", fmt.Errorf("no log channel for test case %q", testCaseID)
	}

	path := customPath
	if path == "" {
		if ch.directory == "" {
			return "", ErrNoDirectory
		}
		path = filepath.Join(ch.directory, LogFileName)
	}

	now := s.now()
	ch.finish(
		s.record(testCaseID, separatorText, models.LogLevelSeparator, nil, now),
		s.record(testCaseID, fmt.Sprintf("=== TEST CASE FINISHED: %s ===", testCaseID), models.LogLevelInfo, nil, now),
	)

	records := ch.snapshot()
	text := Format(testCaseID, ch.directory, now, records)

	if err := common.AtomicWriteFile(path, []byte(text)); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The JSON copy is best-effort and only written beside the default file
	if customPath == "" {
		doc := jsonDocument{
			TestCaseID:  testCaseID,
			Directory:   ch.directory,
			GeneratedAt: now,
			Records:     records,
		}
		jsonPath := filepath.Join(ch.directory, JSONFileName)
		if err := common.AtomicWriteJSON(jsonPath, doc); err != nil {
			s.logger.Warn().Err(err).Str("path", jsonPath).Msg("Failed to write JSON log copy")
		}
	}

	s.logger.Debug().
		Str("test_case", testCaseID).
		Str("path", path).
		Int("records", len(records)).
		Msg("Log channel flushed")

	return path, nil
}

// Clear deletes the channel. Safe to call any number of times.
func (s *Store) Clear(testCaseID string) {
	s.mu.Lock()
	delete(s.channels, testCaseID)
	s.mu.Unlock()
}

// Count returns the number of records held for testCaseID
func (s *Store) Count(testCaseID string) int {
	ch := s.lookup(testCaseID)
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.records)
}

// Snapshot returns a copy of the records held for testCaseID
func (s *Store) Snapshot(testCaseID string) []models.LogRecord {
	ch := s.lookup(testCaseID)
	if ch == nil {
		return nil
	}
	return ch.snapshot()
}

// Directory returns the output directory of a channel ("" for anonymous channels)
func (s *Store) Directory(testCaseID string) string {
	ch := s.lookup(testCaseID)
	if ch == nil {
		return ""
	}
	return ch.directory
}

// Active lists the ids of all live channels, sorted
func (s *Store) Active() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) lookup(testCaseID string) *channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[testCaseID]
}

// getOrCreate returns the channel for testCaseID, creating an anonymous one
// (no directory) when a write races ahead of Initialize.
func (s *Store) getOrCreate(testCaseID string) *channel {
	if ch := s.lookup(testCaseID); ch != nil {
		return ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[testCaseID]; ok {
		return ch
	}
	ch := &channel{testCaseID: testCaseID}
	s.channels[testCaseID] = ch
	s.logger.Debug().Str("test_case", testCaseID).Msg("Created anonymous log channel")
	return ch
}

func (s *Store) record(testCaseID, message string, level models.LogLevel, data interface{}, ts time.Time) models.LogRecord {
	return models.LogRecord{
		Timestamp:  ts,
		Level:      level,
		Message:    message,
		Data:       data,
		TestCaseID: testCaseID,
	}
}

func (s *Store) isDebug(message string) bool {
	return s.debugMarker != "" && strings.Contains(message, s.debugMarker)
}

func (s *Store) echo(testCaseID, message string, level models.LogLevel) {
	switch level {
	case models.LogLevelSeparator:
		return
	case models.LogLevelError:
		s.logger.Error().Str("test_case", testCaseID).Msg(message)
	case models.LogLevelWarning:
		s.logger.Warn().Str("test_case", testCaseID).Msg(message)
	default:
		s.logger.Info().Str("test_case", testCaseID).Str("level", string(level)).Msg(message)
	}
}
