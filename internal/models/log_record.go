package models

import "time"

// LogLevel is the severity/kind tag of a test case log record
type LogLevel string

const (
	LogLevelInfo      LogLevel = "INFO"
	LogLevelWarning   LogLevel = "WARNING"
	LogLevelError     LogLevel = "ERROR"
	LogLevelSuccess   LogLevel = "SUCCESS"
	LogLevelSeparator LogLevel = "SEPARATOR"
	LogLevelData      LogLevel = "DATA"
)

// Valid reports whether l is one of the known levels
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelSuccess, LogLevelSeparator, LogLevelData:
		return true
	}
	return false
}

// LogRecord is one immutable entry of a test case log channel
type LogRecord struct {
	Timestamp  time.Time   `json:"timestamp"`
	Level      LogLevel    `json:"level"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	TestCaseID string      `json:"test_case_id"`
}
