package logchannel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/payrun/internal/models"
)

const headerRule = "================================================================================"

type jsonDocument struct {
	TestCaseID  string             `json:"test_case_id"`
	Directory   string             `json:"directory"`
	GeneratedAt time.Time          `json:"generated_at"`
	Records     []models.LogRecord `json:"records"`
}

// Format renders a channel as the logs.txt text: a header block followed by one
// "[HH:MM:SS] [LEVEL] message" line per record, each optionally followed by a
// pretty-printed JSON data block.
func Format(testCaseID, directory string, generated time.Time, records []models.LogRecord) string {
	var sb strings.Builder

	if directory == "" {
		directory = "(none)"
	}

	sb.WriteString(headerRule + "\n")
	sb.WriteString(fmt.Sprintf("TEST EXECUTION LOG - %s\n", testCaseID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n", generated.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Directory: %s\n", directory))
	sb.WriteString(headerRule + "\n\n")

	for _, record := range records {
		sb.WriteString(FormatRecord(record))
	}

	return sb.String()
}

// FormatRecord renders one record including its trailing newline
func FormatRecord(record models.LogRecord) string {
	line := fmt.Sprintf("[%s] [%s] %s\n", record.Timestamp.Format("15:04:05"), record.Level, record.Message)
	if record.Data == nil {
		return line
	}
	return line + formatData(record.Data) + "\n"
}

func formatData(data interface{}) string {
	if s, ok := data.(string); ok {
		return s
	}
	if err, ok := data.(error); ok {
		return err.Error()
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", data)
	}
	return string(out)
}
