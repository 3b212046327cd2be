package common

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetCrashHandler() {
	crashMu.Lock()
	defer crashMu.Unlock()
	crashLogDir = "./logs"
	crashContext = nil
}

func TestWriteCrashFileIncludesInFlightWork(t *testing.T) {
	dir := t.TempDir()
	InstallCrashHandler(dir)
	SetCrashContext(func() string { return "log channel: TC-001" })
	t.Cleanup(resetCrashHandler)

	path := WriteCrashFile("boom", GetStackTrace())
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(data)
	assert.Contains(t, report, "=== PAYRUN CRASH REPORT ===")
	assert.Contains(t, report, "boom")
	assert.Contains(t, report, "log channel: TC-001")
	assert.Contains(t, report, "=== END CRASH REPORT ===")
}

func TestWriteCrashFileSurvivesPanickingContext(t *testing.T) {
	dir := t.TempDir()
	InstallCrashHandler(dir)
	SetCrashContext(func() string { panic("registry gone") })
	t.Cleanup(resetCrashHandler)

	path := WriteCrashFile("boom", "")
	require.NotEmpty(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "(unavailable: registry gone)")
}
