// -----------------------------------------------------------------------
// Crash Protection - Fatal error handling and crash file generation
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	crashMu sync.RWMutex
	// crashLogDir is where crash files are written; set by InstallCrashHandler
	crashLogDir = "./logs"
	// crashContext describes in-flight work (test cases, recording sessions)
	crashContext func() string
)

// InstallCrashHandler sets the crash file directory and creates it
func InstallCrashHandler(logDir string) {
	crashMu.Lock()
	if logDir != "" {
		crashLogDir = logDir
	}
	dir := crashLogDir
	crashMu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create log directory: %v\n", err)
	}
}

// SetCrashContext registers a function whose output is added to crash reports.
// It must not block: it runs while the process is going down.
func SetCrashContext(fn func() string) {
	crashMu.Lock()
	defer crashMu.Unlock()
	crashContext = fn
}

// WriteCrashFile writes a crash report and returns its path ("" when only
// stderr could be written)
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	crashMu.RLock()
	dir := crashLogDir
	describe := crashContext
	crashMu.RUnlock()

	now := time.Now()
	crashPath := filepath.Join(dir, fmt.Sprintf("crash-%s.log", now.Format("2006-01-02T15-04-05")))

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== PAYRUN CRASH REPORT ===\n")
	fmt.Fprintf(&report, "Time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n\n", GetFullVersion())

	fmt.Fprintf(&report, "=== PANIC VALUE ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK TRACE ===\n%s\n", stackTrace)

	if describe != nil {
		fmt.Fprintf(&report, "=== IN-FLIGHT WORK ===\n%s\n", safeDescribe(describe))
	}

	fmt.Fprintf(&report, "=== ALL GOROUTINES ===\n%s\n", GetAllGoroutineStacks())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fmt.Fprintf(&report, "=== SYSTEM INFO ===\n")
	fmt.Fprintf(&report, "NumGoroutine: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&report, "SafeGo spawned: %d\n", GetGoroutineCount())
	fmt.Fprintf(&report, "GOOS/GOARCH: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&report, "Alloc: %d MB\n", memStats.Alloc/1024/1024)
	fmt.Fprintf(&report, "Sys: %d MB\n\n", memStats.Sys/1024/1024)
	fmt.Fprintf(&report, "=== END CRASH REPORT ===\n")

	if err := os.MkdirAll(dir, 0755); err == nil {
		err = os.WriteFile(crashPath, report.Bytes(), 0644)
		if err == nil {
			fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", crashPath)
			fmt.Fprintf(os.Stderr, "Panic: %v\n", panicVal)
			return crashPath
		}
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n", err)
	}

	// Last resort: the report goes to stderr
	fmt.Fprintf(os.Stderr, "%s", report.String())
	return ""
}

func safeDescribe(fn func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("(unavailable: %v)", r)
		}
	}()
	return fn()
}

// GetAllGoroutineStacks returns stack traces for all goroutines
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 64*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// GetStackTrace returns the current goroutine's stack trace
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile writes a crash file for a panic and exits 1.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, GetStackTrace())
		os.Exit(1)
	}
}
