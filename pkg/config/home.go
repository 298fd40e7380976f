package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

const envHome = "STEPBIND_HOME"

// RunStampFormat names per-run log files and report directories.
const RunStampFormat = "2006-01-02_15-04-05"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the directory stepbind keeps logs and saved reports in:
// $STEPBIND_HOME, else <prefix> when the binary lives in <prefix>/bin, else
// the user cache directory, else .stepbind in the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetLogDir returns <home>/logs.
func GetLogDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetReportsDir returns <home>/reports.
func GetReportsDir() string {
	return filepath.Join(GetHome(), "reports")
}

// RunLogPath returns a log file path under GetLogDir stamped with t.
func RunLogPath(t time.Time) string {
	return filepath.Join(GetLogDir(), "stepbind-"+t.Format(RunStampFormat)+".log")
}

// RunReportDir returns a report directory under GetReportsDir stamped with t.
func RunReportDir(t time.Time) string {
	return filepath.Join(GetReportsDir(), t.Format(RunStampFormat))
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "stepbind")
	}
	return ".stepbind"
}

// ResetHome clears the cached home directory. Tests use it after changing
// $STEPBIND_HOME.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
