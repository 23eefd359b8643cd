package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// setupLog configures the global logger. RUSTCACHE_LOG selects the level;
// when RUSTCACHE_LOGFILE is set, output goes there instead of stderr. The
// returned closer flushes the log file, if any.
func setupLog() (func() error, error) {
	log.SetReportTimestamp(false)

	if lvl := os.Getenv("RUSTCACHE_LOG"); lvl != "" {
		l, err := log.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("invalid RUSTCACHE_LOG level: %w", err)
		}
		log.SetLevel(l)
	}

	if logFile := os.Getenv("RUSTCACHE_LOGFILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		log.SetOutput(f)
		log.SetReportTimestamp(true)
		return f.Close, nil
	}

	return func() error { return nil }, nil
}
