package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/pkg/versions"
)

// NewLogger returns the server logger. It writes debug-level output to a
// timestamped file under logDir and mirrors entries to the system journal
// under identifier when one is running.
func NewLogger(logDir string, identifier string) (*logrus.Logger, error) {
	fname := fmt.Sprintf("stagehand-%s.log", time.Now().Format("20060102150405.000"))
	logpath := filepath.Join(logDir, fname)
	logfile, err := os.OpenFile(logpath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0400)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := logrus.New()
	// Debug by default to capture stage and subprocess detail.
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(logfile)

	if journal.Enabled() {
		logger.AddHook(&JournalHook{Identifier: identifier})
	}

	logger.Infof("version: stagehand=%s", versions.Version)
	logger.Infof("command line arguments: %v", os.Args)

	return logger, nil
}

func NewDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
