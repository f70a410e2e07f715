// Package logging manages setup of the process-wide logger. We capture all
// levels in a log file but only echo the info, warn, error, and fatal levels
// to the terminal. Subprocess detail and stage chatter stay in the file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// DefaultLogDir is where server runs keep their log files.
const DefaultLogDir = "/var/log/stagehand"

// StdoutLogger is a logrus hook for routing Info, Warn, Error, and Fatal
// logs to the screen.
type StdoutLogger struct {
	colored bool
}

// Levels defines on which log levels this hook would trigger.
func (hook *StdoutLogger) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.InfoLevel,
		logrus.WarnLevel,
		logrus.ErrorLevel,
		logrus.FatalLevel,
	}
}

// Fire executes the hook for the given entry.
func (hook *StdoutLogger) Fire(entry *logrus.Entry) error {
	message := fmt.Sprintf("%s\n", entry.Message)
	output := os.Stdout
	if entry.Level != logrus.InfoLevel {
		output = os.Stderr
	}
	var writer *color.Color
	switch entry.Level {
	case logrus.WarnLevel:
		writer = color.New(color.FgYellow)
	case logrus.ErrorLevel, logrus.FatalLevel:
		writer = color.New(color.FgRed)
	default:
		writer = color.New(color.FgWhite)
	}
	if !hook.colored {
		writer.DisableColor()
	}
	writer.Fprintf(output, "%s", message)
	return nil
}

// needsFileLogging filters out, based on command line arguments, if we need
// to log to a file.
func needsFileLogging() bool {
	if len(os.Args) == 1 {
		return false
	}
	cmdline := strings.Join(os.Args, " ")
	if strings.Contains(cmdline, "version") {
		return false
	}
	if strings.Contains(cmdline, "help") {
		return false
	}
	return true
}

// SetupLogging sets up the logging for the application: everything goes to a
// timestamped file under DefaultLogDir at debug level, info and above are
// echoed to the terminal, colored when the terminal supports it.
func SetupLogging() {
	if !needsFileLogging() {
		return
	}
	logrus.SetLevel(logrus.DebugLevel)
	if err := os.MkdirAll(DefaultLogDir, 0o755); err != nil {
		logrus.Warnf("unable to setup logging: %v", err)
		return
	}
	fname := fmt.Sprintf("stagehand-cli-%s.log", time.Now().Format("2006-01-02-15:04:05.000"))
	logpath := filepath.Join(DefaultLogDir, fname)
	logfile, err := os.OpenFile(logpath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0400)
	if err != nil {
		logrus.Warnf("unable to setup logging: %v", err)
		return
	}
	logrus.SetOutput(logfile)
	logrus.AddHook(&StdoutLogger{colored: isatty.IsTerminal(os.Stdout.Fd())})
	logrus.Debugf("command line: %v", os.Args)
}
