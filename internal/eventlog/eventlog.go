// Package eventlog pushes stage progress events to the system journal so
// that text consoles and log followers can replay install progress. Records
// are tagged with per-process syslog identifiers, which the status API hands
// to clients so they can filter the journal down to this run.
package eventlog

import (
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
)

// EventType distinguishes the two records emitted per operation.
type EventType string

const (
	EventStart  EventType = "start"
	EventFinish EventType = "finish"
)

// SyslogIDs are the per-process journal identifiers for one server run.
type SyslogIDs struct {
	// Echo tags raw command output echoed to the journal.
	Echo string
	// Event tags the start/finish progress records.
	Event string
	// Log tags the server's own log stream.
	Log string
}

// NewSyslogIDs derives the identifiers from the current process id.
func NewSyslogIDs() SyslogIDs {
	pid := os.Getpid()
	return SyslogIDs{
		Echo:  fmt.Sprintf("stagehand_echo.%d", pid),
		Event: fmt.Sprintf("stagehand_event.%d", pid),
		Log:   fmt.Sprintf("stagehand_log.%d", pid),
	}
}

// Reporter emits start/finish events for named operations. Nested operation
// names use "/" separators and render indented, so a journal follower sees a
// tree of progress lines.
type Reporter struct {
	logger  logrus.FieldLogger
	ids     SyslogIDs
	enabled func() bool
	send    func(message string, priority journal.Priority, vars map[string]string) error
}

type Option func(*Reporter)

// WithLogger sets the logger used for send failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Reporter) {
		r.logger = log
	}
}

// WithSendFunc overrides journal delivery.
func WithSendFunc(enabled func() bool, send func(message string, priority journal.Priority, vars map[string]string) error) Option {
	return func(r *Reporter) {
		r.enabled = enabled
		r.send = send
	}
}

// NewReporter returns a Reporter tagging events with ids.
func NewReporter(ids SyslogIDs, opts ...Option) *Reporter {
	r := &Reporter{
		logger:  logger.NewDiscardLogger(),
		ids:     ids,
		enabled: journal.Enabled,
		send:    journal.Send,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IDs returns the identifiers this reporter tags events with.
func (r *Reporter) IDs() SyslogIDs {
	return r.ids
}

// ReportStart emits a start event for the named operation.
func (r *Reporter) ReportStart(name string, description string) {
	r.push(EventStart, name, description)
}

// ReportFinish emits a finish event for the named operation.
func (r *Reporter) ReportFinish(name string, description string) {
	r.push(EventFinish, name, description)
}

func (r *Reporter) push(typ EventType, name string, description string) {
	if !r.enabled() {
		return
	}

	msg := name
	if description != "" {
		msg += ": " + description
	}
	msg = strings.Repeat("  ", strings.Count(name, "/")) + msg

	err := r.send(msg, journal.PriInfo, map[string]string{
		"SYSLOG_IDENTIFIER":      r.ids.Event,
		"STAGEHAND_EVENT_TYPE":   string(typ),
		"STAGEHAND_CONTEXT_NAME": name,
	})
	if err != nil {
		r.logger.WithError(err).Debugf("push %s event for %s to journal", typ, name)
	}
}
