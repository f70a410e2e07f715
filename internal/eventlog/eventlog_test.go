package eventlog

import (
	"fmt"
	"os"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentRecord struct {
	message  string
	priority journal.Priority
	vars     map[string]string
}

func newCaptureReporter(t *testing.T, enabled bool) (*Reporter, *[]sentRecord) {
	t.Helper()

	var records []sentRecord
	r := NewReporter(NewSyslogIDs(), WithSendFunc(
		func() bool { return enabled },
		func(message string, priority journal.Priority, vars map[string]string) error {
			records = append(records, sentRecord{message: message, priority: priority, vars: vars})
			return nil
		},
	))
	return r, &records
}

func TestNewSyslogIDs(t *testing.T) {
	ids := NewSyslogIDs()
	pid := os.Getpid()

	assert.Equal(t, fmt.Sprintf("stagehand_echo.%d", pid), ids.Echo)
	assert.Equal(t, fmt.Sprintf("stagehand_event.%d", pid), ids.Event)
	assert.Equal(t, fmt.Sprintf("stagehand_log.%d", pid), ids.Log)
}

func TestReporterEmitsStartAndFinish(t *testing.T) {
	r, records := newCaptureReporter(t, true)

	r.ReportStart("network", "applying config")
	r.ReportFinish("network", "")

	require.Len(t, *records, 2)

	start := (*records)[0]
	assert.Equal(t, "network: applying config", start.message)
	assert.Equal(t, journal.PriInfo, start.priority)
	assert.Equal(t, "start", start.vars["STAGEHAND_EVENT_TYPE"])
	assert.Equal(t, "network", start.vars["STAGEHAND_CONTEXT_NAME"])
	assert.Equal(t, r.IDs().Event, start.vars["SYSLOG_IDENTIFIER"])

	finish := (*records)[1]
	assert.Equal(t, "network", finish.message)
	assert.Equal(t, "finish", finish.vars["STAGEHAND_EVENT_TYPE"])
}

func TestReporterIndentsNestedOperations(t *testing.T) {
	r, records := newCaptureReporter(t, true)

	r.ReportStart("install", "")
	r.ReportStart("install/write", "copying system")
	r.ReportStart("install/write/rsync", "")

	require.Len(t, *records, 3)
	assert.Equal(t, "install", (*records)[0].message)
	assert.Equal(t, "  install/write: copying system", (*records)[1].message)
	assert.Equal(t, "    install/write/rsync", (*records)[2].message)
}

func TestReporterNoopWhenJournalUnavailable(t *testing.T) {
	r, records := newCaptureReporter(t, false)

	r.ReportStart("identity", "")
	r.ReportFinish("identity", "done")

	assert.Empty(t, *records)
}
