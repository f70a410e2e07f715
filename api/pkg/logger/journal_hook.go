package logger

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// JournalHook mirrors logrus entries to the systemd journal. Identifier, if
// set, becomes the SYSLOG_IDENTIFIER of every entry so journal consumers can
// follow a single server process.
type JournalHook struct {
	Identifier string
}

var _ logrus.Hook = (*JournalHook)(nil)

func (h *JournalHook) Fire(entry *logrus.Entry) error {
	vars := make(map[string]string, len(entry.Data)+1)
	for k, v := range entry.Data {
		vars[journalFieldName(k)] = fmt.Sprint(v)
	}
	if h.Identifier != "" {
		vars["SYSLOG_IDENTIFIER"] = h.Identifier
	}
	return journal.Send(entry.Message, journalPriority(entry.Level), vars)
}

func (h *JournalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func journalPriority(level logrus.Level) journal.Priority {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return journal.PriDebug
	case logrus.InfoLevel:
		return journal.PriInfo
	case logrus.WarnLevel:
		return journal.PriWarning
	case logrus.ErrorLevel:
		return journal.PriErr
	case logrus.FatalLevel:
		return journal.PriCrit
	case logrus.PanicLevel:
		return journal.PriEmerg
	default:
		return journal.PriInfo
	}
}

// Journal field names are limited to uppercase letters, digits and
// underscores, and must not start with an underscore.
func journalFieldName(key string) string {
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		default:
			return '_'
		}
	}, key)
	return strings.TrimPrefix(key, "_")
}
