package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournalFieldName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stage", "STAGE"},
		{"error-report", "ERROR_REPORT"},
		{"_internal", "INTERNAL"},
		{"already_OK_9", "ALREADY_OK_9"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, journalFieldName(tt.in))
		})
	}
}
