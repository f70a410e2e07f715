package types

import "fmt"

// ApplicationStatus is the payload served by GET /meta/status. CloudInitOK
// and Interactive are nil until the corresponding startup step has run.
type ApplicationStatus struct {
	State         ApplicationState `json:"state"`
	ConfirmingTTY string           `json:"confirming_tty"`
	Error         *ErrorReportRef  `json:"error,omitempty"`
	CloudInitOK   *bool            `json:"cloud_init_ok,omitempty"`
	Interactive   *bool            `json:"interactive,omitempty"`
	EchoSyslogID  string           `json:"echo_syslog_id"`
	LogSyslogID   string           `json:"log_syslog_id"`
	EventSyslogID string           `json:"event_syslog_id"`
}

// Variant selects which flavor of system the client is installing.
type Variant string

const (
	VariantServer  Variant = "server"
	VariantDesktop Variant = "desktop"
)

// SupportedVariants lists the variants this server accepts.
var SupportedVariants = []Variant{VariantServer, VariantDesktop}

// ValidateVariant rejects variants this server does not support.
func ValidateVariant(variant Variant) error {
	for _, known := range SupportedVariants {
		if variant == known {
			return nil
		}
	}
	return fmt.Errorf("unrecognized client variant: %s", variant)
}
