package types

// ErrorReportKind classifies what failed.
type ErrorReportKind string

const (
	ErrorReportKindInstallFail       ErrorReportKind = "InstallFail"
	ErrorReportKindServerRequestFail ErrorReportKind = "ServerRequestFail"
	ErrorReportKindNetworkFail       ErrorReportKind = "NetworkFail"
	ErrorReportKindUnknown           ErrorReportKind = "Unknown"
)

// ErrorReportState tracks how far report collection has gotten.
type ErrorReportState string

const (
	ErrorReportStateIncomplete ErrorReportState = "Incomplete"
	ErrorReportStateDone       ErrorReportState = "Done"
)

// ErrorReportRef is the client-visible handle for a persisted error report.
// Clients pass Ref back to GET /errors/{ref} to retrieve the full report.
type ErrorReportRef struct {
	State ErrorReportState `json:"state"`
	Ref   string           `json:"ref"`
	Kind  ErrorReportKind  `json:"kind"`
	Stage string           `json:"stage,omitempty"`
}
