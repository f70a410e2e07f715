package types

// ConfirmRequest identifies the terminal the confirmation came from.
type ConfirmRequest struct {
	TTY string `json:"tty"`
}

// MarkConfiguredRequest names stage endpoints whose configuration the client
// considers complete.
type MarkConfiguredRequest struct {
	EndpointNames []string `json:"endpoint_names"`
}

// SetVariantRequest switches the client variant for this run.
type SetVariantRequest struct {
	Variant Variant `json:"variant"`
}

// SetFreeOnlyRequest toggles installation from free-software components only.
type SetFreeOnlyRequest struct {
	Enable bool `json:"enable"`
}
