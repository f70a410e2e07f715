package types

// PasswordKind describes what the server knows about the installer user's
// password.
type PasswordKind string

const (
	// PasswordKindNone means no password exists and none will be created.
	PasswordKindNone PasswordKind = "none"
	// PasswordKindUnknown means a password exists but its cleartext is not
	// known to the server.
	PasswordKindUnknown PasswordKind = "unknown"
	// PasswordKindKnown means the cleartext password is available.
	PasswordKindKnown PasswordKind = "known"
)

// SSHFingerprint is one authorized key of the live session user.
type SSHFingerprint struct {
	Keytype     string `json:"keytype"`
	Fingerprint string `json:"fingerprint"`
}

// SSHInfo describes how a client can reach the live session over SSH.
type SSHInfo struct {
	Username                  string           `json:"username"`
	PasswordKind              PasswordKind     `json:"password_kind"`
	Password                  string           `json:"password,omitempty"`
	AuthorizedKeyFingerprints []SSHFingerprint `json:"authorized_key_fingerprints"`
	IPs                       []string         `json:"ips"`
	HostKeyFingerprints       []SSHFingerprint `json:"host_key_fingerprints"`
}
