// Package sshkeys surfaces the key material a live session exposes over SSH:
// the installer user's authorized keys and the sshd host keys. Scans are
// best-effort; a missing or unreadable file yields no fingerprints rather
// than an error, since SSH info is advisory.
package sshkeys

import (
	"os/user"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/pkg/helpers"
)

// DefaultHostKeyGlob matches the public halves of the sshd host keys.
const DefaultHostKeyGlob = "/etc/ssh/ssh_host_*_key.pub"

type Scanner struct {
	logger      logrus.FieldLogger
	hostKeyGlob string
	homeDir     func(username string) (string, error)
	readFile    func(path string) ([]byte, error)
}

type Option func(*Scanner)

// WithLogger sets the logger used for scan diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scanner) {
		s.logger = log
	}
}

// WithHostKeyGlob overrides the host key pattern.
func WithHostKeyGlob(glob string) Option {
	return func(s *Scanner) {
		s.hostKeyGlob = glob
	}
}

// WithHomeDir overrides home directory resolution.
func WithHomeDir(homeDir func(username string) (string, error)) Option {
	return func(s *Scanner) {
		s.homeDir = homeDir
	}
}

// NewScanner returns a scanner over the running system's key material.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		logger:      logger.NewDiscardLogger(),
		hostKeyGlob: DefaultHostKeyGlob,
		homeDir: func(username string) (string, error) {
			u, err := user.Lookup(username)
			if err != nil {
				return "", err
			}
			return u.HomeDir, nil
		},
		readFile: helpers.ReadFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UserKeyFingerprints returns the fingerprints of username's authorized
// keys.
func (s *Scanner) UserKeyFingerprints(username string) []types.SSHFingerprint {
	home, err := s.homeDir(username)
	if err != nil {
		s.logger.WithError(err).Debugf("look up home directory for %s", username)
		return nil
	}

	contents, err := s.readFile(filepath.Join(home, ".ssh", "authorized_keys"))
	if err != nil {
		return nil
	}
	return s.parseKeys(contents)
}

// HostKeyFingerprints returns the fingerprints of the sshd host keys.
func (s *Scanner) HostKeyFingerprints() []types.SSHFingerprint {
	paths, err := filepath.Glob(s.hostKeyGlob)
	if err != nil {
		s.logger.WithError(err).Debug("glob host keys")
		return nil
	}

	var fingerprints []types.SSHFingerprint
	for _, path := range paths {
		contents, err := s.readFile(path)
		if err != nil {
			s.logger.WithError(err).Debugf("read host key %s", path)
			continue
		}
		fingerprints = append(fingerprints, s.parseKeys(contents)...)
	}
	return fingerprints
}

func (s *Scanner) parseKeys(contents []byte) []types.SSHFingerprint {
	var fingerprints []types.SSHFingerprint
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			s.logger.WithError(err).Debug("skip unparseable public key line")
			continue
		}
		fingerprints = append(fingerprints, types.SSHFingerprint{
			Keytype:     key.Type(),
			Fingerprint: ssh.FingerprintSHA256(key),
		})
	}
	return fingerprints
}
