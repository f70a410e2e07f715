// Package installeruser bootstraps the credential for the live-session
// account exactly once per install. The outcome is one of three kinds: a
// password this server knows (and can show to clients), a password that
// exists but is not recoverable, or no password at all.
package installeruser

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/cloudinit"
	"github.com/provisionhq/stagehand/internal/sshkeys"
	"github.com/provisionhq/stagehand/internal/statestore"
	"github.com/provisionhq/stagehand/pkg/helpers"
)

// logMarker prefixes the one-time password line an earlier cloud-init
// bootstrap may have written to its output log.
const logMarker = "installer:"

const (
	passwordLength  = 20
	passwordCharset = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ0123456789"
)

// Credential is the provisioning outcome surfaced through the SSH info API.
type Credential struct {
	Username     string
	Password     string
	PasswordKind types.PasswordKind
}

// Provisioner resolves the installer user credential. It persists a
// `username:password` stamp so restarts reuse the same credential and never
// change the account password twice.
type Provisioner struct {
	logger logrus.FieldLogger
	store  *statestore.Store
	dryRun bool

	shadowPath    string
	outputLogPath string
	currentUser   func() string
	readFile      func(path string) ([]byte, error)
	chpasswd      func(ctx context.Context, username, password string) error
	randPassword  func() string
	userKeyCount  func(username string) int
}

type Option func(*Provisioner)

// WithLogger sets the logger used for provisioning diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Provisioner) {
		p.logger = log
	}
}

// WithDryRun makes the provisioner synthesize a credential for the invoking
// user instead of touching system accounts.
func WithDryRun(dryRun bool) Option {
	return func(p *Provisioner) {
		p.dryRun = dryRun
	}
}

// WithShadowPath overrides the shadow file location.
func WithShadowPath(path string) Option {
	return func(p *Provisioner) {
		p.shadowPath = path
	}
}

// WithOutputLogPath overrides the cloud-init output log location.
func WithOutputLogPath(path string) Option {
	return func(p *Provisioner) {
		p.outputLogPath = path
	}
}

// WithCurrentUser overrides how the invoking user is determined in dry runs.
func WithCurrentUser(currentUser func() string) Option {
	return func(p *Provisioner) {
		p.currentUser = currentUser
	}
}

// WithChpasswd overrides the password-change invocation.
func WithChpasswd(chpasswd func(ctx context.Context, username, password string) error) Option {
	return func(p *Provisioner) {
		p.chpasswd = chpasswd
	}
}

// WithRandPassword overrides password generation.
func WithRandPassword(randPassword func() string) Option {
	return func(p *Provisioner) {
		p.randPassword = randPassword
	}
}

// WithUserKeyCount overrides how authorized keys are counted.
func WithUserKeyCount(userKeyCount func(username string) int) Option {
	return func(p *Provisioner) {
		p.userKeyCount = userKeyCount
	}
}

// New returns a provisioner persisting its stamp in store.
func New(store *statestore.Store, opts ...Option) *Provisioner {
	p := &Provisioner{
		logger:        logger.NewDiscardLogger(),
		store:         store,
		shadowPath:    "/etc/shadow",
		outputLogPath: cloudinit.OutputLogPath,
		currentUser:   func() string { return os.Getenv("USER") },
		readFile:      helpers.ReadFile,
		chpasswd:      runChpasswd,
		randPassword:  randPassword,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.userKeyCount == nil {
		scanner := sshkeys.NewScanner(sshkeys.WithLogger(p.logger))
		p.userKeyCount = func(username string) int {
			return len(scanner.UserKeyFingerprints(username))
		}
	}
	return p
}

// Provision resolves the credential for username. An empty username means no
// default user exists (or cloud-init is disabled) and yields kind none.
// Calling Provision again after a stamp was written returns the identical
// credential without a second password change.
func (p *Provisioner) Provision(ctx context.Context, username string) (*Credential, error) {
	if username == "" && !p.dryRun {
		return &Credential{PasswordKind: types.PasswordKindNone}, nil
	}

	if p.store.Exists(statestore.InstallerUserFile) {
		contents, err := p.store.ReadText(statestore.InstallerUserFile)
		if err != nil {
			return nil, fmt.Errorf("read credential stamp: %w", err)
		}
		name, passwd, ok := strings.Cut(contents, ":")
		if !ok {
			return nil, fmt.Errorf("malformed credential stamp %q", statestore.InstallerUserFile)
		}
		return &Credential{Username: name, Password: passwd, PasswordKind: types.PasswordKindKnown}, nil
	}

	if p.dryRun {
		return p.persist(p.currentUser(), p.randPassword())
	}

	hasPassword, err := p.userHasPassword(username)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", p.shadowPath, err)
	}

	if hasPassword {
		// An earlier bootstrap may have logged the one-time password it
		// assigned.
		if passwd := p.passwordFromLog(); passwd != "" {
			return p.persist(username, passwd)
		}
		return &Credential{Username: username, PasswordKind: types.PasswordKindUnknown}, nil
	}

	if p.userKeyCount(username) == 0 {
		passwd := p.randPassword()
		if err := p.chpasswd(ctx, username, passwd); err != nil {
			p.logger.WithError(err).Info("setting installer password failed")
			return &Credential{Username: username, PasswordKind: types.PasswordKindNone}, nil
		}
		return p.persist(username, passwd)
	}

	// Key-based access already works; no password needed.
	return &Credential{Username: username, PasswordKind: types.PasswordKindNone}, nil
}

func (p *Provisioner) persist(username, passwd string) (*Credential, error) {
	if err := p.store.WriteSecret(statestore.InstallerUserFile, username+":"+passwd); err != nil {
		return nil, fmt.Errorf("persist credential stamp: %w", err)
	}
	return &Credential{Username: username, Password: passwd, PasswordKind: types.PasswordKindKnown}, nil
}

func (p *Provisioner) userHasPassword(username string) (bool, error) {
	contents, err := p.readFile(p.shadowPath)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(contents), "\n") {
		if strings.HasPrefix(line, username+":$") {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provisioner) passwordFromLog() string {
	contents, err := p.readFile(p.outputLogPath)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(contents), "\n") {
		if strings.HasPrefix(line, logMarker) {
			return strings.TrimSpace(strings.TrimPrefix(line, logMarker))
		}
	}
	return ""
}

func runChpasswd(ctx context.Context, username, password string) error {
	return helpers.RunCommandWithOptions(helpers.RunCommandOptions{
		Context: ctx,
		Stdin:   strings.NewReader(username + ":" + password + "\n"),
	}, "chpasswd")
}

func randPassword() string {
	b := make([]byte, passwordLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = passwordCharset[int(b[i])%len(passwordCharset)]
	}
	return string(b)
}
