package installeruser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/statestore"
)

type fixture struct {
	store       *statestore.Store
	shadowPath  string
	logPath     string
	chpasswdLog []string
	chpasswdErr error
	keyCount    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	store, err := statestore.New(filepath.Join(dir, "state"))
	require.NoError(t, err)

	return &fixture{
		store:      store,
		shadowPath: filepath.Join(dir, "shadow"),
		logPath:    filepath.Join(dir, "cloud-init-output.log"),
	}
}

func (f *fixture) writeShadow(t *testing.T, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.shadowPath, []byte(contents), 0600))
}

func (f *fixture) writeLog(t *testing.T, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.logPath, []byte(contents), 0644))
}

func (f *fixture) provisioner(opts ...Option) *Provisioner {
	base := []Option{
		WithShadowPath(f.shadowPath),
		WithOutputLogPath(f.logPath),
		WithRandPassword(func() string { return "generated-pw" }),
		WithChpasswd(func(ctx context.Context, username, password string) error {
			f.chpasswdLog = append(f.chpasswdLog, username+":"+password)
			return f.chpasswdErr
		}),
		WithUserKeyCount(func(string) int { return f.keyCount }),
	}
	return New(f.store, append(base, opts...)...)
}

func TestProvisionNoDefaultUser(t *testing.T) {
	f := newFixture(t)
	p := f.provisioner()

	cred, err := p.Provision(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, types.PasswordKindNone, cred.PasswordKind)
	assert.Empty(t, cred.Username)
	assert.False(t, f.store.Exists(statestore.InstallerUserFile))
}

func TestProvisionReusesStamp(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.WriteSecret(statestore.InstallerUserFile, "ubuntu:hunter2"))
	p := f.provisioner()

	cred, err := p.Provision(context.Background(), "ubuntu")
	require.NoError(t, err)

	assert.Equal(t, "ubuntu", cred.Username)
	assert.Equal(t, "hunter2", cred.Password)
	assert.Equal(t, types.PasswordKindKnown, cred.PasswordKind)
	assert.Empty(t, f.chpasswdLog)
}

func TestProvisionDryRun(t *testing.T) {
	f := newFixture(t)
	p := f.provisioner(
		WithDryRun(true),
		WithCurrentUser(func() string { return "dev" }),
	)

	cred, err := p.Provision(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "dev", cred.Username)
	assert.Equal(t, "generated-pw", cred.Password)
	assert.Equal(t, types.PasswordKindKnown, cred.PasswordKind)

	stamp, err := f.store.ReadText(statestore.InstallerUserFile)
	require.NoError(t, err)
	assert.Equal(t, "dev:generated-pw", stamp)
}

func TestProvisionPasswordRecoveredFromLog(t *testing.T) {
	f := newFixture(t)
	f.writeShadow(t, "root:*:19000::\nubuntu:$6$salty$hash:19000::\n")
	f.writeLog(t, "ci-info: something\ninstaller:logged-pw\nmore output\n")
	p := f.provisioner()

	cred, err := p.Provision(context.Background(), "ubuntu")
	require.NoError(t, err)

	assert.Equal(t, types.PasswordKindKnown, cred.PasswordKind)
	assert.Equal(t, "logged-pw", cred.Password)
	assert.True(t, f.store.Exists(statestore.InstallerUserFile))
	assert.Empty(t, f.chpasswdLog)
}

func TestProvisionPasswordUnknown(t *testing.T) {
	f := newFixture(t)
	f.writeShadow(t, "ubuntu:$6$salty$hash:19000::\n")
	f.writeLog(t, "no marker here\n")
	p := f.provisioner()

	cred, err := p.Provision(context.Background(), "ubuntu")
	require.NoError(t, err)

	assert.Equal(t, types.PasswordKindUnknown, cred.PasswordKind)
	assert.Empty(t, cred.Password)
	assert.False(t, f.store.Exists(statestore.InstallerUserFile))
}

func TestProvisionSetsPassword(t *testing.T) {
	f := newFixture(t)
	f.writeShadow(t, "ubuntu:!:19000::\n")
	p := f.provisioner()

	cred, err := p.Provision(context.Background(), "ubuntu")
	require.NoError(t, err)

	assert.Equal(t, types.PasswordKindKnown, cred.PasswordKind)
	assert.Equal(t, "generated-pw", cred.Password)
	assert.Equal(t, []string{"ubuntu:generated-pw"}, f.chpasswdLog)

	// A second run reuses the stamp and never changes the password again.
	cred2, err := p.Provision(context.Background(), "ubuntu")
	require.NoError(t, err)
	assert.Equal(t, cred, cred2)
	assert.Len(t, f.chpasswdLog, 1)
}

func TestProvisionChpasswdFailure(t *testing.T) {
	f := newFixture(t)
	f.writeShadow(t, "ubuntu:!:19000::\n")
	f.chpasswdErr = errors.New("chpasswd: pam failure")
	p := f.provisioner()

	cred, err := p.Provision(context.Background(), "ubuntu")
	require.NoError(t, err)

	assert.Equal(t, types.PasswordKindNone, cred.PasswordKind)
	assert.False(t, f.store.Exists(statestore.InstallerUserFile))
}

func TestProvisionKeyAccessNeedsNoPassword(t *testing.T) {
	f := newFixture(t)
	f.writeShadow(t, "ubuntu:!:19000::\n")
	f.keyCount = 2
	p := f.provisioner()

	cred, err := p.Provision(context.Background(), "ubuntu")
	require.NoError(t, err)

	assert.Equal(t, types.PasswordKindNone, cred.PasswordKind)
	assert.Empty(t, f.chpasswdLog)
	assert.False(t, f.store.Exists(statestore.InstallerUserFile))
}

func TestRandPassword(t *testing.T) {
	p1 := randPassword()
	p2 := randPassword()

	assert.Len(t, p1, passwordLength)
	assert.NotEqual(t, p1, p2)
}
