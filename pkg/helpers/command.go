package helpers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// RunCommandWithOptions runs the provided command with the options specified.
func (h *Helpers) RunCommandWithOptions(opts RunCommandOptions, bin string, args ...string) error {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logrus.Debugf("running command: %s %v", bin, args)

	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = stdout
	if opts.Stdout != nil {
		cmd.Stdout = io.MultiWriter(opts.Stdout, stdout)
	}
	cmd.Stderr = stderr
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(opts.Stderr, stderr)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	cmdEnv := cmd.Environ()
	for k, v := range opts.Env {
		cmdEnv = append(cmdEnv, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = cmdEnv

	if err := cmd.Run(); err != nil {
		logrus.Debugf("failed to run command:")
		logrus.Debugf("stdout: %s", stdout.String())
		logrus.Debugf("stderr: %s", stderr.String())
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ctx.Err(), err)
		}
		if stderr.String() != "" {
			return fmt.Errorf("%w: %s", err, stderr.String())
		}
		return err
	}
	if opts.LogOnSuccess {
		logrus.Debugf("stdout: %s", stdout.String())
		logrus.Debugf("stderr: %s", stderr.String())
	}
	return nil
}

// RunCommand spawns a command and captures its output. Outputs are logged
// using the logrus package and stdout is returned as a string.
func (h *Helpers) RunCommand(ctx context.Context, bin string, args ...string) (string, error) {
	stdout := bytes.NewBuffer(nil)
	opts := RunCommandOptions{Context: ctx, Stdout: stdout}
	if err := h.RunCommandWithOptions(opts, bin, args...); err != nil {
		return "", err
	}
	return stdout.String(), nil
}
