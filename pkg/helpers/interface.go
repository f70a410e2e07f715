package helpers

import (
	"context"
	"io"
	"os"
)

var h HelpersInterface

type Helpers struct{}

var _ HelpersInterface = (*Helpers)(nil)

func init() {
	Set(&Helpers{})
}

func Set(_h HelpersInterface) {
	h = _h
}

// HelpersInterface wraps subprocess execution and host-filesystem access so
// dry runs can intercept both.
type HelpersInterface interface {
	RunCommandWithOptions(opts RunCommandOptions, bin string, args ...string) error
	RunCommand(ctx context.Context, bin string, args ...string) (string, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadFile(path string) ([]byte, error)
	MkdirAll(path string, perm os.FileMode) error
}

type RunCommandOptions struct {
	// Context bounds the command; the process is killed when it expires.
	Context context.Context
	// Stdout is an additional io.Writer to write the stdout of the command to.
	Stdout io.Writer
	// Stderr is an additional io.Writer to write the stderr of the command to.
	Stderr io.Writer
	// Env is a map of additional environment variables to set for the command.
	Env map[string]string
	// Stdin is the standard input to be used when running the command.
	Stdin io.Reader
	// LogOnSuccess makes the command output be logged even when it succeeds.
	LogOnSuccess bool
}

// Convenience functions

func RunCommandWithOptions(opts RunCommandOptions, bin string, args ...string) error {
	return h.RunCommandWithOptions(opts, bin, args...)
}

func RunCommand(ctx context.Context, bin string, args ...string) (string, error) {
	return h.RunCommand(ctx, bin, args...)
}

func WriteFile(path string, data []byte, perm os.FileMode) error {
	return h.WriteFile(path, data, perm)
}

func ReadFile(path string) ([]byte, error) {
	return h.ReadFile(path)
}

func MkdirAll(path string, perm os.FileMode) error {
	return h.MkdirAll(path, perm)
}
