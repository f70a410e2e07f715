package dryrun

import (
	"bytes"
	"context"
	"os"

	"github.com/provisionhq/stagehand/pkg/helpers"
)

// Helpers records commands and host writes instead of performing them. Reads
// still hit the real filesystem so the run sees the actual host.
type Helpers struct{}

var _ helpers.HelpersInterface = (*Helpers)(nil)

func (h *Helpers) RunCommandWithOptions(opts helpers.RunCommandOptions, bin string, args ...string) error {
	RecordCommand(bin, args, opts.Env)
	return nil
}

func (h *Helpers) RunCommand(ctx context.Context, bin string, args ...string) (string, error) {
	stdout := bytes.NewBuffer(nil)
	if err := h.RunCommandWithOptions(helpers.RunCommandOptions{Context: ctx, Stdout: stdout}, bin, args...); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

func (h *Helpers) WriteFile(path string, data []byte, perm os.FileMode) error {
	RecordFileWrite(path, data, perm)
	return nil
}

func (h *Helpers) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (h *Helpers) MkdirAll(path string, perm os.FileMode) error {
	RecordFileWrite(path, nil, perm)
	return nil
}
