package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/provisionhq/stagehand/pkg/helpers"
)

// Command is one autoinstall command: either a shell string or an argv
// list. Strings run through `sh -c`, lists run directly.
type Command struct {
	shell string
	argv  []string
}

// ShellCommand returns a Command run through the shell.
func ShellCommand(line string) Command {
	return Command{shell: line}
}

// ArgvCommand returns a Command run directly.
func ArgvCommand(argv ...string) Command {
	return Command{argv: argv}
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var line string
	if err := json.Unmarshal(data, &line); err == nil {
		c.shell = line
		c.argv = nil
		return nil
	}
	var argv []string
	if err := json.Unmarshal(data, &argv); err == nil {
		if len(argv) == 0 {
			return fmt.Errorf("command list must not be empty")
		}
		c.argv = argv
		c.shell = ""
		return nil
	}
	return fmt.Errorf("command must be a string or a list of strings")
}

func (c Command) MarshalJSON() ([]byte, error) {
	if c.argv != nil {
		return json.Marshal(c.argv)
	}
	return json.Marshal(c.shell)
}

func (c Command) String() string {
	if c.argv != nil {
		return strings.Join(c.argv, " ")
	}
	return c.shell
}

// Run executes the command, capturing output in the server log.
func (c Command) Run(ctx context.Context) error {
	bin, args := "sh", []string{"-c", c.shell}
	if c.argv != nil {
		bin, args = c.argv[0], c.argv[1:]
	}
	return helpers.RunCommandWithOptions(helpers.RunCommandOptions{
		Context:      ctx,
		LogOnSuccess: true,
	}, bin, args...)
}

// runCommands executes cmds in order, stopping at the first failure.
func runCommands(ctx context.Context, cmds []Command) error {
	for i, cmd := range cmds {
		if err := cmd.Run(ctx); err != nil {
			return fmt.Errorf("command %d (%s): %w", i+1, cmd, err)
		}
	}
	return nil
}
