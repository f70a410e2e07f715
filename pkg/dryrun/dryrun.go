// Package dryrun records what a real run would have done to the host. When
// enabled it swaps the helpers implementation so subprocesses and host file
// writes are captured instead of executed, and dumps the record as YAML.
package dryrun

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"github.com/provisionhq/stagehand/pkg/helpers"
)

var (
	dr     *DryRun
	drFile string
	mu     sync.Mutex
)

// DryRun is the dump format.
type DryRun struct {
	Flags      map[string]interface{} `json:"flags"`
	Commands   []Command              `json:"commands"`
	FileWrites []FileWrite            `json:"fileWrites"`
}

type Command struct {
	Cmd string            `json:"cmd"`
	Env map[string]string `json:"env,omitempty"`
}

type FileWrite struct {
	Path string `json:"path"`
	Data string `json:"data"`
	Perm string `json:"perm"`
}

// Init enables dry-run mode and swaps the helpers implementation.
func Init(outputFile string) {
	mu.Lock()
	defer mu.Unlock()

	dr = &DryRun{
		Flags:      map[string]interface{}{},
		Commands:   []Command{},
		FileWrites: []FileWrite{},
	}
	drFile = outputFile
	helpers.Set(&Helpers{})
}

func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return dr != nil
}

// Dump writes the record collected so far.
func Dump() error {
	mu.Lock()
	defer mu.Unlock()

	output, err := yaml.Marshal(dr)
	if err != nil {
		return fmt.Errorf("marshal dry run info: %w", err)
	}
	if err := os.WriteFile(drFile, output, 0644); err != nil {
		return fmt.Errorf("write dry run info to file: %w", err)
	}
	return nil
}

func Load() (*DryRun, error) {
	data, err := os.ReadFile(drFile)
	if err != nil {
		return nil, fmt.Errorf("read dry run file: %w", err)
	}

	dr := &DryRun{}
	if err := yaml.Unmarshal(data, dr); err != nil {
		return nil, fmt.Errorf("unmarshal dry run file: %w", err)
	}
	return dr, nil
}

func RecordFlags(flagSet *pflag.FlagSet) {
	mu.Lock()
	defer mu.Unlock()

	flagSet.VisitAll(func(flag *pflag.Flag) {
		dr.Flags[flag.Name] = flag.Value.String()
	})
}

func RecordCommand(cmd string, args []string, env map[string]string) {
	mu.Lock()
	defer mu.Unlock()

	fullCmd := cmd
	if len(args) > 0 {
		fullCmd += " " + strings.Join(args, " ")
	}
	dr.Commands = append(dr.Commands, Command{
		Cmd: fullCmd,
		Env: env,
	})
}

func RecordFileWrite(path string, data []byte, perm os.FileMode) {
	mu.Lock()
	defer mu.Unlock()

	dr.FileWrites = append(dr.FileWrites, FileWrite{
		Path: path,
		Data: string(data),
		Perm: perm.String(),
	})
}
