// Package autoinstall locates and parses the declarative configuration that
// drives unattended runs.
package autoinstall

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/provisionhq/stagehand/api/pkg/logger"
)

// Default locations probed for an autoinstall file, after the canonical copy
// and any operator-supplied path.
const (
	DefaultCloudPath = "/run/stagehand/cloud.autoinstall.yaml"
	DefaultISOPath   = "/cdrom/autoinstall.yaml"
)

// Resolver picks the autoinstall source for this run. Precedence:
//
//  1. the canonical copy in the state directory (survives restarts)
//  2. the operator-supplied path
//  3. the cloud-provided file
//  4. the file baked into the install media
//
// The winner is copied to the canonical location so later phases and
// restarted servers read one well-known file.
type Resolver struct {
	fs            afero.Fs
	logger        logrus.FieldLogger
	canonicalPath string
	// operatorPath is nil when the operator said nothing, and a pointer to
	// "" when autoinstall was explicitly disabled.
	operatorPath *string
	cloudPath    string
	isoPath      string
}

type ResolverOption func(*Resolver)

func WithFs(fsys afero.Fs) ResolverOption {
	return func(r *Resolver) {
		r.fs = fsys
	}
}

func WithResolverLogger(logger logrus.FieldLogger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithOperatorPath records the --autoinstall flag value. Passing a pointer to
// the empty string disables autoinstall outright.
func WithOperatorPath(path *string) ResolverOption {
	return func(r *Resolver) {
		r.operatorPath = path
	}
}

func WithCloudPath(path string) ResolverOption {
	return func(r *Resolver) {
		r.cloudPath = path
	}
}

func WithISOPath(path string) ResolverOption {
	return func(r *Resolver) {
		r.isoPath = path
	}
}

// NewResolver creates a resolver whose canonical copy lives at canonicalPath.
func NewResolver(canonicalPath string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fs:            afero.NewOsFs(),
		canonicalPath: canonicalPath,
		cloudPath:     DefaultCloudPath,
		isoPath:       DefaultISOPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.NewDiscardLogger()
	}
	return r
}

// Resolve returns the path of the effective autoinstall file, or "" when the
// run has no autoinstall. A named operator path that does not exist is a
// fatal configuration error, not a silent fallthrough.
func (r *Resolver) Resolve() (string, error) {
	// The operator's word is settled before any location is scanned: an
	// explicitly empty path disables autoinstall even when an earlier run
	// left a canonical copy behind, and a named path must exist.
	if r.operatorPath != nil {
		if *r.operatorPath == "" {
			r.logger.Info("autoinstall explicitly disabled")
			return "", nil
		}
		if ok, _ := afero.Exists(r.fs, *r.operatorPath); !ok {
			return "", fmt.Errorf("autoinstall file %q does not exist", *r.operatorPath)
		}
	}

	if ok, _ := afero.Exists(r.fs, r.canonicalPath); ok {
		r.logger.WithField("path", r.canonicalPath).Info("reusing autoinstall from state directory")
		return r.canonicalPath, nil
	}

	var candidates []string
	if r.operatorPath != nil {
		candidates = append(candidates, *r.operatorPath)
	}
	candidates = append(candidates, r.cloudPath, r.isoPath)

	for _, candidate := range candidates {
		ok, _ := afero.Exists(r.fs, candidate)
		if !ok {
			continue
		}
		if err := r.copyToCanonical(candidate); err != nil {
			return "", err
		}
		r.logger.WithField("path", candidate).Info("autoinstall located")
		return r.canonicalPath, nil
	}

	r.logger.Info("no autoinstall provided, all stages will be interactive")
	return "", nil
}

func (r *Resolver) copyToCanonical(src string) error {
	data, err := afero.ReadFile(r.fs, src)
	if err != nil {
		return fmt.Errorf("read autoinstall source %s: %w", src, err)
	}
	if err := r.fs.MkdirAll(filepath.Dir(r.canonicalPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := afero.WriteFile(r.fs, r.canonicalPath, data, 0o644); err != nil {
		return fmt.Errorf("copy autoinstall to %s: %w", r.canonicalPath, err)
	}
	return nil
}
