// Package report collects error reports: the durable record of a fault plus
// the reference clients use to fetch it.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
)

// Report is one recorded fault. Reports are immutable once made.
type Report struct {
	ID        string                 `json:"id"`
	Kind      types.ErrorReportKind  `json:"kind"`
	State     types.ErrorReportState `json:"state"`
	Stage     string                 `json:"stage,omitempty"`
	IsInstall bool                   `json:"is_install"`
	Message   string                 `json:"message"`
	Time      time.Time              `json:"time"`
}

// Ref is the wire handle handed to clients.
func (r Report) Ref() types.ErrorReportRef {
	return types.ErrorReportRef{
		State: r.State,
		Ref:   r.ID,
		Kind:  r.Kind,
		Stage: r.Stage,
	}
}

// Reporter makes and serves reports. Each report is persisted as JSON in the
// crash directory, and reports from earlier runs are picked up at startup.
type Reporter struct {
	mu      sync.Mutex
	logger  logrus.FieldLogger
	fs      afero.Fs
	dir     string
	reports map[string]Report
}

type Option func(*Reporter)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

func WithFs(fsys afero.Fs) Option {
	return func(r *Reporter) {
		r.fs = fsys
	}
}

func NewReporter(dir string, opts ...Option) (*Reporter, error) {
	r := &Reporter{
		fs:      afero.NewOsFs(),
		dir:     dir,
		reports: make(map[string]Report),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.NewDiscardLogger()
	}
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create crash directory: %w", err)
	}
	if err := r.loadExisting(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reporter) loadExisting() error {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return fmt.Errorf("scan crash directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := afero.ReadFile(r.fs, r.path(strings.TrimSuffix(entry.Name(), ".json")))
		if err != nil {
			r.logger.WithError(err).Warnf("skipping unreadable report %s", entry.Name())
			continue
		}
		var report Report
		if err := json.Unmarshal(data, &report); err != nil {
			r.logger.WithError(err).Warnf("skipping corrupt report %s", entry.Name())
			continue
		}
		r.reports[report.ID] = report
	}
	return nil
}

// Make records a fault. Reporting is best-effort: persistence problems are
// logged, never propagated, so a report can always be attached to a failing
// request.
func (r *Reporter) Make(kind types.ErrorReportKind, stage string, isInstall bool, cause error) Report {
	report := Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     types.ErrorReportStateDone,
		Stage:     stage,
		IsInstall: isInstall,
		Message:   cause.Error(),
		Time:      time.Now().UTC(),
	}

	r.logger.WithFields(logrus.Fields{
		"ref":   report.ID,
		"kind":  kind,
		"stage": stage,
	}).WithError(cause).Error("error report created")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.ID] = report

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		r.logger.WithError(err).Warn("could not marshal error report")
		return report
	}
	if err := afero.WriteFile(r.fs, r.path(report.ID), data, 0o644); err != nil {
		r.logger.WithError(err).Warn("could not persist error report")
	}
	return report
}

// Get looks a report up by reference.
func (r *Reporter) Get(ref string) (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[ref]
	return report, ok
}

// List returns all reports, newest first.
func (r *Reporter) List() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, 0, len(r.reports))
	for _, report := range r.reports {
		out = append(out, report)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out
}

func (r *Reporter) path(id string) string {
	return r.dir + "/" + id + ".json"
}
