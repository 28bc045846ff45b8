package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowcanvas/internal/workspace"
	"github.com/rendis/flowcanvas/pkg/schema"
)

// DefaultSchedule audits every mounted canvas every five minutes.
const DefaultSchedule = "@every 5m"

// Target is a canvas the auditor can check.
type Target interface {
	ID() string
	Audit() *schema.ValidationResult
}

// RegistryTargets lists the canvases mounted in r.
func RegistryTargets(r *workspace.Registry) func() []Target {
	return func() []Target {
		list := r.List()
		out := make([]Target, len(list))
		for i, w := range list {
			out[i] = w
		}
		return out
	}
}

// Report summarizes one audit pass.
type Report struct {
	At       time.Time `json:"at"`
	Canvases int       `json:"canvases"`
	Invalid  []string  `json:"invalid,omitempty"`
	Warnings int       `json:"warnings"`
	Skipped  int       `json:"skipped"`
}

// Auditor runs integrity checks over all canvases on a cron schedule.
type Auditor struct {
	schedule cron.Schedule
	spec     string
	targets  func() []Target
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // canvas IDs currently being audited

	lastMu sync.RWMutex
	last   *Report
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewAuditor creates an Auditor. An empty spec uses DefaultSchedule.
func NewAuditor(spec string, targets func() []Target, logger *slog.Logger) (*Auditor, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse audit schedule %q", spec).WithCause(err)
	}
	if targets == nil {
		return nil, schema.NewError(schema.ErrCodeInitialization, "auditor needs a target source")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		schedule: schedule,
		spec:     spec,
		targets:  targets,
		logger:   logger.With("component", "auditor"),
		inflight: make(map[string]struct{}),
	}, nil
}

// Start launches the background audit loop.
func (a *Auditor) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return fmt.Errorf("auditor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.loop(loopCtx)
	a.logger.Info("auditor started", slog.String("schedule", a.spec))
	return nil
}

func (a *Auditor) loop(ctx context.Context) {
	defer close(a.done)

	for {
		now := time.Now()
		timer := time.NewTimer(a.NextRun(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			a.RunOnce(ctx)
		}
	}
}

// NextRun returns the first audit time after from.
func (a *Auditor) NextRun(from time.Time) time.Time {
	return a.schedule.Next(from)
}

// RunOnce audits every canvas now. A canvas still being audited by an
// earlier pass is skipped.
func (a *Auditor) RunOnce(ctx context.Context) *Report {
	report := &Report{At: time.Now().UTC()}
	for _, t := range a.targets() {
		if ctx.Err() != nil {
			break
		}
		if !a.tryAcquire(t.ID()) {
			report.Skipped++
			continue
		}
		result := t.Audit()
		a.release(t.ID())

		report.Canvases++
		report.Warnings += len(result.Warnings)
		if !result.Valid() {
			report.Invalid = append(report.Invalid, t.ID())
		}
	}

	a.lastMu.Lock()
	a.last = report
	a.lastMu.Unlock()

	if len(report.Invalid) > 0 {
		a.logger.Warn("audit found invalid canvases",
			slog.Int("canvases", report.Canvases),
			slog.Any("invalid", report.Invalid),
		)
	} else {
		a.logger.Debug("audit complete", slog.Int("canvases", report.Canvases))
	}
	return report
}

// LastReport returns the most recent report, or nil before the first pass.
func (a *Auditor) LastReport() *Report {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.last
}

func (a *Auditor) tryAcquire(id string) bool {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	if _, ok := a.inflight[id]; ok {
		return false
	}
	a.inflight[id] = struct{}{}
	return true
}

func (a *Auditor) release(id string) {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	delete(a.inflight, id)
}

// Stop gracefully shuts down the auditor.
func (a *Auditor) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return nil
	}

	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil

	a.logger.Info("auditor stopped")
	return nil
}
