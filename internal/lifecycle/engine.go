package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/kebairia/xbauto/internal/backup"
	"github.com/kebairia/xbauto/internal/config"
	"github.com/kebairia/xbauto/internal/fsutil"
	"github.com/kebairia/xbauto/internal/logger"
)

// Layout scans the active directory and knows where artifacts live.
type Layout interface {
	backup.Scanner
	BasePath(activeDir string) string
	IncrementalPath(activeDir string, n int) string
}

// Backuper takes backups into a target directory.
type Backuper interface {
	Full(ctx context.Context, targetDir string) error
	Incremental(ctx context.Context, targetDir, baseDir string) error
}

// Archiver snapshots the active directory and enforces archive retention.
type Archiver interface {
	Create(ctx context.Context) (string, error)
	Evict(ctx context.Context) (string, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source of the engine.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine runs one decide-then-execute cycle per call to Run. It keeps no
// state between calls: the active directory is the only state.
type Engine struct {
	activeDir      string
	policy         Policy
	archiveEnabled bool

	layout   Layout
	backuper Backuper
	archiver Archiver

	clock clock.Clock
	log   logger.Logger
}

// NewEngine wires an Engine for cfg.
func NewEngine(cfg config.Config, layout Layout, backuper Backuper, archiver Archiver, opts ...Option) *Engine {
	e := &Engine{
		activeDir:      cfg.Paths.ActiveDirectory,
		policy:         PolicyFromConfig(cfg),
		archiveEnabled: cfg.Archive.Enabled,
		layout:         layout,
		backuper:       backuper,
		archiver:       archiver,
		clock:          clock.WallClock,
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan scans the active directory and returns what Run would do now,
// without doing it.
func (e *Engine) Plan() (backup.State, Decision, []Trigger, error) {
	state, err := e.layout.Scan(e.activeDir)
	if err != nil {
		return state, Decision{}, nil, err
	}
	decision, triggers := Decide(state, e.policy, e.clock.Now())
	return state, decision, triggers, nil
}

// Run scans the active directory, decides the next step and carries it out.
// The returned report is filled in on failure too.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	log := e.log
	report := Report{StartedAt: e.clock.Now().UTC()}

	err := e.run(ctx, &report)

	report.CompletedAt = e.clock.Now().UTC()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.DurationMS = report.Duration.Milliseconds()
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		log.Error("lifecycle failed",
			"decision", report.Decision,
			"duration", report.Duration.String(),
			"error", err.Error(),
		)
		return report, err
	}

	report.Status = StatusSuccess
	log.Info("lifecycle completed",
		"decision", report.Decision,
		"artifact", report.ArtifactPath,
		"duration", report.Duration.String(),
	)
	return report, nil
}

func (e *Engine) run(ctx context.Context, report *Report) error {
	log := e.log

	state, err := e.layout.Scan(e.activeDir)
	if err != nil {
		return err
	}
	log.Debug("active directory scanned",
		"path", e.activeDir,
		"has_base", state.HasBase,
		"max_incremental_index", state.MaxIncrementalIndex,
		"newest_artifact", state.NewestArtifactTime.UTC().Format(time.RFC3339),
	)
	if state.HasBase && !state.Contiguous() {
		log.Warn("incremental chain has gaps", "path", e.activeDir, "artifacts", len(state.Artifacts))
	}

	decision, triggers := Decide(state, e.policy, e.clock.Now())
	report.Decision = decision.String()
	report.Triggers = triggers
	log.Info("decision made",
		"decision", decision.String(),
		"triggers", joinTriggers(triggers),
	)

	switch decision.Action {
	case ActionCreateBase:
		return e.createBase(ctx, report)
	case ActionCreateIncremental:
		return e.createIncremental(ctx, decision.Index, report)
	case ActionArchiveThenCreateBase:
		return e.rotate(ctx, report)
	default:
		return fmt.Errorf("unknown decision %s", decision)
	}
}

// createBase clears the active directory, including orphaned incrementals of
// a crashed run, then takes a new base backup.
func (e *Engine) createBase(ctx context.Context, report *Report) error {
	if err := fsutil.Wipe(e.activeDir); err != nil {
		return fmt.Errorf("wipe active directory: %w", err)
	}
	e.log.Debug("active directory wiped", "path", e.activeDir)

	target := e.layout.BasePath(e.activeDir)
	report.ArtifactPath = target
	err := e.backuper.Full(ctx, target)
	if err != nil {
		return e.discard(target, err)
	}
	return nil
}

func (e *Engine) createIncremental(ctx context.Context, n int, report *Report) error {
	baseDir := e.layout.BasePath(e.activeDir)
	if n > 0 {
		baseDir = e.layout.IncrementalPath(e.activeDir, n-1)
	}
	target := e.layout.IncrementalPath(e.activeDir, n)
	report.ArtifactPath = target
	report.BaseDir = baseDir

	if err := e.backuper.Incremental(ctx, target, baseDir); err != nil {
		return e.discard(target, err)
	}
	return nil
}

// rotate archives the current set, starts over with a new base and evicts the
// oldest archive. Nothing is wiped if the archive could not be written.
func (e *Engine) rotate(ctx context.Context, report *Report) error {
	if !e.archiveEnabled {
		e.log.Warn("archiving disabled, discarding current backup set", "path", e.activeDir)
		return e.createBase(ctx, report)
	}

	archivePath, err := e.archiver.Create(ctx)
	if err != nil {
		return err
	}
	report.ArchivePath = archivePath

	if err := e.createBase(ctx, report); err != nil {
		return err
	}

	// The new base is in place; an interrupt arriving now must not fail it.
	evicted, err := e.archiver.Evict(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	report.EvictedPath = evicted
	return nil
}

// discard removes the partial artifact left by a failed backup and returns
// cause. A refusal of the safety guard is never swallowed.
func (e *Engine) discard(target string, cause error) error {
	err := fsutil.RemoveManagedDirectory(target, e.activeDir)
	switch {
	case err == nil:
		e.log.Warn("partial backup removed", "path", target)
		return cause
	case errors.Is(err, fsutil.ErrOutsideManagedRoot):
		return errors.Join(cause, err)
	default:
		e.log.Error("could not remove partial backup",
			"path", target,
			"error", err.Error(),
		)
		return cause
	}
}

func joinTriggers(triggers []Trigger) string {
	names := make([]string, len(triggers))
	for i, t := range triggers {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}
