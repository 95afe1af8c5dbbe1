package operations

import (
	"context"
	"time"

	"github.com/kebairia/xbauto/internal/archive"
	"github.com/kebairia/xbauto/internal/backup"
	"github.com/kebairia/xbauto/internal/lifecycle"
)

// RunBackup performs one lifecycle invocation and, when configured, writes
// the run report. A report that cannot be written is logged, not returned.
func (om *OperationManager) RunBackup(ctx context.Context) (lifecycle.Report, error) {
	report, err := om.runBackup(ctx)

	if path := om.cfg.Backup.ReportFile; path != "" {
		if werr := report.Write(path); werr != nil {
			om.log.Warn("run report not written", "path", path, "error", werr.Error())
		} else {
			om.log.Trace("run report written", "path", path)
		}
	}
	return report, err
}

func (om *OperationManager) runBackup(ctx context.Context) (lifecycle.Report, error) {
	xb, err := om.xtraBackup(ctx)
	if err != nil {
		now := om.clock.Now().UTC()
		return lifecycle.Report{
			Status:      lifecycle.StatusFailed,
			Error:       err.Error(),
			StartedAt:   now,
			CompletedAt: now,
		}, err
	}
	return om.engine(xb).Run(ctx)
}

// PlanResult is what a backup run would do right now.
type PlanResult struct {
	State    backup.State
	Decision lifecycle.Decision
	Triggers []lifecycle.Trigger
	Archives []archive.File
	At       time.Time
}

// Plan scans the active directory and reports the decision without acting
// on it. Archives are listed when the archive directory exists.
func (om *OperationManager) Plan() (PlanResult, error) {
	result := PlanResult{At: om.clock.Now().UTC()}

	state, decision, triggers, err := om.engine(nil).Plan()
	if err != nil {
		return result, err
	}
	result.State = state
	result.Decision = decision
	result.Triggers = triggers

	if files, err := om.store.List(); err == nil {
		result.Archives = files
	} else {
		om.log.Debug("archives not listed", "error", err.Error())
	}
	return result, nil
}

// Prune evicts at most one expired archive and returns its path.
func (om *OperationManager) Prune(ctx context.Context) (string, error) {
	return om.store.Evict(ctx)
}

// Extract unpacks an archive into destDir.
func (om *OperationManager) Extract(archivePath, destDir string) error {
	om.log.Info("extract started", "archive", archivePath, "destination", destDir)
	start := om.clock.Now()
	if err := archive.Extract(archivePath, destDir); err != nil {
		om.log.Error("extract failed", "archive", archivePath, "error", err.Error())
		return err
	}
	om.log.Info("extract completed",
		"archive", archivePath,
		"destination", destDir,
		"duration", om.clock.Now().Sub(start).String(),
	)
	return nil
}
