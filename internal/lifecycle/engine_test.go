package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/kebairia/xbauto/internal/backup"
	"github.com/kebairia/xbauto/internal/config"
	"github.com/kebairia/xbauto/internal/fsutil"
	"github.com/kebairia/xbauto/internal/process"
)

type backupCall struct {
	target  string
	baseDir string
	full    bool
}

// fakeBackuper creates the target directory like xtrabackup does, then
// returns err.
type fakeBackuper struct {
	calls []backupCall
	err   error
}

func (f *fakeBackuper) take(target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(target, "xtrabackup_checkpoints"), []byte("x"), 0o640)
}

func (f *fakeBackuper) Full(_ context.Context, target string) error {
	f.calls = append(f.calls, backupCall{target: target, full: true})
	if err := f.take(target); err != nil {
		return err
	}
	return f.err
}

func (f *fakeBackuper) Incremental(_ context.Context, target, baseDir string) error {
	f.calls = append(f.calls, backupCall{target: target, baseDir: baseDir})
	if err := f.take(target); err != nil {
		return err
	}
	return f.err
}

type fakeArchiver struct {
	created   int
	evicted   int
	createErr error
	evictErr  error
}

func (f *fakeArchiver) Create(context.Context) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return "/archive/database_backup_x.tar.gz", nil
}

func (f *fakeArchiver) Evict(ctx context.Context) (string, error) {
	f.evicted++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", f.evictErr
}

// cancellingBackuper cancels the run's context once a full backup finished,
// like an interrupt arriving while xtrabackup drains.
type cancellingBackuper struct {
	*fakeBackuper
	cancel context.CancelFunc
}

func (c cancellingBackuper) Full(ctx context.Context, target string) error {
	err := c.fakeBackuper.Full(ctx, target)
	c.cancel()
	return err
}

type fixture struct {
	active   string
	cfg      config.Config
	backuper *fakeBackuper
	archiver *fakeArchiver
	clock    *testclock.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	active := filepath.Join(t.TempDir(), "mysql")
	if err := os.MkdirAll(active, 0o755); err != nil {
		t.Fatal(err)
	}

	var cfg config.Config
	cfg.Paths.ActiveDirectory = active
	cfg.Paths.ArchiveDirectory = filepath.Join(t.TempDir(), "archive")
	cfg.Names.BaseFolder = "base"
	cfg.Names.IncrementalPrefix = "inc_"
	cfg.Backup.MaxTimeBetweenBackups = 20 * time.Hour
	cfg.Archive.Enabled = true
	cfg.Archive.EnforceMaxIncrementals = true
	cfg.Archive.MaxIncrementals = 4
	cfg.Archive.EnforceAtHour = false
	cfg.Archive.AtUTCHour = -1

	return &fixture{
		active:   active,
		cfg:      cfg,
		backuper: &fakeBackuper{},
		archiver: &fakeArchiver{},
		clock:    testclock.NewClock(time.Now()),
	}
}

func (f *fixture) engine() *Engine {
	layout := backup.NewDirScanner(f.cfg.Names.BaseFolder, f.cfg.Names.IncrementalPrefix)
	return NewEngine(f.cfg, layout, f.backuper, f.archiver, WithClock(f.clock))
}

func (f *fixture) mkdirs(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.MkdirAll(filepath.Join(f.active, n), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) entries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.active)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func TestRun_EmptyDirectoryCreatesBase(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine().Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Decision != "create-base" || report.Status != StatusSuccess {
		t.Errorf("unexpected report: %+v", report)
	}
	if got := f.entries(t); len(got) != 1 || got[0] != "base" {
		t.Errorf("active directory = %v, want only base", got)
	}
	if len(f.backuper.calls) != 1 || !f.backuper.calls[0].full {
		t.Errorf("unexpected backup calls: %+v", f.backuper.calls)
	}
}

func TestRun_WipesOrphansBeforeBase(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "inc_0", "inc_1")
	if err := os.WriteFile(filepath.Join(f.active, "stray.log"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine().Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := f.entries(t); len(got) != 1 || got[0] != "base" {
		t.Errorf("active directory = %v, want only base", got)
	}
}

func TestRun_IncrementalChainsOffPrevious(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "base", "inc_0")

	report, err := f.engine().Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Decision != "create-incremental(1)" {
		t.Errorf("decision = %s, want create-incremental(1)", report.Decision)
	}
	call := f.backuper.calls[0]
	if call.target != filepath.Join(f.active, "inc_1") || call.baseDir != filepath.Join(f.active, "inc_0") {
		t.Errorf("unexpected call %+v", call)
	}
}

func TestRun_FirstIncrementalChainsOffBase(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "base")

	if _, err := f.engine().Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := f.backuper.calls[0].baseDir; got != filepath.Join(f.active, "base") {
		t.Errorf("basedir = %q, want base", got)
	}
}

func TestRun_QuotaReachedRotates(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "base", "inc_0", "inc_1", "inc_2", "inc_3")

	report, err := f.engine().Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Decision != "archive-then-create-base" {
		t.Errorf("decision = %s", report.Decision)
	}
	if f.archiver.created != 1 || f.archiver.evicted != 1 {
		t.Errorf("archiver created=%d evicted=%d, want 1 and 1", f.archiver.created, f.archiver.evicted)
	}
	if report.ArchivePath == "" {
		t.Error("report misses the archive path")
	}
	if got := f.entries(t); len(got) != 1 || got[0] != "base" {
		t.Errorf("active directory = %v, want only base", got)
	}
}

func TestRun_GapRotates(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "base", "inc_0")
	f.clock.Advance(21 * time.Hour)

	report, err := f.engine().Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.Triggers) != 1 || report.Triggers[0] != TriggerMaxGap {
		t.Errorf("triggers = %v, want max gap", report.Triggers)
	}
	if f.archiver.created != 1 {
		t.Errorf("archive not created")
	}
}

func TestRun_HourRotatesEveryTime(t *testing.T) {
	f := newFixture(t)
	f.cfg.Archive.EnforceAtHour = true
	f.cfg.Archive.AtUTCHour = f.clock.Now().UTC().Hour()
	f.mkdirs(t, "base")

	for i := 0; i < 2; i++ {
		if _, err := f.engine().Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if f.archiver.created != 2 {
		t.Errorf("archives created = %d, want one per invocation", f.archiver.created)
	}
}

func TestRun_ArchiveFailureKeepsActiveSet(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "base", "inc_0", "inc_1", "inc_2", "inc_3")
	boom := errors.New("disk full")
	f.archiver.createErr = boom

	report, err := f.engine().Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected archive error, got %v", err)
	}
	if report.Status != StatusFailed || report.Error == "" {
		t.Errorf("unexpected report: %+v", report)
	}
	if got := f.entries(t); len(got) != 5 {
		t.Errorf("active directory = %v, want untouched", got)
	}
	if len(f.backuper.calls) != 0 {
		t.Errorf("backup ran after failed archive: %+v", f.backuper.calls)
	}
}

func TestRun_ArchiveDisabledStillRebases(t *testing.T) {
	f := newFixture(t)
	f.cfg.Archive.Enabled = false
	f.mkdirs(t, "base", "inc_0", "inc_1", "inc_2", "inc_3")

	if _, err := f.engine().Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if f.archiver.created != 0 || f.archiver.evicted != 0 {
		t.Errorf("archiver used while disabled")
	}
	if got := f.entries(t); len(got) != 1 || got[0] != "base" {
		t.Errorf("active directory = %v, want only base", got)
	}
}

func TestRun_FailedBackupRemovesPartialTarget(t *testing.T) {
	tests := []struct {
		name    string
		seed    []string
		partial string
		remain  []string
	}{
		{name: "base", partial: "base", remain: nil},
		{name: "incremental", seed: []string{"base", "inc_0"}, partial: "inc_1", remain: []string{"base", "inc_0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mkdirs(t, tt.seed...)
			f.backuper.err = process.ErrHandshakeTimeout

			_, err := f.engine().Run(context.Background())
			if !errors.Is(err, process.ErrHandshakeTimeout) {
				t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
			}
			if _, err := os.Stat(filepath.Join(f.active, tt.partial)); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("partial %s left behind", tt.partial)
			}
			got := f.entries(t)
			if len(got) != len(tt.remain) {
				t.Errorf("active directory = %v, want %v", got, tt.remain)
			}
		})
	}
}

func TestRun_EvictionFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "base", "inc_0", "inc_1", "inc_2", "inc_3")
	f.archiver.evictErr = errors.New("permission denied")

	if _, err := f.engine().Run(context.Background()); err == nil {
		t.Fatal("expected eviction failure to surface")
	}
	if got := f.entries(t); len(got) != 1 || got[0] != "base" {
		t.Errorf("new base missing after eviction failure: %v", got)
	}
}

func TestRun_InterruptAfterRebaseStillEvicts(t *testing.T) {
	f := newFixture(t)
	f.mkdirs(t, "base", "inc_0", "inc_1", "inc_2", "inc_3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	layout := backup.NewDirScanner(f.cfg.Names.BaseFolder, f.cfg.Names.IncrementalPrefix)
	engine := NewEngine(f.cfg, layout, cancellingBackuper{f.backuper, cancel}, f.archiver, WithClock(f.clock))

	report, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Status != StatusSuccess || f.archiver.evicted != 1 {
		t.Errorf("status = %s, evictions = %d", report.Status, f.archiver.evicted)
	}
}

func TestRun_MissingActiveDirectory(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.active); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine().Run(context.Background())
	if !errors.Is(err, backup.ErrDirectoryMissing) {
		t.Fatalf("expected ErrDirectoryMissing, got %v", err)
	}
}

func TestRun_ChainStaysContiguous(t *testing.T) {
	f := newFixture(t)
	layout := backup.NewDirScanner("base", "inc_")

	want := []string{
		"create-base",
		"create-incremental(0)",
		"create-incremental(1)",
		"create-incremental(2)",
		"create-incremental(3)",
		"archive-then-create-base",
		"create-incremental(0)",
	}
	for i, decision := range want {
		report, err := f.engine().Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if report.Decision != decision {
			t.Errorf("run %d decision = %s, want %s", i, report.Decision, decision)
		}
		state, err := layout.Scan(f.active)
		if err != nil {
			t.Fatal(err)
		}
		if !state.HasBase || !state.Contiguous() {
			t.Fatalf("run %d broke the chain: %+v", i, state)
		}
	}
}

func TestRun_ReportDurationUsesClock(t *testing.T) {
	f := newFixture(t)
	clk := f.clock
	e := NewEngine(f.cfg, backup.NewDirScanner("base", "inc_"), advancingBackuper{f.backuper, clk}, f.archiver, WithClock(clk))

	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Duration != 5*time.Minute || report.DurationMS != 300000 {
		t.Errorf("duration = %s (%dms), want 5m", report.Duration, report.DurationMS)
	}
}

type advancingBackuper struct {
	*fakeBackuper
	clock *testclock.Clock
}

func (a advancingBackuper) Full(ctx context.Context, target string) error {
	a.clock.Advance(5 * time.Minute)
	return a.fakeBackuper.Full(ctx, target)
}

func TestReport_WriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "last-run.json")
	in := Report{
		Decision:     "create-incremental(2)",
		ArtifactPath: "/data/backups/mysql/inc_2",
		Status:       StatusSuccess,
		StartedAt:    time.Date(2024, 3, 9, 6, 0, 0, 0, time.UTC),
		DurationMS:   1234,
	}
	if err := in.Write(path); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	var out Report
	if err := out.Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if out.Decision != in.Decision || out.DurationMS != 1234 || !out.StartedAt.Equal(in.StartedAt) {
		t.Errorf("loaded %+v", out)
	}
}

func TestDiscard_RefusesOutsideRoot(t *testing.T) {
	f := newFixture(t)
	e := f.engine()
	outside := t.TempDir()
	cause := errors.New("backup failed")

	err := e.discard(outside, cause)
	if !errors.Is(err, fsutil.ErrOutsideManagedRoot) || !errors.Is(err, cause) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if _, statErr := os.Stat(outside); statErr != nil {
		t.Errorf("outside directory removed: %v", statErr)
	}
}
