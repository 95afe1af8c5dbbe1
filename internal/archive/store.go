// Package archive snapshots the active backup set into compressed archives
// and enforces archive retention.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/kebairia/xbauto/internal/config"
	"github.com/kebairia/xbauto/internal/fsutil"
	"github.com/kebairia/xbauto/internal/logger"
)

var (
	// ErrArchiveCreation is returned for any I/O or compression failure while
	// building an archive. The active directory is left untouched.
	ErrArchiveCreation = errors.New("archive creation failed")
	// ErrEviction is returned when deleting an expired archive fails.
	ErrEviction = errors.New("archive eviction failed")
	// ErrUnsupportedFormat is returned for an unknown archive format or suffix.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// TimestampLayout is appended to the archive prefix, always in UTC.
const TimestampLayout = "01_02_2006__15_04_05"

const tempPattern = ".xbauto-*.partial"

// partial reports whether name is an unfinished archive left by Create.
func partial(name string) bool {
	ok, _ := filepath.Match(tempPattern, name)
	return ok
}

// File is a managed archive found in the archive directory.
type File struct {
	Path      string
	Name      string
	CreatedAt time.Time
	Size      int64
}

// Store creates and evicts archives of one active directory.
type Store struct {
	activeDir   string
	archiveDir  string
	prefix      string
	format      string
	retainCount int

	clock     clock.Clock
	log       logger.Logger
	createdAt func(fs.FileInfo) time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for archive names.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore returns a Store for the directories and naming in cfg.
func NewStore(cfg config.Config, opts ...Option) *Store {
	s := &Store{
		activeDir:   cfg.Paths.ActiveDirectory,
		archiveDir:  cfg.Paths.ArchiveDirectory,
		prefix:      cfg.Names.ArchivePrefix,
		format:      cfg.Archive.Format,
		retainCount: cfg.Archive.RetainCount,
		clock:       clock.WallClock,
		log:         logger.Nop(),
		createdAt:   fsutil.ChangeTime,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extension returns the file suffix for format, including the leading dot.
func Extension(format string) (string, error) {
	switch format {
	case config.FormatGzipTar:
		return ".tar.gz", nil
	case config.FormatZstdTar:
		return ".tar.zst", nil
	case config.FormatTar:
		return ".tar", nil
	case config.FormatZip:
		return ".zip", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// FormatOf guesses the archive format from a file name.
func FormatOf(name string) (string, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return config.FormatGzipTar, nil
	case strings.HasSuffix(name, ".tar.zst"):
		return config.FormatZstdTar, nil
	case strings.HasSuffix(name, ".tar"):
		return config.FormatTar, nil
	case strings.HasSuffix(name, ".zip"):
		return config.FormatZip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Name returns the archive file name for a snapshot taken at t.
func (s *Store) Name(t time.Time) (string, error) {
	ext, err := Extension(s.format)
	if err != nil {
		return "", err
	}
	return s.prefix + t.UTC().Format(TimestampLayout) + ext, nil
}

// Create snapshots everything under the active directory into a new archive
// and returns its path. The archive is built under a hidden temporary name and
// renamed once complete, so a failure never leaves a managed archive behind.
func (s *Store) Create(ctx context.Context) (string, error) {
	log := s.log
	startTime := s.clock.Now()

	name, err := s.Name(startTime)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveCreation, err)
	}
	if err := fsutil.EnsureDirectoryExist(s.archiveDir); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchiveCreation, err)
	}
	finalPath := filepath.Join(s.archiveDir, name)

	log.Info("archive started",
		"source", s.activeDir,
		"path", finalPath,
		"format", s.format,
	)

	tmp, err := os.CreateTemp(s.archiveDir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("%w: create temporary file: %v", ErrArchiveCreation, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeArchive(ctx, tmp, s.format, s.activeDir); err != nil {
		_ = tmp.Close()
		log.Error("archive failed", "path", finalPath, "error", err.Error())
		return "", fmt.Errorf("%w: %v", ErrArchiveCreation, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: sync %q: %v", ErrArchiveCreation, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %q: %v", ErrArchiveCreation, tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("%w: rename into %q: %v", ErrArchiveCreation, finalPath, err)
	}
	committed = true

	var size int64
	if info, err := os.Stat(finalPath); err == nil {
		size = info.Size()
	}
	log.Info("archive completed",
		"path", finalPath,
		"size_bytes", size,
		"duration", s.clock.Now().Sub(startTime).String(),
	)
	return finalPath, nil
}

// List returns the managed archives: non-directory entries directly under the
// archive directory whose name contains the archive prefix, in directory
// order.
func (s *Store) List() ([]File, error) {
	entries, err := os.ReadDir(s.archiveDir)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", s.archiveDir, err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), s.prefix) || partial(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", entry.Name(), err)
		}
		files = append(files, File{
			Path:      filepath.Join(s.archiveDir, entry.Name()),
			Name:      entry.Name(),
			CreatedAt: s.createdAt(info),
			Size:      info.Size(),
		})
	}
	return files, nil
}

// Evict deletes the single oldest managed archive when more than the retained
// count exist, and returns the removed path. It never deletes more than one
// archive per call. Nothing to evict, or an archive that vanished before it
// could be deleted, is not an error.
func (s *Store) Evict(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	files, err := s.List()
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEviction, err)
	}
	if len(files) <= s.retainCount {
		s.log.Debug("nothing to evict",
			"archives", len(files),
			"retain", s.retainCount,
		)
		return "", nil
	}

	oldest := files[0]
	for _, f := range files[1:] {
		if f.CreatedAt.Before(oldest.CreatedAt) {
			oldest = f
		}
	}

	if err := os.Remove(oldest.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("archive already gone", "path", oldest.Path)
			return "", nil
		}
		return "", fmt.Errorf("%w: remove %q: %v", ErrEviction, oldest.Path, err)
	}

	s.log.Info("archive evicted",
		"path", oldest.Path,
		"created_at", oldest.CreatedAt.UTC().Format(time.RFC3339),
		"remaining", len(files)-1,
	)
	return oldest.Path, nil
}
