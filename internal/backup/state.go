package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kebairia/xbauto/internal/fsutil"
)

// ErrDirectoryMissing is returned when the active directory does not exist
// or is not a directory.
var ErrDirectoryMissing = errors.New("active backup directory missing")

// Kind tells a base backup from an incremental one.
type Kind string

const (
	KindBase        Kind = "base"
	KindIncremental Kind = "incremental"
)

// Artifact is one backup step found in the active directory.
type Artifact struct {
	Kind Kind
	// Index is only meaningful for incrementals.
	Index     int
	Path      string
	CreatedAt time.Time
}

// State is what the active directory says about the lifecycle position.
type State struct {
	HasBase bool
	// MaxIncrementalIndex is -1 when no incremental exists.
	MaxIncrementalIndex int
	// NewestArtifactTime covers every entry, strays included. Zero when empty.
	NewestArtifactTime time.Time
	// Artifacts holds base first, then incrementals by index.
	Artifacts []Artifact
}

// NextIncrementalIndex is the index the next incremental will get.
func (s State) NextIncrementalIndex() int {
	return s.MaxIncrementalIndex + 1
}

// Scanner infers the lifecycle position of an active directory.
type Scanner interface {
	Scan(activeDir string) (State, error)
}

// DirScanner reads lifecycle state straight from directory names.
type DirScanner struct {
	BaseFolder        string
	IncrementalPrefix string
}

// Ensure DirScanner satisfies Scanner.
var _ Scanner = DirScanner{}

// NewDirScanner returns a scanner for the given naming convention.
func NewDirScanner(baseFolder, incrementalPrefix string) DirScanner {
	return DirScanner{BaseFolder: baseFolder, IncrementalPrefix: incrementalPrefix}
}

// Scan lists the entries directly under activeDir. Names that look like
// neither the base folder nor an incremental are ignored, but still count
// towards NewestArtifactTime.
func (s DirScanner) Scan(activeDir string) (State, error) {
	state := State{MaxIncrementalIndex: -1}

	info, err := os.Stat(activeDir)
	if err != nil || !info.IsDir() {
		return state, fmt.Errorf("%w: %s", ErrDirectoryMissing, activeDir)
	}

	entries, err := os.ReadDir(activeDir)
	if err != nil {
		return state, fmt.Errorf("list %q: %w", activeDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(activeDir, name)

		entryInfo, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return state, fmt.Errorf("stat %q: %w", path, err)
		}
		created := fsutil.ChangeTime(entryInfo)
		if created.After(state.NewestArtifactTime) {
			state.NewestArtifactTime = created
		}

		switch {
		case strings.EqualFold(name, s.BaseFolder):
			state.HasBase = true
			state.Artifacts = append(state.Artifacts, Artifact{Kind: KindBase, Index: -1, Path: path, CreatedAt: created})
		default:
			index, ok := s.IncrementalIndex(name)
			if !ok {
				continue
			}
			if index > state.MaxIncrementalIndex {
				state.MaxIncrementalIndex = index
			}
			state.Artifacts = append(state.Artifacts, Artifact{Kind: KindIncremental, Index: index, Path: path, CreatedAt: created})
		}
	}

	sort.SliceStable(state.Artifacts, func(i, j int) bool {
		a, b := state.Artifacts[i], state.Artifacts[j]
		if a.Kind != b.Kind {
			return a.Kind == KindBase
		}
		return a.Index < b.Index
	})
	return state, nil
}

// IncrementalIndex parses "<prefix><n>". Anything else after the prefix,
// such as another "_segment" or a sign, does not match.
func (s DirScanner) IncrementalIndex(name string) (int, bool) {
	if s.IncrementalPrefix == "" || !strings.HasPrefix(name, s.IncrementalPrefix) {
		return 0, false
	}
	suffix := strings.TrimPrefix(name, s.IncrementalPrefix)
	if suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// BasePath is where the base backup lives.
func (s DirScanner) BasePath(activeDir string) string {
	return filepath.Join(activeDir, s.BaseFolder)
}

// IncrementalPath is where incremental n lives.
func (s DirScanner) IncrementalPath(activeDir string, n int) string {
	return filepath.Join(activeDir, s.IncrementalPrefix+strconv.Itoa(n))
}

// Contiguous reports whether the incrementals form 0..MaxIncrementalIndex
// without gaps or duplicates.
func (s State) Contiguous() bool {
	next := 0
	for _, a := range s.Artifacts {
		if a.Kind != KindIncremental {
			continue
		}
		if a.Index != next {
			return false
		}
		next++
	}
	return next == s.MaxIncrementalIndex+1
}
