package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/xbauto/internal/fsutil"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Report describes one invocation of the engine.
type Report struct {
	Decision     string        `json:"decision"`
	Triggers     []Trigger     `json:"triggers,omitempty"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	BaseDir      string        `json:"incremental_basedir,omitempty"`
	ArchivePath  string        `json:"archive_path,omitempty"`
	EvictedPath  string        `json:"evicted_path,omitempty"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
}

// Write stores the report as indented JSON at filePath, replacing any
// previous report.
func (r *Report) Write(filePath string) error {
	dirPath := filepath.Dir(filePath)
	if err := fsutil.EnsureDirectoryExist(dirPath); err != nil {
		return fmt.Errorf("ensure report directory %q: %w", dirPath, err)
	}

	jsonFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create report file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("encode report JSON: %w", err)
	}
	return nil
}

// Load reads a report written by Write.
func (r *Report) Load(filePath string) error {
	jsonFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("couldn't open report file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	if err := json.NewDecoder(jsonFile).Decode(r); err != nil {
		return fmt.Errorf("decode report JSON: %w", err)
	}
	return nil
}
