package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/kebairia/xbauto/internal/config"
	"github.com/kebairia/xbauto/internal/fsutil"
)

// ErrUnsafePath is returned when an archive entry would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Extract unpacks archivePath into destDir, creating it if needed. The format
// is taken from the file suffix.
func Extract(archivePath, destDir string) error {
	format, err := FormatOf(archivePath)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDirectoryExist(destDir); err != nil {
		return err
	}

	if format == config.FormatZip {
		return extractZip(archivePath, destDir)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %q: %w", archivePath, err)
	}
	defer f.Close()

	var src io.Reader = f
	switch format {
	case config.FormatGzipTar:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	case config.FormatZstdTar:
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		src = dec
	}
	return extractTar(tar.NewReader(src), destDir)
}

// entryPath resolves an entry name below destDir. The empty string means the
// entry is destDir itself.
func entryPath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if filepath.Clean(target) == filepath.Clean(destDir) {
		return "", nil
	}
	if !fsutil.Within(target, destDir) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

func extractTar(tr *tar.Reader, destDir string) error {
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target, err := entryPath(destDir, header.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}
		mode := fs.FileMode(header.Mode).Perm()

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0o700); err != nil {
				return fmt.Errorf("create directory %q: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			resolved := header.Linkname
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(target), resolved)
			}
			if !fsutil.Within(resolved, destDir) {
				return fmt.Errorf("%w: link %q -> %q", ErrUnsafePath, header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create directory for %q: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("create link %q: %w", target, err)
			}
		default:
			// Devices, fifos and hard links never appear in backup sets.
		}
	}
}

func extractZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %q: %w", archivePath, err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		target, err := entryPath(destDir, file.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}
		info := file.FileInfo()
		if info.IsDir() {
			if err := os.MkdirAll(target, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("create directory %q: %w", target, err)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("open entry %q: %w", file.Name, err)
		}
		err = writeFile(target, rc, info.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %q: %w", target, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o600)
	if err != nil {
		return fmt.Errorf("create %q: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %q: %w", target, err)
	}
	return out.Close()
}
