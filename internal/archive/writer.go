package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/kebairia/xbauto/internal/config"
)

// archiveWriters holds the writer chain of a tar based archive.
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
}

// Close closes all writers in reverse order, returning the first error.
func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newTarWriters(out io.Writer, format string) (*archiveWriters, error) {
	aw := &archiveWriters{}
	dest := out

	switch format {
	case config.FormatGzipTar:
		gz, err := gzip.NewWriterLevel(out, gzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("create gzip writer: %w", err)
		}
		aw.closers = append(aw.closers, gz)
		dest = gz
	case config.FormatZstdTar:
		enc, err := zstd.NewWriter(out)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		aw.closers = append(aw.closers, enc)
		dest = enc
	case config.FormatTar:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	aw.tarWriter = tar.NewWriter(dest)
	aw.closers = append(aw.closers, aw.tarWriter)
	return aw, nil
}

// writeArchive streams srcDir into out. Entry names are rooted at the base
// name of srcDir so an extracted archive recreates the directory itself.
func writeArchive(ctx context.Context, out io.Writer, format, srcDir string) (err error) {
	if format == config.FormatZip {
		return writeZip(ctx, out, srcDir)
	}

	aw, err := newTarWriters(out, format)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := aw.Close()
		if err == nil {
			err = closeErr
		}
	}()

	return walkSource(ctx, srcDir, func(path, name string, info fs.FileInfo) error {
		return addTarEntry(aw.tarWriter, path, name, info)
	})
}

// walkSource calls add for srcDir and every entry below it.
func walkSource(ctx context.Context, srcDir string, add func(path, name string, info fs.FileInfo) error) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("stat source %q: %w", srcDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %q is not a directory", srcDir)
	}
	root := filepath.Base(filepath.Clean(srcDir))

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %q: %w", path, err)
		}
		return add(path, filepath.ToSlash(filepath.Join(root, rel)), info)
	})
}

func addTarEntry(tw *tar.Writer, path, name string, info fs.FileInfo) error {
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("read link %q: %w", path, err)
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("tar header for %q: %w", path, err)
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return copyFile(tw, path)
}

func writeZip(ctx context.Context, out io.Writer, srcDir string) (err error) {
	zw := zip.NewWriter(out)
	defer func() {
		closeErr := zw.Close()
		if err == nil {
			err = closeErr
		}
	}()

	return walkSource(ctx, srcDir, func(path, name string, info fs.FileInfo) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("zip header for %q: %w", path, err)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		}
		if !info.Mode().IsRegular() {
			// xtrabackup output only holds regular files and directories.
			return nil
		}
		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("write header for %q: %w", path, err)
		}
		return copyFile(w, path)
	})
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %q: %w", path, err)
	}
	return nil
}
