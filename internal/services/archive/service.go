// Package archive packs directories into zip archives.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fgeck/vaultcourier/internal/models"
	"github.com/fgeck/vaultcourier/internal/progress"
	"github.com/rs/zerolog"
)

// Extension is appended to the directory name to form the archive name.
const Extension = ".zip"

// Service defines the interface for archive operations.
type Service interface {
	Archive(ctx context.Context, dir string) (*models.ArchiveResult, error)
}

// Impl implements the archive Service interface.
type Impl struct {
	logger    zerolog.Logger
	outputDir string
	progress  models.ProgressFunc
}

// New creates a new archive service writing into outputDir.
// An empty outputDir means the current working directory.
func New(logger zerolog.Logger, outputDir string) *Impl {
	return &Impl{
		logger:    logger,
		outputDir: outputDir,
		progress:  progress.Nop,
	}
}

// WithProgress sets the callback that receives bytes archived so far.
func (s *Impl) WithProgress(fn models.ProgressFunc) *Impl {
	s.progress = progress.OrNop(fn)
	return s
}

// OutputPath returns where the archive of dir would be written.
func (s *Impl) OutputPath(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	base := filepath.Base(absDir)
	if base == string(filepath.Separator) || base == "." {
		return "", errors.New("cannot archive the filesystem root")
	}

	outDir := s.outputDir
	if outDir == "" {
		if outDir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	if outDir, err = filepath.Abs(outDir); err != nil {
		return "", err
	}

	return filepath.Join(outDir, base+Extension), nil
}

// Archive zips dir into <basename(dir)>.zip. Entry names are relative to the
// parent of dir, so the archive's top-level entry is the directory itself.
// The archive only appears under its final name once it is complete.
func (s *Impl) Archive(ctx context.Context, dir string) (*models.ArchiveResult, error) {
	start := time.Now()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, &models.NotFoundError{Path: dir, Kind: models.TargetDirectory}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, &models.ArchiveError{Dir: dir, Err: err}
	}
	outPath, err := s.OutputPath(absDir)
	if err != nil {
		return nil, &models.ArchiveError{Dir: dir, Err: err}
	}

	// WalkDir does not follow a symlinked root.
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return nil, &models.ArchiveError{Dir: dir, Err: err}
	}
	skip, err := resolveOutput(outPath)
	if err != nil {
		return nil, &models.ArchiveError{Dir: dir, Err: err}
	}

	result := &models.ArchiveResult{Path: outPath, SourceDir: dir}

	files, total, err := s.scan(root, skip)
	if err != nil {
		return nil, &models.ArchiveError{Dir: dir, Err: fmt.Errorf("scanning directory: %w", err)}
	}
	result.Files = files
	result.SourceBytes = total

	s.logger.Info().
		Str("directory", dir).
		Str("archive", outPath).
		Int("files", files).
		Int64("size", total).
		Msg("archiving directory")

	if err := s.write(ctx, root, filepath.Base(absDir), outPath, total); err != nil {
		return nil, &models.ArchiveError{Dir: dir, Err: err}
	}

	if st, err := os.Stat(outPath); err == nil {
		result.ArchiveBytes = st.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("archive", outPath).
		Int64("archive_size", result.ArchiveBytes).
		Dur("duration", result.Duration).
		Msg("directory archived")

	return result, nil
}

// scan counts regular files under root and sums their sizes.
func (s *Impl) scan(root, skip string) (int, int64, error) {
	var files int
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == skip || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		total += info.Size()
		return nil
	})
	return files, total, err
}

// resolveOutput returns outPath with its directory's symlinks resolved, so it
// compares equal to the same file reached by walking a resolved tree.
func resolveOutput(outPath string) (string, error) {
	dir, err := filepath.EvalSymlinks(filepath.Dir(outPath))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(outPath)), nil
}

// write zips root into outPath with entry names rooted at base.
func (s *Impl) write(ctx context.Context, root, base, outPath string, total int64) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	skipOut, err := resolveOutput(outPath)
	if err != nil {
		return fmt.Errorf("resolving archive path: %w", err)
	}
	skipTmp := filepath.Join(filepath.Dir(skipOut), filepath.Base(tmpPath))

	zw := zip.NewWriter(tmp)
	var processed int64

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == skipOut || p == skipTmp {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := path.Join(base, filepath.ToSlash(rel))

		switch {
		case d.IsDir():
			return addDir(zw, d, name)
		case d.Type().IsRegular():
			n, err := s.addFile(zw, p, d, name, func(done, _ int64) {
				s.progress(processed+done, total)
			})
			processed += n
			return err
		default:
			s.logger.Debug().Str("path", p).Msg("skipping non-regular file")
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}

	if err = zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting archive permissions: %w", err)
	}
	if err = os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("renaming archive: %w", err)
	}
	return nil
}

func addDir(zw *zip.Writer, d fs.DirEntry, name string) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name + "/"
	hdr.Method = zip.Store
	_, err = zw.CreateHeader(hdr)
	return err
}

func (s *Impl) addFile(zw *zip.Writer, p string, d fs.DirEntry, name string, fn models.ProgressFunc) (int64, error) {
	info, err := d.Info()
	if err != nil {
		return 0, err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	return io.Copy(w, progress.NewReader(f, info.Size(), fn))
}
