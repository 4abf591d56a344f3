package source

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// maxEntrySize caps a single extracted file.
const maxEntrySize = 1 << 30

// ExpandArchive expands the zip at archivePath into destDir and returns the
// sorted top-level entries of destDir. The archive is deleted once expansion
// succeeds. Every failure is a StageError.
func ExpandArchive(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, engine.NewStageError("failed to open archive", err)
	}

	base, err := filepath.Abs(destDir)
	if err != nil {
		_ = zr.Close()
		return nil, engine.NewStageError("failed to resolve destination", err)
	}

	top := make(map[string]struct{})
	for _, f := range zr.File {
		name, err := safeJoin(base, f.Name)
		if err != nil {
			_ = zr.Close()
			return nil, engine.NewStageError("unsafe archive entry", err)
		}
		if first := strings.SplitN(strings.TrimLeft(filepath.ToSlash(f.Name), "/"), "/", 2)[0]; first != "" {
			top[first] = struct{}{}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(name, 0o755); err != nil {
				_ = zr.Close()
				return nil, engine.NewStageError("failed to create directory", err)
			}
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			// Symlinks may point outside the workspace.
			continue
		}
		if err := extractFile(f, name); err != nil {
			_ = zr.Close()
			return nil, engine.NewStageError("failed to extract "+f.Name, err)
		}
	}

	if err := zr.Close(); err != nil {
		return nil, engine.NewStageError("failed to close archive", err)
	}
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return nil, engine.NewStageError("failed to delete archive", err)
	}

	entries := make([]string, 0, len(top))
	for name := range top {
		entries = append(entries, name)
	}
	sort.Strings(entries)
	return entries, nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxEntrySize+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if n > maxEntrySize {
		return fmt.Errorf("entry exceeds %d bytes", maxEntrySize)
	}
	return nil
}

// safeJoin joins name under base and rejects paths that escape it.
func safeJoin(base, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute path %q", name)
	}
	target := filepath.Join(base, filepath.FromSlash(name))
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes destination", name)
	}
	return target, nil
}
