package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

type archiveExtractor func(f *os.File, bar *progressbar.ProgressBar, dest string, strip int) error

// supportedFormats lists the archive suffixes in the order they're checked
var supportedFormats = []string{".zip", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz"}

func getExtractor(url string) (archiveExtractor, error) {
	// ignore query strings and fragments
	if pos := strings.IndexAny(url, "?#"); pos > -1 {
		url = url[:pos]
	}

	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, dest string, strip int) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, bar, dest, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, dest string, strip int) error {
			return extractTar(bzip2.NewReader(f), f, bar, dest, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, dest string, strip int) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open xz stream")
			}

			return extractTar(reader, f, bar, dest, strip)
		}, nil
	}

	return nil, eris.Errorf("archive format of %s not supported, expected one of %s", url, strings.Join(supportedFormats, ", "))
}

// destPath strips the leading path elements from an archive entry and joins the rest to
// dest. An empty result means the entry was stripped entirely.
func destPath(dest, item string, strip int) (string, error) {
	parts := strings.Split(strings.Trim(filepath.ToSlash(filepath.Clean(item)), "/"), "/")
	if len(parts) <= strip {
		return "", nil
	}

	result := filepath.Join(dest, filepath.FromSlash(strings.Join(parts[strip:], "/")))
	if result != dest && !strings.HasPrefix(result, dest+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %s points outside of the destination", item)
	}
	return result, nil
}

// checkLinkTarget rejects symlinks that are absolute or resolve to a path outside of dest
func checkLinkTarget(dest, path, target string) error {
	if filepath.IsAbs(target) || strings.HasPrefix(filepath.ToSlash(target), "/") {
		return eris.Errorf("symlink %s has an absolute target %s", path, target)
	}

	resolved := filepath.Join(filepath.Dir(path), filepath.FromSlash(target))
	if resolved != dest && !strings.HasPrefix(resolved, dest+string(filepath.Separator)) {
		return eris.Errorf("symlink %s points outside of the destination (%s)", path, target)
	}
	return nil
}

func createDest(path string, mode os.FileMode) (*os.File, error) {
	parent := filepath.Dir(path)
	err := os.MkdirAll(parent, 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create directory %s", parent)
	}

	handle, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create file %s", path)
	}
	return handle, nil
}

func updateBar(f *os.File, bar *progressbar.ProgressBar) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		_ = bar.Set64(pos)
	}
}

func copyEntry(path string, mode os.FileMode, src io.Reader) error {
	handle, err := createDest(path, mode)
	if err != nil {
		return err
	}
	defer handle.Close()

	_, err = io.Copy(handle, src)
	if err != nil {
		return eris.Wrapf(err, "failed to write extracted file %s", path)
	}

	return handle.Close()
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, dest string, strip int) error {
	stat, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "failed to read archive size")
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "failed to open zip archive")
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		path, err := destPath(dest, item.Name, strip)
		if err != nil {
			return err
		}
		if path == "" {
			continue
		}

		reader, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
		}

		mode := item.Mode().Perm()
		if mode == 0 {
			mode = 0o660
		}

		err = copyEntry(path, mode, reader)
		reader.Close()
		if err != nil {
			return err
		}

		updateBar(f, bar)
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, dest string, strip int) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return eris.Wrap(err, "failed to read archive entry")
		}

		path, err := destPath(dest, item.Name, strip)
		if err != nil {
			return err
		}
		if path == "" {
			continue
		}

		switch item.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(path, 0o770)
			if err != nil {
				return eris.Wrapf(err, "failed to create directory %s", path)
			}
		case tar.TypeSymlink:
			err = checkLinkTarget(dest, path, item.Linkname)
			if err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(path), 0o770)
			if err != nil {
				return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(path))
			}

			_ = os.Remove(path)
			err = os.Symlink(item.Linkname, path)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", path, item.Linkname)
			}
		case tar.TypeReg, tar.TypeRegA:
			err = copyEntry(path, item.FileInfo().Mode().Perm()|0o600, archive)
			if err != nil {
				return err
			}
		}

		updateBar(f, bar)
	}

	return nil
}
